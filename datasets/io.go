package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/dml"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// Columns assigns table headers to the roles of dml.Data. When X is empty
// every column not used elsewhere becomes a covariate.
type Columns struct {
	Y       string   `yaml:"y"`
	D       []string `yaml:"d"`
	X       []string `yaml:"x,omitempty"`
	Z       []string `yaml:"z,omitempty"`
	Cluster []string `yaml:"cluster,omitempty"`
}

// Load reads a .csv or .xlsx file. Spreadsheets are read from their first sheet.
func Load(path string, cols Columns, opts ...dml.DataOption) (*dml.Data, error) {
	logger := log.GetLoggerWithName("datasets")
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var data *dml.Data
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		data, err = ReadCSV(f, cols, opts...)
	case ".xlsx":
		data, err = ReadXLSX(f, "", cols, opts...)
	default:
		return nil, errors.NewValidationError("path", "unsupported file type (want .csv or .xlsx)", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}

	logger.Debug("table loaded",
		"path", path,
		log.SamplesKey, data.N(),
		log.FeaturesKey, data.NCovariates(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return data, nil
}

// ReadCSV parses a CSV table with a header row.
func ReadCSV(r io.Reader, cols Columns, opts ...dml.DataOption) (*dml.Data, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	return FromRecords(records, cols, opts...)
}

// ReadXLSX parses a spreadsheet. An empty sheet name selects the first sheet.
func ReadXLSX(r io.Reader, sheet string, cols Columns, opts ...dml.DataOption) (*dml.Data, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open xlsx")
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("xlsx has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %s", sheet)
	}
	return FromRecords(rows, cols, opts...)
}

// FromRecords builds dml.Data from a header row followed by data rows.
func FromRecords(records [][]string, cols Columns, opts ...dml.DataOption) (*dml.Data, error) {
	if len(records) < 2 {
		return nil, errors.NewValueError("FromRecords", "need a header row and at least one data row")
	}
	index := make(map[string]int, len(records[0]))
	for j, h := range records[0] {
		index[strings.TrimSpace(h)] = j
	}

	if cols.Y == "" || len(cols.D) == 0 {
		return nil, errors.NewValidationError("columns", "y and d must be named", cols)
	}
	xCols := cols.X
	if len(xCols) == 0 {
		xCols = remainingColumns(records[0], cols)
	}

	rows := records[1:]
	y, err := extract(rows, index, []string{cols.Y})
	if err != nil {
		return nil, err
	}
	d, err := extract(rows, index, cols.D)
	if err != nil {
		return nil, err
	}
	x, err := extract(rows, index, xCols)
	if err != nil {
		return nil, err
	}

	var all []dml.DataOption
	if len(cols.Z) > 0 {
		z, err := extract(rows, index, cols.Z)
		if err != nil {
			return nil, err
		}
		all = append(all, dml.WithInstruments(z))
	}
	if len(cols.Cluster) > 0 {
		cl, err := extract(rows, index, cols.Cluster)
		if err != nil {
			return nil, err
		}
		all = append(all, dml.WithClusters(cl), dml.WithClusterNames(cols.Cluster))
	}
	all = append(all, dml.WithColumnNames(cols.Y, cols.D, xCols, cols.Z))
	return dml.NewData(mat.Col(nil, 0, y), d, x, append(all, opts...)...)
}

func remainingColumns(header []string, cols Columns) []string {
	used := map[string]bool{cols.Y: true}
	for _, group := range [][]string{cols.D, cols.Z, cols.Cluster} {
		for _, c := range group {
			used[c] = true
		}
	}
	var out []string
	for _, h := range header {
		h = strings.TrimSpace(h)
		if !used[h] {
			out = append(out, h)
		}
	}
	return out
}

// extract parses the named columns into an n × len(names) matrix.
func extract(rows [][]string, index map[string]int, names []string) (*mat.Dense, error) {
	if len(names) == 0 {
		return nil, errors.NewValueError("extract", "no columns selected")
	}
	out := mat.NewDense(len(rows), len(names), nil)
	for k, name := range names {
		j, ok := index[name]
		if !ok {
			return nil, errors.NewValidationError("column", "not found in header", name)
		}
		for i, row := range rows {
			// スプレッドシートは末尾の空セルを落とす
			if j >= len(row) || strings.TrimSpace(row[j]) == "" {
				return nil, errors.Newf("row %d: missing value in column %q", i+2, name)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d column %q", i+2, name)
			}
			out.Set(i, k, v)
		}
	}
	return out, nil
}

// Records renders data as a header row plus one row per observation, in the
// order y, d, x, z, cluster.
func Records(data *dml.Data) [][]string {
	header := []string{data.YCol()}
	header = append(header, data.DCols()...)
	header = append(header, data.XCols()...)
	header = append(header, data.ZCols()...)
	header = append(header, data.ClusterCols()...)

	var blocks []*mat.Dense
	for j := 0; j < data.NTreat(); j++ {
		blocks = append(blocks, mat.NewDense(data.N(), 1, data.D(j)))
	}
	blocks = append(blocks, data.X())
	if data.NInstr() > 0 {
		blocks = append(blocks, data.ZMatrix())
	}
	if data.IsClustered() {
		blocks = append(blocks, data.Cluster())
	}

	y := data.Y()
	records := make([][]string, 0, data.N()+1)
	records = append(records, header)
	for i := 0; i < data.N(); i++ {
		row := make([]string, 0, len(header))
		row = append(row, formatFloat(y[i]))
		for _, b := range blocks {
			_, c := b.Dims()
			for k := 0; k < c; k++ {
				row = append(row, formatFloat(b.At(i, k)))
			}
		}
		records = append(records, row)
	}
	return records
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteCSV writes data in the layout of Records.
func WriteCSV(w io.Writer, data *dml.Data) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Records(data)); err != nil {
		return errors.Wrap(err, "write csv")
	}
	return nil
}

// WriteXLSX writes data in the layout of Records to a single sheet.
func WriteXLSX(w io.Writer, data *dml.Data) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]

	for i, rec := range Records(data) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		row := make([]interface{}, len(rec))
		for k, s := range rec {
			if i == 0 {
				row[k] = s
				continue
			}
			v, _ := strconv.ParseFloat(s, 64)
			row[k] = v
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}
	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "write xlsx")
	}
	return nil
}
