package report

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/causalgo/dml"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Source is a fitted model. *dml.PLR, *dml.PLIV and *dml.IIVM satisfy it.
type Source interface {
	Name() string
	ID() string
	Data() *dml.Data
	ScoreName() string
	Procedure() dml.Procedure
	NFolds() int
	NRep() int
	Summary() ([]dml.SummaryRow, error)
	Estimate() (*dml.Estimate, error)
	ConfInt(level float64, joint bool) ([][2]float64, error)
	PAdjust(method string) ([]float64, error)
	BootstrapResult() (*dml.BootstrapResult, error)
}

// Report is the serialisable outcome of one fit.
type Report struct {
	Model        string           `json:"model" yaml:"model"`
	ID           string           `json:"id" yaml:"id"`
	Score        string           `json:"score" yaml:"score"`
	Procedure    string           `json:"dml_procedure" yaml:"dml_procedure"`
	NObs         int              `json:"n_obs" yaml:"n_obs"`
	NFolds       int              `json:"n_folds" yaml:"n_folds"`
	NRep         int              `json:"n_rep" yaml:"n_rep"`
	Level        float64          `json:"level" yaml:"level"`
	Coefficients []dml.SummaryRow `json:"coefficients" yaml:"coefficients"`
	PHolm        []float64        `json:"p_holm" yaml:"p_holm"`
	Repetitions  []Repetition     `json:"repetitions" yaml:"repetitions"`
	Bootstrap    *Bootstrap       `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`
}

// Repetition is the estimate of one treatment in one cross-fitting repetition.
type Repetition struct {
	Treatment string  `json:"treatment" yaml:"treatment"`
	Rep       int     `json:"rep" yaml:"rep"`
	Coef      float64 `json:"coef" yaml:"coef"`
	SE        float64 `json:"std_err" yaml:"std_err"`
}

// Interval is a confidence interval of one treatment.
type Interval struct {
	Treatment string  `json:"treatment" yaml:"treatment"`
	Lower     float64 `json:"lower" yaml:"lower"`
	Upper     float64 `json:"upper" yaml:"upper"`
}

// Bootstrap summarises the last multiplier bootstrap.
type Bootstrap struct {
	Method   string `json:"method" yaml:"method"`
	NRepBoot int    `json:"n_rep_boot" yaml:"n_rep_boot"`
	Seed     int64  `json:"seed" yaml:"seed"`
	// Joint holds the simultaneous intervals at Report.Level.
	Joint []Interval `json:"joint_intervals" yaml:"joint_intervals"`
	// TStat holds the (1-level)/2 and (1+level)/2 quantiles of the
	// bootstrap t-statistics, pooled over repetitions.
	TStat []Interval `json:"t_stat_quantiles" yaml:"t_stat_quantiles"`
}

// New collects the estimates of src. The coefficient table keeps its 95%
// intervals; level applies to the joint bootstrap intervals.
func New(src Source, level float64) (*Report, error) {
	if level <= 0 || level >= 1 {
		return nil, errors.NewValidationError("level", "must be in (0, 1)", level)
	}
	rows, err := src.Summary()
	if err != nil {
		return nil, err
	}
	est, err := src.Estimate()
	if err != nil {
		return nil, err
	}
	holm, err := src.PAdjust("holm")
	if err != nil {
		return nil, err
	}

	r := &Report{
		Model:        src.Name(),
		ID:           src.ID(),
		Score:        src.ScoreName(),
		Procedure:    string(src.Procedure()),
		NObs:         src.Data().N(),
		NFolds:       src.NFolds(),
		NRep:         src.NRep(),
		Level:        level,
		Coefficients: rows,
		PHolm:        holm,
	}
	for j, row := range rows {
		for rep := range est.AllCoef[j] {
			r.Repetitions = append(r.Repetitions, Repetition{
				Treatment: row.Treatment,
				Rep:       rep,
				Coef:      est.AllCoef[j][rep],
				SE:        est.AllSE[j][rep],
			})
		}
	}

	boot, err := src.BootstrapResult()
	if err != nil {
		// ブートストラップ未実行
		return r, nil
	}
	joint, err := src.ConfInt(level, true)
	if err != nil {
		return nil, err
	}
	r.Bootstrap = &Bootstrap{
		Method:   string(boot.Method),
		NRepBoot: boot.NRepBoot,
		Seed:     boot.Seed,
	}
	for j, row := range rows {
		r.Bootstrap.Joint = append(r.Bootstrap.Joint, Interval{row.Treatment, joint[j][0], joint[j][1]})
		lo, hi := tstatQuantiles(boot, j, level)
		r.Bootstrap.TStat = append(r.Bootstrap.TStat, Interval{row.Treatment, lo, hi})
	}
	return r, nil
}

func tstatQuantiles(b *dml.BootstrapResult, j int, level float64) (float64, float64) {
	var pooled []float64
	nRep := 0
	if b.NRepBoot > 0 {
		nRep = len(b.TStat[j][0])
	}
	for rep := 0; rep < nRep; rep++ {
		pooled = append(pooled, b.TStatDraws(j, rep)...)
	}
	sort.Float64s(pooled)
	return stat.Quantile((1-level)/2, stat.Empirical, pooled, nil),
		stat.Quantile((1+level)/2, stat.Empirical, pooled, nil)
}

// Write encodes r as JSON (indented) or YAML.
func (r *Report) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		if err := e.Encode(r); err != nil {
			return errors.Wrap(err, "encode json")
		}
		return nil
	case FormatYAML, "yml":
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		defer e.Close()
		if err := e.Encode(r); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return nil
	default:
		return errors.NewValidationError("format", "valid formats are 'json' and 'yaml'", format)
	}
}
