package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/causalgo/dml"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// 既定のキャンバスサイズ
const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// BootstrapHistogram draws the bootstrap t-statistics of treatment j, pooled
// over repetitions, as a density histogram with the standard normal density
// on top.
func BootstrapHistogram(b *dml.BootstrapResult, j int, treatment string, bins int) (*plot.Plot, error) {
	if b == nil || j < 0 || j >= len(b.TStat) {
		return nil, errors.NewValidationError("treatment", "no bootstrap draws for this treatment", j)
	}
	if bins < 1 {
		return nil, errors.NewValidationError("bins", "must be positive", bins)
	}

	var values plotter.Values
	for rep := range b.TStat[j][0] {
		values = append(values, b.TStatDraws(j, rep)...)
	}
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, errors.Wrap(err, "histogram")
	}
	hist.Normalize(1)
	hist.FillColor = color.Gray{Y: 200}

	normal := plotter.NewFunction(distuv.UnitNormal.Prob)
	normal.Color = color.RGBA{R: 200, A: 255}
	normal.Width = vg.Points(1.5)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s bootstrap t-statistics (%s, %d draws)", treatment, b.Method, b.NRepBoot)
	p.X.Label.Text = "t"
	p.Y.Label.Text = "density"
	p.Add(hist, normal)
	p.Legend.Add("bootstrap", hist)
	p.Legend.Add("N(0, 1)", normal)
	return p, nil
}

// coefBars pairs point estimates with asymmetric interval half-widths.
type coefBars struct {
	plotter.XYs
	plotter.YErrors
}

// CoefficientPlot draws one point per treatment with its confidence interval.
// intervals must be aligned with rows; nil uses the 95% intervals of rows.
func CoefficientPlot(rows []dml.SummaryRow, intervals [][2]float64) (*plot.Plot, error) {
	if len(rows) == 0 {
		return nil, errors.NewValueError("CoefficientPlot", "no coefficients")
	}
	if intervals != nil && len(intervals) != len(rows) {
		return nil, errors.NewDimensionError("CoefficientPlot", len(rows), len(intervals), 0)
	}

	bars := coefBars{
		XYs:     make(plotter.XYs, len(rows)),
		YErrors: make(plotter.YErrors, len(rows)),
	}
	names := make([]string, len(rows))
	for j, row := range rows {
		lo, hi := row.Lower, row.Upper
		if intervals != nil {
			lo, hi = intervals[j][0], intervals[j][1]
		}
		bars.XYs[j].X = float64(j)
		bars.XYs[j].Y = row.Coef
		bars.YErrors[j].Low = row.Coef - lo
		bars.YErrors[j].High = hi - row.Coef
		names[j] = row.Treatment
	}

	errBars, err := plotter.NewYErrorBars(bars)
	if err != nil {
		return nil, errors.Wrap(err, "error bars")
	}
	points, err := plotter.NewScatter(bars.XYs)
	if err != nil {
		return nil, errors.Wrap(err, "points")
	}
	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}

	p := plot.New()
	p.Title.Text = "coefficients"
	p.Y.Label.Text = "estimate"
	p.Add(zero, errBars, points)
	p.NominalX(names...)
	return p, nil
}

// Save writes p to path; the extension selects the format.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

// Render writes p to w as "png", "svg", "pdf" or "eps".
func Render(w io.Writer, p *plot.Plot, format string) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return errors.Wrapf(err, "render %s", format)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return errors.Wrap(err, "write plot")
	}
	return nil
}
