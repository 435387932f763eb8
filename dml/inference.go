package dml

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// TStat returns coef / se per treatment.
func (d *DoubleML) TStat() ([]float64, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "TStat"); err != nil {
		return nil, err
	}
	out := make([]float64, len(d.est.Coef))
	for j := range out {
		out[j] = d.est.Coef[j] / d.est.SE[j]
	}
	return out, nil
}

// PValue returns two-sided p-values under the normal approximation.
func (d *DoubleML) PValue() ([]float64, error) {
	t, err := d.TStat()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t))
	for j, v := range t {
		out[j] = 2 * distuv.UnitNormal.Survival(math.Abs(v))
	}
	return out, nil
}

// ConfInt returns [lower, upper] per treatment at the given level.
// Pointwise intervals use the normal quantile. Joint intervals use, per
// repetition, the level quantile of max_j |t_j| over the bootstrap draws and
// the median of those critical values over repetitions; they need a
// previous Bootstrap call.
func (d *DoubleML) ConfInt(level float64, joint bool) ([][2]float64, error) {
	if level <= 0 || level >= 1 {
		return nil, errors.NewValidationError("level", "must be in (0, 1)", level)
	}
	if err := d.state.RequireFitted(d.model.modelName(), "ConfInt"); err != nil {
		return nil, err
	}

	crit := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	if joint {
		if d.boot == nil {
			return nil, errors.NewNotFittedError(d.model.modelName()+" bootstrap", "ConfInt(joint)")
		}
		var err error
		crit, err = jointCriticalValue(d.boot, level, d.partition.NRep())
		if err != nil {
			return nil, err
		}
	}

	out := make([][2]float64, len(d.est.Coef))
	for j := range out {
		out[j] = [2]float64{d.est.Coef[j] - crit*d.est.SE[j], d.est.Coef[j] + crit*d.est.SE[j]}
	}
	return out, nil
}

func jointCriticalValue(b *BootstrapResult, level float64, nRep int) (float64, error) {
	crits := make([]float64, nRep)
	for r := 0; r < nRep; r++ {
		maxAbs := make([]float64, b.NRepBoot)
		for draw := 0; draw < b.NRepBoot; draw++ {
			m := 0.0
			for j := range b.TStat {
				m = math.Max(m, math.Abs(b.TStat[j][draw][r]))
			}
			maxAbs[draw] = m
		}
		sort.Float64s(maxAbs)
		crits[r] = stat.Quantile(level, stat.Empirical, maxAbs, nil)
	}
	c, err := stats.Median(stats.Float64Data(crits))
	if err != nil {
		return nan, errors.Wrap(err, "median of critical values")
	}
	return c, nil
}

// SummaryRow is one line of the coefficient table.
type SummaryRow struct {
	Treatment string  `json:"treatment" yaml:"treatment"`
	Coef      float64 `json:"coef" yaml:"coef"`
	SE        float64 `json:"std_err" yaml:"std_err"`
	T         float64 `json:"t" yaml:"t"`
	P         float64 `json:"p_value" yaml:"p_value"`
	Lower     float64 `json:"ci_lower" yaml:"ci_lower"`
	Upper     float64 `json:"ci_upper" yaml:"ci_upper"`
}

// Summary returns the coefficient table with pointwise 95% intervals.
func (d *DoubleML) Summary() ([]SummaryRow, error) {
	t, err := d.TStat()
	if err != nil {
		return nil, err
	}
	p, err := d.PValue()
	if err != nil {
		return nil, err
	}
	ci, err := d.ConfInt(0.95, false)
	if err != nil {
		return nil, err
	}
	rows := make([]SummaryRow, len(t))
	for j := range rows {
		rows[j] = SummaryRow{
			Treatment: d.data.dCols[j],
			Coef:      d.est.Coef[j],
			SE:        d.est.SE[j],
			T:         t[j],
			P:         p[j],
			Lower:     ci[j][0],
			Upper:     ci[j][1],
		}
	}
	return rows, nil
}

// PAdjust returns multiplicity-adjusted p-values ("bonferroni" or "holm").
func (d *DoubleML) PAdjust(method string) ([]float64, error) {
	p, err := d.PValue()
	if err != nil {
		return nil, err
	}
	return AdjustPValues(p, method)
}

// AdjustPValues applies the Bonferroni or Holm step-down correction.
func AdjustPValues(p []float64, method string) ([]float64, error) {
	m := float64(len(p))
	out := make([]float64, len(p))
	switch method {
	case "bonferroni":
		for i, v := range p {
			out[i] = math.Min(1, v*m)
		}
	case "holm":
		order := make([]int, len(p))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })
		running := 0.0
		for rank, i := range order {
			adj := math.Min(1, (m-float64(rank))*p[i])
			running = math.Max(running, adj)
			out[i] = running
		}
	default:
		return nil, errors.NewValidationError("method", "valid methods are 'bonferroni' and 'holm'", method)
	}
	return out, nil
}
