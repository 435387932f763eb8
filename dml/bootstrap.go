package dml

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/causalgo/core/parallel"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// BootstrapMethod is the multiplier weight distribution.
type BootstrapMethod string

const (
	// BootNormal draws i.i.d. standard normal weights.
	BootNormal BootstrapMethod = "normal"
	// BootBayes draws Exp(1) - 1 weights.
	BootBayes BootstrapMethod = "Bayes"
	// BootWild draws Rademacher ±1 weights.
	BootWild BootstrapMethod = "wild"
)

// ParseBootstrapMethod validates a method name.
func ParseBootstrapMethod(name string) (BootstrapMethod, error) {
	switch m := BootstrapMethod(name); m {
	case BootNormal, BootBayes, BootWild:
		return m, nil
	}
	return "", errors.NewValidationError("method", "valid bootstrap methods are 'normal', 'Bayes' and 'wild'", name)
}

// parallelDrawThreshold is the number of draws below which the per-draw
// statistics are computed sequentially.
const parallelDrawThreshold = 256

// bootstrapSource returns the weight source of repetition rep.
func bootstrapSource(seed int64, rep int) rand.Source {
	return rand.NewPCG(uint64(seed), uint64(rep))
}

// DrawWeights draws an nRepBoot × nObs weight matrix from src, row by row.
func DrawWeights(method BootstrapMethod, nRepBoot, nObs int, src rand.Source) (*mat.Dense, error) {
	if nRepBoot < 1 {
		return nil, errors.NewValidationError("n_rep_boot", "must be at least 1", nRepBoot)
	}
	var draw func() float64
	switch method {
	case BootNormal:
		d := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		draw = d.Rand
	case BootBayes:
		d := distuv.Exponential{Rate: 1, Src: src}
		draw = func() float64 { return d.Rand() - 1 }
	case BootWild:
		d := distuv.Bernoulli{P: 0.5, Src: src}
		draw = func() float64 { return 2*d.Rand() - 1 }
	default:
		return nil, errors.NewValidationError("method", "valid bootstrap methods are 'normal', 'Bayes' and 'wild'", string(method))
	}

	w := mat.NewDense(nRepBoot, nObs, nil)
	for b := 0; b < nRepBoot; b++ {
		row := w.RawRowView(b)
		for i := range row {
			row[i] = draw()
		}
	}
	return w, nil
}

// bootstrapDraws computes the bootstrap coefficients and t-statistics of one
// repetition and treatment. Column c of weights belongs to observation
// testInds[c].
//
// DML1: Σ_{test_k} w·psi / (|test_k|·J_k), averaged over folds.
// DML2: Σ w·psi / (n·J) with J = mean(psi_deriv) on the pooled test rows.
func bootstrapDraws(weights *mat.Dense, psi, psiDeriv []float64, folds []msel.Fold, testInds []int,
	procedure Procedure, se float64, nWorkers int) (coef, tstat []float64) {
	nRepBoot, _ := weights.Dims()
	coef = make([]float64, nRepBoot)
	tstat = make([]float64, nRepBoot)

	pos := make(map[int]int, len(testInds))
	for c, i := range testInds {
		pos[i] = c
	}

	// 各フォールドの J は全ドローで共通
	var jFold []float64
	var jPooled float64
	if procedure == DML1 {
		jFold = make([]float64, len(folds))
		for k, f := range folds {
			jFold[k] = meanAt(psiDeriv, f.Test)
		}
	} else {
		jPooled = meanAt(psiDeriv, testInds)
	}

	parallel.ParallelizeWithThreshold(nRepBoot, parallelDrawThreshold, nWorkers, func(start, end int) {
		for b := start; b < end; b++ {
			w := weights.RawRowView(b)
			var theta float64
			if procedure == DML1 {
				for k, f := range folds {
					s := 0.0
					for _, i := range f.Test {
						s += w[pos[i]] * psi[i]
					}
					theta += s / (float64(len(f.Test)) * jFold[k])
				}
				theta /= float64(len(folds))
			} else {
				s := 0.0
				for c, i := range testInds {
					s += w[c] * psi[i]
				}
				theta = s / (float64(len(testInds)) * jPooled)
			}
			coef[b] = theta
			tstat[b] = theta / se
		}
	})
	return coef, tstat
}

// BootstrapResult holds the multiplier bootstrap distribution. Coef and TStat
// are indexed [treatment][draw][repetition]. A new Fit invalidates it.
type BootstrapResult struct {
	Method   BootstrapMethod
	NRepBoot int
	Seed     int64
	Coef     [][][]float64
	TStat    [][][]float64
}

// CoefDraws returns the bootstrap coefficients of treatment j in repetition r.
func (b *BootstrapResult) CoefDraws(j, r int) []float64 {
	out := make([]float64, b.NRepBoot)
	for d := range out {
		out[d] = b.Coef[j][d][r]
	}
	return out
}

// TStatDraws returns the bootstrap t-statistics of treatment j in repetition r.
func (b *BootstrapResult) TStatDraws(j, r int) []float64 {
	out := make([]float64, b.NRepBoot)
	for d := range out {
		out[d] = b.TStat[j][d][r]
	}
	return out
}
