package dml

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	msel "github.com/YuminosukeSato/causalgo/model_selection"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}

func normalMatrix(rng *rand.Rand, n, p int) *mat.Dense {
	out := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			out.Set(i, j, rng.NormFloat64())
		}
	}
	return out
}

func column(v []float64) *mat.Dense {
	return mat.NewDense(len(v), 1, append([]float64(nil), v...))
}

// simulatePLR draws y = θ·d + x·b + noise·e, d = x·a + v with linear nuisances.
func simulatePLR(t *testing.T, n, p int, theta, noise float64, seed uint64) *Data {
	t.Helper()
	rng := newRNG(seed)
	x := normalMatrix(rng, n, p)
	y := make([]float64, n)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		var xa, xb float64
		for j := 0; j < p; j++ {
			xa += x.At(i, j) / float64(j+1)
			xb += x.At(i, j) * 0.5 * float64(j%3+1)
		}
		d[i] = xa + rng.NormFloat64()
		y[i] = theta*d[i] + xb + noise*rng.NormFloat64()
	}
	data, err := NewData(y, column(d), x)
	require.NoError(t, err)
	return data
}

// simulatePLRMulti draws two correlated treatments with effects theta[0] and theta[1].
func simulatePLRMulti(t *testing.T, n, p int, theta [2]float64, seed uint64) *Data {
	t.Helper()
	rng := newRNG(seed)
	x := normalMatrix(rng, n, p)
	y := make([]float64, n)
	d := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		d1 := x.At(i, 0) + rng.NormFloat64()
		d2 := 0.5*d1 - x.At(i, 1) + rng.NormFloat64()
		d.Set(i, 0, d1)
		d.Set(i, 1, d2)
		y[i] = theta[0]*d1 + theta[1]*d2 + x.At(i, 0) - x.At(i, 2) + rng.NormFloat64()
	}
	data, err := NewData(y, d, x)
	require.NoError(t, err)
	return data
}

// simulateIIVM follows the usual LATE design: z ~ Bernoulli(0.5),
// (u, v) jointly normal with correlation 0.3, d = 1{alphaX·z + v > 0},
// y = θ·d + x·β + u with β_k = 1/k².
func simulateIIVM(t *testing.T, n, p int, theta, alphaX float64, seed uint64) *Data {
	t.Helper()
	rng := newRNG(seed)
	x := normalMatrix(rng, n, p)
	y := make([]float64, n)
	d := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.5 {
			z[i] = 1
		}
		u := rng.NormFloat64()
		v := 0.3*u + math.Sqrt(1-0.09)*rng.NormFloat64()
		if alphaX*z[i]+v > 0 {
			d[i] = 1
		}
		y[i] = theta * d[i]
		for j := 0; j < p; j++ {
			y[i] += x.At(i, j) / float64((j+1)*(j+1))
		}
		y[i] += u
	}
	data, err := NewData(y, column(d), x, WithInstruments(column(z)))
	require.NoError(t, err)
	return data
}

// simulatePLIV draws nInstr instruments z_k = x·c_k + η_k and an endogenous
// treatment whose error is correlated with the outcome error.
func simulatePLIV(t *testing.T, n, p, nInstr int, theta float64, seed uint64) *Data {
	t.Helper()
	rng := newRNG(seed)
	x := normalMatrix(rng, n, p)
	z := mat.NewDense(n, nInstr, nil)
	y := make([]float64, n)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		e := rng.NormFloat64()
		d[i] = x.At(i, 0) + 0.5*e + rng.NormFloat64()
		for k := 0; k < nInstr; k++ {
			zk := 0.5*x.At(i, (k+1)%p) + rng.NormFloat64()
			z.Set(i, k, zk)
			d[i] += 0.8 * zk / float64(k+1)
		}
		y[i] = theta*d[i] + x.At(i, 0) - 0.5*x.At(i, 1) + e
	}
	data, err := NewData(y, column(d), x, WithInstruments(z))
	require.NoError(t, err)
	return data
}

// simulateClusteredPLIV draws n1 × n2 observations, one per cell of two
// crossed cluster variables, with shocks shared along both dimensions.
func simulateClusteredPLIV(t *testing.T, n1, n2, p int, theta float64, twoWay bool, seed uint64) *Data {
	t.Helper()
	rng := newRNG(seed)
	n := n1 * n2
	rowShock := make([]float64, n1)
	colShock := make([]float64, n2)
	for i := range rowShock {
		rowShock[i] = rng.NormFloat64()
	}
	for j := range colShock {
		colShock[j] = rng.NormFloat64()
	}
	x := normalMatrix(rng, n, p)
	nCl := 1
	if twoWay {
		nCl = 2
	}
	cl := mat.NewDense(n, nCl, nil)
	y := make([]float64, n)
	d := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			o := i*n2 + j
			cl.Set(o, 0, float64(i))
			if twoWay {
				cl.Set(o, 1, float64(j))
			}
			e := 0.5*rowShock[i] + 0.5*colShock[j] + rng.NormFloat64()
			z[o] = 0.5*x.At(o, 0) + 0.3*rowShock[i] + rng.NormFloat64()
			d[o] = x.At(o, 1) + z[o] + 0.5*e + rng.NormFloat64()
			y[o] = theta*d[o] + x.At(o, 0) - x.At(o, 1) + e
		}
	}
	data, err := NewData(y, column(d), x, WithInstruments(column(z)), WithClusters(cl))
	require.NoError(t, err)
	return data
}

// interleavedFolds builds k folds with test sets {i : i mod k == fold}.
func interleavedFolds(n, k int) []msel.Fold {
	folds := make([]msel.Fold, k)
	for i := 0; i < n; i++ {
		f := i % k
		folds[f].Test = append(folds[f].Test, i)
		for g := 0; g < k; g++ {
			if g != f {
				folds[g].Train = append(folds[g].Train, i)
			}
		}
	}
	return folds
}

// manualEstimate solves a linear score per fold (dml1) or pooled (dml2)
// and returns θ, se and the score at θ, written out without the engine.
func manualEstimate(psiA, psiB []float64, folds []msel.Fold, procedure Procedure) (theta, se float64, psi []float64) {
	n := len(psiA)
	mean := func(v []float64, idx []int) float64 {
		s := 0.0
		for _, i := range idx {
			s += v[i]
		}
		return s / float64(len(idx))
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	if procedure == DML1 {
		for _, f := range folds {
			theta += -mean(psiB, f.Test) / mean(psiA, f.Test)
		}
		theta /= float64(len(folds))
	} else {
		theta = -mean(psiB, all) / mean(psiA, all)
	}

	psi = make([]float64, n)
	sq := make([]float64, n)
	for i := 0; i < n; i++ {
		psi[i] = psiA[i]*theta + psiB[i]
		sq[i] = psi[i] * psi[i]
	}
	var variance float64
	if procedure == DML1 {
		for _, f := range folds {
			j := mean(psiA, f.Test)
			variance += mean(sq, f.Test) / (j * j) / float64(n)
		}
		variance /= float64(len(folds))
	} else {
		j := mean(psiA, all)
		variance = mean(sq, all) / (j * j) / float64(n)
	}
	return theta, math.Sqrt(variance), psi
}

type fitter interface {
	Fit(X, y mat.Matrix) error
}

// predictRows fits l on the train rows and predicts the test rows.
func predictRows(t *testing.T, l fitter, x *mat.Dense, target []float64, train, test []int, proba bool) []float64 {
	t.Helper()
	require.NoError(t, l.Fit(msel.ExtractRows(x, train), msel.ExtractVec(target, train)))
	xTest := msel.ExtractRows(x, test)
	if proba {
		p, err := l.(interface {
			PredictProba(mat.Matrix) (mat.Matrix, error)
		}).PredictProba(xTest)
		require.NoError(t, err)
		return mat.Col(nil, 1, p)
	}
	p, err := l.(interface {
		Predict(mat.Matrix) (mat.Matrix, error)
	}).Predict(xTest)
	require.NoError(t, err)
	return mat.Col(nil, 0, p)
}

func rowsWhere(rows []int, v []float64, want float64) []int {
	out := make([]int, 0, len(rows))
	for _, i := range rows {
		if v[i] == want {
			out = append(out, i)
		}
	}
	return out
}

// manualWeights returns a draw function for the multiplier weights of
// method, reading from PCG(seed, rep) independently of DrawWeights.
func manualWeights(method string, seed, rep uint64) func() float64 {
	src := rand.NewPCG(seed, rep)
	switch method {
	case "Bayes":
		e := distuv.Exponential{Rate: 1, Src: src}
		return func() float64 { return e.Rand() - 1 }
	case "wild":
		b := distuv.Bernoulli{P: 0.5, Src: src}
		return func() float64 { return 2*b.Rand() - 1 }
	}
	nrm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	return nrm.Rand
}
