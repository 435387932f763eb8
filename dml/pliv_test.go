package dml

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/linear"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// manualPLIVResiduals refits l, m and r fold by fold and returns
// u = y - l̂, v = z - m̂ and w = d - r̂ for every instrument.
func manualPLIVResiduals(t *testing.T, data *Data, folds []msel.Fold) (u, w []float64, v [][]float64) {
	n := data.N()
	x := data.X()
	y, d := data.Y(), data.D(0)
	u = make([]float64, n)
	w = make([]float64, n)
	v = make([][]float64, data.NInstr())
	for k := range v {
		v[k] = make([]float64, n)
	}
	for _, f := range folds {
		lHat := predictRows(t, linear.NewLinearRegression(), x, y, f.Train, f.Test, false)
		rHat := predictRows(t, linear.NewLinearRegression(), x, d, f.Train, f.Test, false)
		for c, i := range f.Test {
			u[i] = y[i] - lHat[c]
			w[i] = d[i] - rHat[c]
		}
		for k := range v {
			z := data.Z(k)
			mHat := predictRows(t, linear.NewLinearRegression(), x, z, f.Train, f.Test, false)
			for c, i := range f.Test {
				v[k][i] = z[i] - mHat[c]
			}
		}
	}
	return u, w, v
}

func TestPLIVMatchesManual(t *testing.T) {
	ctx := context.Background()
	data := simulatePLIV(t, 500, 4, 1, 0.5, 1)

	for _, proc := range []Procedure{DML2, DML1} {
		t.Run(string(proc), func(t *testing.T) {
			pliv, err := NewPLIV(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
				linear.NewLinearRegression(), WithNFolds(3), WithSeed(6), WithDMLProcedure(string(proc)))
			require.NoError(t, err)
			require.NoError(t, pliv.Fit(ctx))

			folds := pliv.Partition()[0]
			u, w, v := manualPLIVResiduals(t, data, folds)
			n := data.N()
			psiA := make([]float64, n)
			psiB := make([]float64, n)
			for i := 0; i < n; i++ {
				psiA[i] = -w[i] * v[0][i]
				psiB[i] = v[0][i] * u[i]
			}
			wantCoef, wantSE, _ := manualEstimate(psiA, psiB, folds, proc)

			coef, _ := pliv.Coef()
			se, _ := pliv.SE()
			assert.InDelta(t, wantCoef, coef[0], 1e-10)
			assert.InDelta(t, wantSE, se[0], 1e-10)
			assert.InDelta(t, 0.5, coef[0], 0.3)
		})
	}
}

func TestPLIVSeveralInstruments(t *testing.T) {
	ctx := context.Background()
	data := simulatePLIV(t, 600, 4, 2, 1, 2)

	pliv, err := NewPLIV(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
		linear.NewLinearRegression(), WithNFolds(2), WithSeed(3))
	require.NoError(t, err)
	require.NoError(t, pliv.Fit(ctx))

	t.Run("one m learner per instrument", func(t *testing.T) {
		preds, err := pliv.Predictions()
		require.NoError(t, err)
		assert.Contains(t, preds[0][0], "ml_m_z1")
		assert.Contains(t, preds[0][0], "ml_m_z2")
		assert.NotContains(t, preds[0][0], "ml_m")
	})

	t.Run("matches projection by hand", func(t *testing.T) {
		folds := pliv.Partition()[0]
		u, w, v := manualPLIVResiduals(t, data, folds)
		n := data.N()

		// r̃ = V (V'V)⁻¹ V'w
		V := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			V.Set(i, 0, v[0][i])
			V.Set(i, 1, v[1][i])
		}
		var beta mat.VecDense
		require.NoError(t, beta.SolveVec(V, mat.NewVecDense(n, w)))
		var rTilde mat.VecDense
		rTilde.MulVec(V, &beta)

		psiA := make([]float64, n)
		psiB := make([]float64, n)
		for i := 0; i < n; i++ {
			psiA[i] = -w[i] * rTilde.AtVec(i)
			psiB[i] = rTilde.AtVec(i) * u[i]
		}
		wantCoef, wantSE, _ := manualEstimate(psiA, psiB, folds, DML2)
		coef, _ := pliv.Coef()
		se, _ := pliv.SE()
		assert.InDelta(t, wantCoef, coef[0], 1e-8)
		assert.InDelta(t, wantSE, se[0], 1e-8)
	})

	t.Run("only partialling out", func(t *testing.T) {
		_, err := NewPLIV(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
			linear.NewLinearRegression(), WithScore("IV-type"), WithMLG(linear.NewLinearRegression()))
		assert.ErrorIs(t, err, errors.ErrNotImplemented)
	})
}

func TestPLIVPartialZ(t *testing.T) {
	ctx := context.Background()
	data := simulatePLIV(t, 500, 3, 2, 1, 3)

	pliv, err := NewPLIVPartialZ(data, linear.NewLinearRegression(), WithNFolds(2), WithSeed(1))
	require.NoError(t, err)
	require.NoError(t, pliv.Fit(ctx))

	folds := pliv.Partition()[0]
	xz := data.XZ(0)
	d, y := data.D(0), data.Y()
	n := data.N()
	psiA := make([]float64, n)
	psiB := make([]float64, n)
	for _, f := range folds {
		rHat := predictRows(t, linear.NewLinearRegression(), xz, d, f.Train, f.Test, false)
		for c, i := range f.Test {
			psiA[i] = -rHat[c] * d[i]
			psiB[i] = rHat[c] * y[i]
		}
	}
	wantCoef, wantSE, _ := manualEstimate(psiA, psiB, folds, DML2)
	coef, _ := pliv.Coef()
	se, _ := pliv.SE()
	assert.InDelta(t, wantCoef, coef[0], 1e-10)
	assert.InDelta(t, wantSE, se[0], 1e-10)

	_, err = NewPLIVPartialZ(data, linear.NewLinearRegression(), WithScore("IV-type"))
	assert.Error(t, err)
}

func TestPLIVIVType(t *testing.T) {
	ctx := context.Background()
	data := simulatePLIV(t, 1000, 3, 1, 0.5, 4)

	pliv, err := NewPLIV(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
		linear.NewLinearRegression(), WithScore("IV-type"), WithMLG(linear.NewLinearRegression()), WithSeed(2))
	require.NoError(t, err)
	require.NoError(t, pliv.Fit(ctx))
	coef, _ := pliv.Coef()
	se, _ := pliv.SE()
	assert.False(t, math.IsNaN(se[0]))
	assert.InDelta(t, 0.5, coef[0], 0.3)

	_, err = NewPLIV(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
		linear.NewLinearRegression(), WithScore("IV-type"))
	assert.Error(t, err, "IV-type needs ml_g")

	noZ, err := NewData(data.Y(), column(data.D(0)), data.X())
	require.NoError(t, err)
	_, err = NewPLIV(noZ, linear.NewLinearRegression(), linear.NewLinearRegression(), linear.NewLinearRegression())
	assert.Error(t, err)
}

func TestClusteredPLIV(t *testing.T) {
	ctx := context.Background()

	for _, twoWay := range []bool{false, true} {
		name := "one-way"
		if twoWay {
			name = "two-way"
		}
		t.Run(name, func(t *testing.T) {
			data := simulateClusteredPLIV(t, 20, 20, 3, 1, twoWay, 5)
			newModel := func(opts ...Option) (*PLIV, error) {
				return NewPLIV(data, linear.NewLinearRegression(), linear.NewLinearRegression(),
					linear.NewLinearRegression(), append([]Option{WithNFolds(2), WithSeed(7)}, opts...)...)
			}
			pliv, err := newModel()
			require.NoError(t, err)
			if twoWay {
				assert.Equal(t, 4, pliv.NFolds())
			} else {
				assert.Equal(t, 2, pliv.NFolds())
			}

			require.NoError(t, pliv.Fit(ctx))
			se, _ := pliv.SE()
			assert.Greater(t, se[0], 0.0)
			assert.False(t, math.IsInf(se[0], 0))

			again, err := newModel()
			require.NoError(t, err)
			require.NoError(t, again.Fit(ctx))
			coef, _ := pliv.Coef()
			coef2, _ := again.Coef()
			assert.Equal(t, coef, coef2)

			_, err = pliv.Bootstrap(ctx, "normal", 10)
			assert.ErrorIs(t, err, errors.ErrNotImplemented)
			assert.ErrorIs(t, pliv.SetSampleSplitting(pliv.Partition()), errors.ErrNotImplemented)

			nonlinear, err := newModel(WithNonlinearSolver(-10, 10, 0))
			require.NoError(t, err)
			assert.ErrorIs(t, nonlinear.Fit(ctx), errors.ErrNotImplemented)

			_, err = newModel(WithApplyCrossFitting(false), WithNFolds(2))
			assert.ErrorIs(t, err, errors.ErrNotImplemented)
		})
	}
}
