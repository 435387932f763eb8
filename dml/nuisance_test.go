package dml

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/core/parallel"
	"github.com/YuminosukeSato/causalgo/linear"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/sklearn/linear_model"
)

// constLearner predicts a fixed value; it panics on Fit when panicOnFit is set.
type constLearner struct {
	value      float64
	panicOnFit bool
}

func (c *constLearner) Fit(X, y mat.Matrix) error {
	if c.panicOnFit {
		panic("broken learner")
	}
	return nil
}

func (c *constLearner) Predict(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, c.value)
	}
	return out, nil
}

func (c *constLearner) Clone() model.Learner {
	cp := *c
	return &cp
}

func TestCrossValPredict(t *testing.T) {
	ctx := context.Background()
	pool := parallel.NewPool(2)
	data := simulatePLR(t, 120, 3, 1, 0.5, 9)
	x := data.X()
	y := data.Y()
	folds, err := msel.NewKFold(3, true, 1).Split(data.N())
	require.NoError(t, err)

	t.Run("perturbing a test target keeps that fold's predictions", func(t *testing.T) {
		base, err := CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y, folds, MethodPredict, nil)
		require.NoError(t, err)

		row := folds[0].Test[0]
		perturbed := append([]float64(nil), y...)
		perturbed[row] += 100
		got, err := CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, perturbed, folds, MethodPredict, nil)
		require.NoError(t, err)

		for _, i := range folds[0].Test {
			assert.Equal(t, base[i], got[i])
		}
		// the row is training data of the other folds
		changed := false
		for _, i := range folds[1].Test {
			if base[i] != got[i] {
				changed = true
			}
		}
		assert.True(t, changed)
	})

	t.Run("rows outside every test set are NaN", func(t *testing.T) {
		preds, err := CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y, folds[:1], MethodPredict, nil)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(preds[folds[0].Test[0]]))
		assert.True(t, math.IsNaN(preds[folds[1].Test[0]]))
	})

	t.Run("train mask", func(t *testing.T) {
		mask := make([]bool, data.N())
		for i := range mask {
			mask[i] = i%2 == 0
		}
		preds, err := CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y, folds, MethodPredict, nil,
			WithTrainMask(mask))
		require.NoError(t, err)

		train := maskIndices(folds[2].Train, mask)
		want := predictRows(t, linear.NewLinearRegression(), x, y, train, folds[2].Test, false)
		for k, i := range folds[2].Test {
			assert.InDelta(t, want[k], preds[i], 1e-12)
		}

		empty := make([]bool, data.N())
		_, err = CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y, folds, MethodPredict, nil,
			WithTrainMask(empty))
		assert.Error(t, err)
	})

	t.Run("per-fold params", func(t *testing.T) {
		params := []map[string]interface{}{{"fit_intercept": false}, nil, nil}
		preds, err := CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y, folds, MethodPredict, params)
		require.NoError(t, err)
		want := predictRows(t, linear.NewLinearRegression(linear.WithFitIntercept(false)), x, y,
			folds[0].Train, folds[0].Test, false)
		assert.InDelta(t, want[0], preds[folds[0].Test[0]], 1e-12)

		_, err = CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y, folds, MethodPredict,
			[]map[string]interface{}{{"alpha": 1.0}, nil, nil})
		assert.Error(t, err)
	})

	t.Run("probabilities need a binary target", func(t *testing.T) {
		_, err := CrossValPredict(ctx, pool, linear_model.NewLogisticRegression(), x, y, folds, MethodPredictProba, nil)
		assert.Error(t, err)

		binary := make([]float64, len(y))
		for i, v := range y {
			if v > 0 {
				binary[i] = 1
			}
		}
		preds, err := CrossValPredict(ctx, pool, linear_model.NewLogisticRegression(), x, binary, folds, MethodPredictProba, nil)
		require.NoError(t, err)
		for _, p := range preds {
			assert.True(t, p > 0 && p < 1)
		}
	})

	t.Run("panicking learner", func(t *testing.T) {
		_, err := CrossValPredict(ctx, pool, &constLearner{panicOnFit: true}, x, y, folds, MethodPredict, nil)
		var pe *errors.PanicError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CrossValPredict(ctx, pool, linear.NewLinearRegression(), x, y[:10], folds, MethodPredict, nil)
		var de *errors.DimensionError
		assert.True(t, errors.As(err, &de))
	})
}

func TestCheckFinitePredictions(t *testing.T) {
	folds := []msel.Fold{{Train: []int{1}, Test: []int{0}}, {Train: []int{0}, Test: []int{1}}}

	err := CheckFinitePredictions([]float64{1, math.Inf(1)}, "ml_m", "d1", 3, folds)
	var nf *errors.NonFiniteError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ml_m", nf.Learner)
	assert.Equal(t, 3, nf.Rep)
	assert.Equal(t, 1, nf.NBad)

	assert.NoError(t, CheckFinitePredictions([]float64{1, math.NaN()}, "ml_m", "d1", 0, folds[:1]))
}
