package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

func TestLinearRegression_Fit(t *testing.T) {
	// y = 1 + 2*x1 - 3*x2
	X := mat.NewDense(6, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
		2, 1,
		3, 2,
		-1, 4,
	})
	y := mat.NewDense(6, 1, nil)
	for i := 0; i < 6; i++ {
		y.Set(i, 0, 1+2*X.At(i, 0)-3*X.At(i, 1))
	}

	t.Run("with intercept", func(t *testing.T) {
		lr := NewLinearRegression()
		require.NoError(t, lr.Fit(X, y))
		assert.InDelta(t, 1.0, lr.Intercept(), 1e-10)
		assert.InDeltaSlice(t, []float64{2, -3}, lr.Weights(), 1e-10)

		score, err := lr.Score(X, y)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-12)
	})

	t.Run("without intercept", func(t *testing.T) {
		lr := NewLinearRegression(WithFitIntercept(false))
		yNoInt := mat.NewDense(6, 1, nil)
		for i := 0; i < 6; i++ {
			yNoInt.Set(i, 0, 2*X.At(i, 0)-3*X.At(i, 1))
		}
		require.NoError(t, lr.Fit(X, yNoInt))
		assert.Equal(t, 0.0, lr.Intercept())
		assert.InDeltaSlice(t, []float64{2, -3}, lr.Weights(), 1e-10)
	})

	t.Run("parallel design assembly", func(t *testing.T) {
		lr := NewLinearRegression(WithParallelThreshold(2))
		require.NoError(t, lr.Fit(X, y))
		assert.InDelta(t, 1.0, lr.Intercept(), 1e-10)
	})
}

func TestLinearRegression_Errors(t *testing.T) {
	t.Run("predict before fit", func(t *testing.T) {
		_, err := NewLinearRegression().Predict(mat.NewDense(1, 1, []float64{1}))
		var nf *errors.NotFittedError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("row mismatch", func(t *testing.T) {
		err := NewLinearRegression().Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(2, 1, []float64{1, 2}))
		var dimErr *errors.DimensionError
		assert.True(t, errors.As(err, &dimErr))
	})

	t.Run("collinear columns", func(t *testing.T) {
		X := mat.NewDense(4, 2, []float64{1, 2, 2, 4, 3, 6, 4, 8})
		y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
		err := NewLinearRegression().Fit(X, y)
		assert.Error(t, err)
	})

	t.Run("feature mismatch at predict", func(t *testing.T) {
		lr := NewLinearRegression()
		require.NoError(t, lr.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(3, 1, []float64{2, 4, 6})))
		_, err := lr.Predict(mat.NewDense(1, 2, []float64{1, 1}))
		var dimErr *errors.DimensionError
		assert.True(t, errors.As(err, &dimErr))
	})
}

func TestLinearRegression_CloneAndParams(t *testing.T) {
	lr := NewLinearRegression(WithFitIntercept(false))
	require.NoError(t, lr.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(3, 1, []float64{2, 4, 6})))

	clone := lr.Clone().(*LinearRegression)
	assert.False(t, clone.state.IsFitted())
	assert.Equal(t, false, clone.GetParams()["fit_intercept"])

	require.NoError(t, clone.SetParams(map[string]interface{}{"fit_intercept": true}))
	assert.Equal(t, true, clone.GetParams()["fit_intercept"])
	assert.Equal(t, false, lr.GetParams()["fit_intercept"])

	err := clone.SetParams(map[string]interface{}{"alpha": 1.0})
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))
}
