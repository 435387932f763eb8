package model_selection

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/linear"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/sklearn/linear_model"
)

func TestKFold(t *testing.T) {
	t.Run("sizes and coverage", func(t *testing.T) {
		folds, err := NewKFold(3, true, 42).Split(10)
		require.NoError(t, err)
		require.Len(t, folds, 3)

		assert.Len(t, folds[0].Test, 4)
		assert.Len(t, folds[1].Test, 3)
		assert.Len(t, folds[2].Test, 3)

		seen := make(map[int]bool)
		for _, f := range folds {
			assert.Equal(t, 10, len(f.Train)+len(f.Test))
			for _, idx := range f.Test {
				assert.False(t, seen[idx])
				seen[idx] = true
			}
			inTest := make(map[int]bool)
			for _, idx := range f.Test {
				inTest[idx] = true
			}
			for _, idx := range f.Train {
				assert.False(t, inTest[idx])
			}
		}
		assert.Len(t, seen, 10)
	})

	t.Run("no shuffle gives contiguous blocks", func(t *testing.T) {
		folds, err := NewKFold(2, false, 0).Split(5)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, folds[0].Test)
		assert.Equal(t, []int{3, 4}, folds[0].Train)
	})

	t.Run("same seed same folds", func(t *testing.T) {
		a, _ := NewKFold(5, true, 7).Split(100)
		b, _ := NewKFold(5, true, 7).Split(100)
		c, _ := NewKFold(5, true, 8).Split(100)
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewKFold(1, true, 0).Split(10)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
		_, err = NewKFold(11, true, 0).Split(10)
		assert.Error(t, err)
	})
}

func TestStratifiedKFold(t *testing.T) {
	y := []float64{0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	folds, err := NewStratifiedKFold(2, true, 3).Split(y)
	require.NoError(t, err)
	for _, f := range folds {
		ones := 0
		for _, idx := range f.Test {
			ones += int(y[idx])
		}
		assert.Equal(t, 3, ones)
		assert.Len(t, f.Test, 5)
	}

	_, err = NewStratifiedKFold(5, true, 3).Split(y)
	assert.Error(t, err)
}

func TestResampling(t *testing.T) {
	t.Run("repetitions differ and validate", func(t *testing.T) {
		p, err := Resampling{NFolds: 4, NRep: 3, ApplyCrossFitting: true, Seed: 1}.Split(50)
		require.NoError(t, err)
		assert.Equal(t, 3, p.NRep())
		assert.Equal(t, 4, p.NFolds())
		assert.NotEqual(t, p[0], p[1])
		assert.NoError(t, p.Validate(50, true))

		again, _ := Resampling{NFolds: 4, NRep: 3, ApplyCrossFitting: true, Seed: 1}.Split(50)
		assert.Equal(t, p, again)
	})

	t.Run("repetition r uses seed plus r", func(t *testing.T) {
		p, err := Resampling{NFolds: 2, NRep: 2, ApplyCrossFitting: true, Seed: 10}.Split(20)
		require.NoError(t, err)
		folds, _ := NewKFold(2, true, 11).Split(20)
		assert.Equal(t, folds, p[1])
	})

	t.Run("without cross-fitting", func(t *testing.T) {
		p, err := Resampling{NFolds: 2, NRep: 1, ApplyCrossFitting: false, Seed: 1}.Split(10)
		require.NoError(t, err)
		require.Len(t, p[0], 1)
		assert.Len(t, p[0][0].Test, 5)
		assert.NoError(t, p.Validate(10, false))
		assert.Error(t, p.Validate(10, true))

		p, err = Resampling{NFolds: 1, NRep: 1, ApplyCrossFitting: false}.Split(4)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, p[0][0].Train)
		assert.Equal(t, []int{0, 1, 2, 3}, p[0][0].Test)
	})

	t.Run("configuration errors", func(t *testing.T) {
		_, err := Resampling{NFolds: 1, NRep: 1, ApplyCrossFitting: true}.Split(10)
		assert.Error(t, err)
		_, err = Resampling{NFolds: 2, NRep: 2, ApplyCrossFitting: false}.Split(10)
		assert.Error(t, err)
		_, err = Resampling{NFolds: 2, NRep: 0, ApplyCrossFitting: true}.Split(10)
		assert.Error(t, err)
	})

	t.Run("validate rejects overlap", func(t *testing.T) {
		p := Partition{{{Train: []int{2, 3}, Test: []int{0, 1}}, {Train: []int{0, 3}, Test: []int{1, 2}}}}
		assert.Error(t, p.Validate(4, true))
	})

	t.Run("validate rejects train and test overlap", func(t *testing.T) {
		all := []int{0, 1, 2, 3}
		p := Partition{{{Train: all, Test: []int{0, 2}}, {Train: all, Test: []int{1, 3}}}}
		err := p.Validate(4, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overlap")

		p = Partition{{{Train: []int{1, 2}, Test: []int{0, 1}}}}
		assert.Error(t, p.Validate(4, false))
	})

	t.Run("validate rejects duplicate indices", func(t *testing.T) {
		p := Partition{{{Train: []int{2, 2, 3}, Test: []int{0, 1}}, {Train: []int{0, 1}, Test: []int{2, 3}}}}
		assert.Error(t, p.Validate(4, true))

		p = Partition{{{Train: []int{2, 3}, Test: []int{0, 0}}}}
		assert.Error(t, p.Validate(4, false))
	})

	t.Run("full-sample fold is the only allowed overlap", func(t *testing.T) {
		all := []int{0, 1, 2, 3}
		assert.NoError(t, Partition{{{Train: all, Test: all}}}.Validate(4, false))
	})
}

func TestClusterResampling(t *testing.T) {
	n := 60
	clusters := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		clusters.Set(i, 0, float64(i%6))
		clusters.Set(i, 1, float64(i%5))
	}

	t.Run("one-way", func(t *testing.T) {
		p, cp, err := ClusterResampling{NFolds: 3, NRep: 1, Seed: 2}.Split(clusters.Slice(0, n, 0, 1))
		require.NoError(t, err)
		require.Len(t, p[0], 3)
		assert.NoError(t, p.Validate(n, true))
		for k, f := range p[0] {
			testIDs := make(map[float64]bool)
			for _, c := range cp[0][k].Test[0] {
				testIDs[c] = true
			}
			for _, i := range f.Test {
				assert.True(t, testIDs[clusters.At(i, 0)])
			}
			for _, i := range f.Train {
				assert.False(t, testIDs[clusters.At(i, 0)])
			}
			assert.Equal(t, n, len(f.Train)+len(f.Test))
		}
	})

	t.Run("two-way product folds", func(t *testing.T) {
		p, cp, err := ClusterResampling{NFolds: 2, NRep: 2, Seed: 2}.Split(clusters)
		require.NoError(t, err)
		require.Len(t, p[0], 4)
		require.Len(t, cp[1], 4)
		assert.NoError(t, p.Validate(n, true))
		for k, f := range p[0] {
			test0 := make(map[float64]bool)
			test1 := make(map[float64]bool)
			for _, c := range cp[0][k].Test[0] {
				test0[c] = true
			}
			for _, c := range cp[0][k].Test[1] {
				test1[c] = true
			}
			for _, i := range f.Train {
				assert.False(t, test0[clusters.At(i, 0)])
				assert.False(t, test1[clusters.At(i, 1)])
			}
			for _, i := range f.Test {
				assert.True(t, test0[clusters.At(i, 0)] && test1[clusters.At(i, 1)])
			}
		}
	})

	t.Run("too few clusters", func(t *testing.T) {
		_, _, err := ClusterResampling{NFolds: 7, NRep: 1}.Split(clusters.Slice(0, n, 0, 1))
		assert.Error(t, err)
	})
}

func TestParamGridCandidates(t *testing.T) {
	grid := ParamGrid{"b": {1, 2}, "a": {"x", "y", "z"}}
	cands := grid.Candidates()
	require.Len(t, cands, 6)
	assert.Equal(t, map[string]interface{}{"a": "x", "b": 1}, cands[0])
	assert.Equal(t, map[string]interface{}{"a": "z", "b": 2}, cands[5])
}

func TestGridSearchCV(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	n := 200
	X := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			X.Set(i, j, rng.NormFloat64())
		}
		y[i] = 2*X.At(i, 0) - X.At(i, 1) + 0.1*rng.NormFloat64()
		if X.At(i, 0)+0.3*rng.NormFloat64() > 0 {
			labels[i] = 1
		}
	}

	t.Run("ridge prefers small penalty on low-noise data", func(t *testing.T) {
		res, err := GridSearchCV{CV: 3, Seed: 1, NJobs: 2}.Search(context.Background(),
			linear_model.NewRidge(), ParamGrid{"alpha": {0.01, 100.0, 1000.0}}, X, y)
		require.NoError(t, err)
		assert.Equal(t, 0.01, res.BestParams["alpha"])
		require.Len(t, res.Candidates, 3)
		assert.Len(t, res.Candidates[0].FoldScores, 3)
		assert.Greater(t, res.Candidates[0].MeanScore, res.Candidates[2].MeanScore)
	})

	t.Run("classifier uses log loss", func(t *testing.T) {
		res, err := GridSearchCV{CV: 3, Seed: 1}.Search(context.Background(),
			linear_model.NewLogisticRegression(), ParamGrid{"C": {0.001, 10.0}}, X, labels)
		require.NoError(t, err)
		assert.Equal(t, 10.0, res.BestParams["C"])
		assert.Less(t, res.BestScore, 0.0)
	})

	t.Run("unknown parameter fails", func(t *testing.T) {
		_, err := GridSearchCV{CV: 3}.Search(context.Background(),
			linear.NewLinearRegression(), ParamGrid{"alpha": {1.0}}, X, y)
		assert.Error(t, err)
	})

	t.Run("estimator score", func(t *testing.T) {
		res, err := GridSearchCV{CV: 3, Seed: 1, Scoring: EstimatorScore}.Search(context.Background(),
			linear.NewLinearRegression(), ParamGrid{"fit_intercept": {true, false}}, X, y)
		require.NoError(t, err)
		assert.Greater(t, res.BestScore, 0.95)
		assert.LessOrEqual(t, res.BestScore, 1.0)

		res, err = GridSearchCV{CV: 3, Seed: 1, Scoring: EstimatorScore}.Search(context.Background(),
			linear_model.NewLogisticRegression(), ParamGrid{"C": {0.01, 10.0}}, X, labels)
		require.NoError(t, err)
		assert.Greater(t, res.BestScore, 0.6)
		assert.LessOrEqual(t, res.BestScore, 1.0)

		_, err = GridSearchCV{CV: 3, Scoring: EstimatorScore}.Search(context.Background(),
			linear_model.NewRidge(), ParamGrid{"alpha": {1.0}}, X, y)
		assert.Error(t, err, "Ridge has no Score method")
	})

	t.Run("probability scorer needs classifier", func(t *testing.T) {
		_, err := GridSearchCV{CV: 3, Scoring: "neg_log_loss"}.Search(context.Background(),
			linear.NewLinearRegression(), ParamGrid{"fit_intercept": {true}}, X, y)
		assert.Error(t, err)
	})
}
