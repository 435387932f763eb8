package dml

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/sklearn/linear_model"
)

// fixedTuner returns the same parameters for every search and counts calls.
type fixedTuner struct {
	regressor  map[string]interface{}
	classifier map[string]interface{}
	calls      atomic.Int32
}

func (f *fixedTuner) Search(_ context.Context, est model.Learner, _ msel.ParamGrid, X mat.Matrix, _ []float64) (*msel.SearchResult, error) {
	f.calls.Add(1)
	if _, ok := est.(model.Classifier); ok {
		return &msel.SearchResult{BestParams: f.classifier}, nil
	}
	return &msel.SearchResult{BestParams: f.regressor}, nil
}

func TestTune(t *testing.T) {
	ctx := context.Background()
	data := simulatePLR(t, 300, 3, 0.5, 0.1, 1)
	grid := msel.ParamGrid{"alpha": {1e-4, 1000.0}}
	grids := map[string]msel.ParamGrid{"ml_l": grid, "ml_m": grid}

	newRidgePLR := func(t *testing.T, opts ...Option) *PLR {
		plr, err := NewPLR(data, linear_model.NewRidge(), linear_model.NewRidge(), opts...)
		require.NoError(t, err)
		return plr
	}

	t.Run("tune on folds", func(t *testing.T) {
		tuner := &fixedTuner{regressor: map[string]interface{}{"alpha": 3.0}}
		plr := newRidgePLR(t, WithNFolds(3), WithNRep(2), WithSeed(1))
		res, err := plr.Tune(ctx, tuner, grids, true)
		require.NoError(t, err)
		assert.Equal(t, int32(12), tuner.calls.Load())
		require.Len(t, res["ml_l"][0], 2)
		assert.Len(t, res["ml_l"][0][1], 3)

		params, err := plr.NuisanceParams("ml_m", "d1")
		require.NoError(t, err)
		for r := range params {
			for k := range params[r] {
				assert.Equal(t, 3.0, params[r][k]["alpha"])
			}
		}

		require.NoError(t, plr.Fit(ctx))
		direct, err := NewPLR(data, linear_model.NewRidge(linear_model.WithRidgeAlpha(3)),
			linear_model.NewRidge(linear_model.WithRidgeAlpha(3)), WithNFolds(3), WithNRep(2), WithSeed(1))
		require.NoError(t, err)
		require.NoError(t, direct.Fit(ctx))
		got, _ := plr.Coef()
		want, _ := direct.Coef()
		assert.Equal(t, want, got)
	})

	t.Run("tune on the full sample", func(t *testing.T) {
		tuner := &fixedTuner{regressor: map[string]interface{}{"alpha": 2.0}}
		plr := newRidgePLR(t, WithNFolds(3), WithSeed(1))
		res, err := plr.Tune(ctx, tuner, grids, false)
		require.NoError(t, err)
		assert.Equal(t, int32(2), tuner.calls.Load())
		assert.Len(t, res["ml_l"][0], 1)

		params, _ := plr.NuisanceParams("ml_l", "d1")
		assert.Equal(t, 2.0, params[0][2]["alpha"])
	})

	t.Run("grid search picks the small penalty", func(t *testing.T) {
		plr := newRidgePLR(t, WithNFolds(2), WithSeed(1))
		res, err := plr.Tune(ctx, nil, map[string]msel.ParamGrid{"ml_l": grid}, false)
		require.NoError(t, err)
		assert.Equal(t, 1e-4, res["ml_l"][0][0][0].BestParams["alpha"])
		assert.NotContains(t, res, "ml_m")
		require.NoError(t, plr.Fit(ctx))
	})

	t.Run("tuning invalidates a fit", func(t *testing.T) {
		plr := newRidgePLR(t, WithSeed(1))
		require.NoError(t, plr.Fit(ctx))
		_, err := plr.Tune(ctx, &fixedTuner{regressor: map[string]interface{}{"alpha": 1.0}}, grids, false)
		require.NoError(t, err)
		_, err = plr.Coef()
		assert.Error(t, err)
	})

	t.Run("invalid grids", func(t *testing.T) {
		plr := newRidgePLR(t)
		_, err := plr.Tune(ctx, nil, nil, false)
		assert.Error(t, err)
		_, err = plr.Tune(ctx, nil, map[string]msel.ParamGrid{"ml_q": grid}, false)
		assert.Error(t, err)
		for _, key := range []string{"ml", "ml_", "m", "ml_g"} {
			_, err = plr.Tune(ctx, nil, map[string]msel.ParamGrid{key: grid}, false)
			assert.Error(t, err, key)
		}
	})
}

func TestTuneSharedKeys(t *testing.T) {
	ctx := context.Background()
	data := simulateIIVM(t, 300, 3, 1, 1, 5)
	iivm, err := NewIIVM(data, linear_model.NewRidge(), linear_model.NewLogisticRegression(),
		linear_model.NewLogisticRegression(), WithNFolds(2), WithSeed(1))
	require.NoError(t, err)

	tuner := &fixedTuner{
		regressor:  map[string]interface{}{"alpha": 0.5},
		classifier: map[string]interface{}{"C": 0.25},
	}
	grids := map[string]msel.ParamGrid{
		"ml_g": {"alpha": {0.5}},
		"ml_r": {"C": {0.25}},
	}
	res, err := iivm.Tune(ctx, tuner, grids, true)
	require.NoError(t, err)
	for _, name := range []string{"ml_g0", "ml_g1", "ml_r0", "ml_r1"} {
		assert.Contains(t, res, name)
	}
	assert.NotContains(t, res, "ml_m")

	g1, _ := iivm.NuisanceParams("ml_g1", "d1")
	assert.Equal(t, 0.5, g1[0][1]["alpha"])
	r0, _ := iivm.NuisanceParams("ml_r0", "d1")
	assert.Equal(t, 0.25, r0[0][0]["C"])
	m, _ := iivm.NuisanceParams("ml_m", "d1")
	assert.Nil(t, m[0][0])

	require.NoError(t, iivm.Fit(ctx))
}

func TestSharedGridKeyValidation(t *testing.T) {
	ctx := context.Background()
	grid := msel.ParamGrid{"alpha": {1.0}}

	t.Run("iivm accepts only ml_g and ml_r as shared keys", func(t *testing.T) {
		data := simulateIIVM(t, 200, 3, 1, 1, 6)
		iivm, err := NewIIVM(data, linear_model.NewRidge(), linear_model.NewLogisticRegression(),
			linear_model.NewLogisticRegression(), WithNFolds(2), WithSeed(1))
		require.NoError(t, err)
		for _, key := range []string{"ml", "ml_", "ml_g0x", "ml_m_"} {
			_, err := iivm.Tune(ctx, &fixedTuner{}, map[string]msel.ParamGrid{key: grid}, false)
			assert.Error(t, err, key)
		}
	})

	t.Run("ml_r is unknown without subgroups", func(t *testing.T) {
		data := simulateIIVM(t, 200, 3, 1, 1, 6)
		iivm, err := NewIIVM(data, linear_model.NewRidge(), linear_model.NewLogisticRegression(),
			linear_model.NewLogisticRegression(), WithSubgroups(false, false))
		require.NoError(t, err)
		_, err = iivm.Tune(ctx, &fixedTuner{}, map[string]msel.ParamGrid{"ml_r": grid}, false)
		assert.Error(t, err)
	})

	t.Run("shared key table", func(t *testing.T) {
		assert.Equal(t, "ml_g", sharedGridKey("ml_g1"))
		assert.Equal(t, "ml_r", sharedGridKey("ml_r0"))
		assert.Equal(t, "ml_m", sharedGridKey("ml_m_z2"))
		assert.Equal(t, "", sharedGridKey("ml_l"))
		assert.Equal(t, "", sharedGridKey("ml_m"))
	})
}
