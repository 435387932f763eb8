package dml

import (
	"context"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// TuneResult holds the search results per learner, indexed
// [learner][treatment][rep][fold]. When tuning on the full sample there is a
// single repetition with a single entry.
type TuneResult map[string][][][]*msel.SearchResult

// tuneJob is the input of one (repetition, treatment) tuning run. With
// tuneOnFolds unset, folds is a single fold whose train set is the full sample.
type tuneJob struct {
	ctx    context.Context
	tuner  msel.Tuner
	grids  map[string]msel.ParamGrid
	logger log.Logger
	data   *Data
	cfg    *config
	treat  int
	folds  []msel.Fold
	x      *mat.Dense
	y, d   []float64
}

// grid returns the grid for learner name, falling back to the shared key
// (e.g. "ml_g" for "ml_g0" and "ml_g1").
func (t *tuneJob) grid(name, shared string) (msel.ParamGrid, bool) {
	if g, ok := t.grids[name]; ok {
		return g, true
	}
	if shared != "" {
		g, ok := t.grids[shared]
		return g, ok
	}
	return nil, false
}

// search tunes l on the train rows of every fold, restricted to mask when
// non-nil. It returns nil when no grid is configured for the learner.
func (t *tuneJob) search(name, shared string, l model.Learner, x mat.Matrix, target []float64, mask []bool) ([]*msel.SearchResult, error) {
	grid, ok := t.grid(name, shared)
	if !ok {
		return nil, nil
	}
	out := make([]*msel.SearchResult, len(t.folds))
	for k, f := range t.folds {
		train := f.Train
		if mask != nil {
			train = maskIndices(train, mask)
		}
		if len(train) == 0 {
			return nil, errors.NewValidationError(name, "no training observations left for tuning after conditioning", k)
		}
		res, err := t.tuner.Search(t.ctx, l, grid, msel.ExtractRows(x, train), pickValues(target, train))
		if err != nil {
			return nil, errors.Wrapf(err, "tuning %s fold %d", name, k)
		}
		t.logger.Debug("learner tuned",
			log.LearnerKey, name,
			log.FoldKey, k,
			log.ScoreKey, res.BestScore,
		)
		out[k] = res
	}
	return out, nil
}

// inSamplePredict fits l with the tuned params of every fold on its train
// rows and predicts those same rows. Rows shared by several train sets keep
// the prediction of the last fold.
func (t *tuneJob) inSamplePredict(l model.Learner, x mat.Matrix, target []float64, tuned []*msel.SearchResult) ([]float64, error) {
	out := make([]float64, len(target))
	for i := range out {
		out[i] = nan
	}
	for k, f := range t.folds {
		var params map[string]interface{}
		if tuned != nil {
			params = tuned[k].BestParams
		}
		pred, err := fitPredictFold(l, params, x, target, f.Train, f.Train, predictMethodFor(l))
		if err != nil {
			return nil, err
		}
		for i, idx := range f.Train {
			out[idx] = pred[i]
		}
	}
	return out, nil
}

func pickValues(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = v[k]
	}
	return out
}

// Tune searches the nuisance hyperparameters with tuner over grids keyed by
// learner name and stores the best parameters with SetNuisanceParams.
// With tuneOnFolds the search runs on the training part of every fold of
// every repetition; otherwise it runs once on the full sample and the result
// is used for every fold. A nil tuner uses GridSearchCV with 5 inner folds.
func (d *DoubleML) Tune(ctx context.Context, tuner msel.Tuner, grids map[string]msel.ParamGrid, tuneOnFolds bool) (TuneResult, error) {
	if len(grids) == 0 {
		return nil, errors.NewValidationError("param_grids", "must not be empty", nil)
	}
	known := d.model.learners()
	for name := range grids {
		if _, ok := known[name]; !ok && !isSharedGridKey(name, known) {
			return nil, errors.NewValidationError("param_grids", "unknown learner", name)
		}
	}
	if tuner == nil {
		tuner = msel.GridSearchCV{CV: 5, Seed: d.cfg.seed, NJobs: d.cfg.nJobs, Logger: d.logger}
	}
	start := time.Now()

	result := make(TuneResult)
	record := func(name string, j, r int, res []*msel.SearchResult) {
		if _, ok := result[name]; !ok {
			result[name] = make([][][]*msel.SearchResult, d.data.NTreat())
		}
		for len(result[name][j]) <= r {
			result[name][j] = append(result[name][j], nil)
		}
		result[name][j][r] = res
	}

	nTreat := d.data.NTreat()
	for j := 0; j < nTreat; j++ {
		if !tuneOnFolds {
			all := make([]int, d.data.N())
			for i := range all {
				all[i] = i
			}
			job := d.newTuneJob(ctx, tuner, grids, j, []msel.Fold{{Train: all, Test: all}})
			res, err := d.model.tune(job)
			if err != nil {
				return nil, err
			}
			for name, perFold := range res {
				if perFold == nil {
					continue
				}
				record(name, j, 0, perFold)
				if err := d.SetNuisanceParams(name, d.data.dCols[j], perFold[0].BestParams); err != nil {
					return nil, err
				}
			}
			continue
		}

		for r := 0; r < d.partition.NRep(); r++ {
			job := d.newTuneJob(ctx, tuner, grids, j, d.partition[r])
			res, err := d.model.tune(job)
			if err != nil {
				return nil, err
			}
			for name, perFold := range res {
				if perFold == nil {
					continue
				}
				record(name, j, r, perFold)
				for k, sr := range perFold {
					d.params[name][j][r][k] = sr.BestParams
				}
			}
		}
	}
	d.invalidate()

	d.logger.Info("tuning finished",
		log.OperationKey, log.OperationTune,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (d *DoubleML) newTuneJob(ctx context.Context, tuner msel.Tuner, grids map[string]msel.ParamGrid, treat int, folds []msel.Fold) *tuneJob {
	return &tuneJob{
		ctx:    ctx,
		tuner:  tuner,
		grids:  grids,
		logger: d.logger.With(log.TreatmentKey, d.data.dCols[treat]),
		data:   d.data,
		cfg:    &d.cfg,
		treat:  treat,
		folds:  folds,
		x:      d.data.XForTreatment(treat),
		y:      d.data.Y(),
		d:      d.data.D(treat),
	}
}

// sharedGridKey returns the grid key that learner name falls back to, or ""
// when it has none. It mirrors the shared keys passed to tuneJob.search.
func sharedGridKey(name string) string {
	switch {
	case name == "ml_g0" || name == "ml_g1":
		return "ml_g"
	case name == "ml_r0" || name == "ml_r1":
		return "ml_r"
	case strings.HasPrefix(name, "ml_m_"):
		return "ml_m"
	}
	return ""
}

// isSharedGridKey reports whether key is the shared grid of some known
// learner, such as ml_g for ml_g0/ml_g1 or ml_m for ml_m_z1/ml_m_z2.
func isSharedGridKey(key string, known map[string]model.Learner) bool {
	for name := range known {
		if sharedGridKey(name) == key {
			return true
		}
	}
	return false
}
