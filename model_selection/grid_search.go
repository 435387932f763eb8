package model_selection

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/core/parallel"
	"github.com/YuminosukeSato/causalgo/metrics"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// ParamGrid maps a hyperparameter name to its candidate values.
type ParamGrid map[string][]interface{}

// Candidates enumerates the cartesian product of the grid. Keys are visited
// in sorted order, so the enumeration is deterministic.
func (g ParamGrid) Candidates() []map[string]interface{} {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []map[string]interface{}{{}}
	for _, k := range keys {
		next := make([]map[string]interface{}, 0, len(out)*len(g[k]))
		for _, base := range out {
			for _, v := range g[k] {
				c := make(map[string]interface{}, len(base)+1)
				for bk, bv := range base {
					c[bk] = bv
				}
				c[k] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// Candidate is the cross-validated score of one parameter combination.
type Candidate struct {
	Params     map[string]interface{}
	FoldScores []float64
	MeanScore  float64
}

// SearchResult holds all candidates and the best one.
type SearchResult struct {
	BestParams map[string]interface{}
	BestScore  float64
	Candidates []Candidate
}

// Tuner selects hyperparameters for a learner on (X, y).
type Tuner interface {
	Search(ctx context.Context, est model.Learner, grid ParamGrid, X mat.Matrix, y []float64) (*SearchResult, error)
}

// EstimatorScore scores candidates with the learner's own Score method
// (R^2 for regressors, accuracy for classifiers).
const EstimatorScore = "score"

// GridSearchCV is an exhaustive search over a ParamGrid scored by inner k-fold
// cross-validation. Classifiers are scored on predicted probabilities with
// stratified folds.
type GridSearchCV struct {
	CV      int    // inner folds, default 5
	Scoring string // metrics scorer name or EstimatorScore; empty selects neg_mean_squared_error or neg_log_loss
	Seed    int64
	NJobs   int
	Logger  log.Logger
}

// Search implements Tuner.
func (g GridSearchCV) Search(ctx context.Context, est model.Learner, grid ParamGrid, X mat.Matrix, y []float64) (*SearchResult, error) {
	nSamples, _ := X.Dims()
	if nSamples != len(y) {
		return nil, errors.NewDimensionError("GridSearchCV.Search", nSamples, len(y), 0)
	}
	if len(grid) == 0 {
		return nil, errors.NewValidationError("param_grid", "must not be empty", grid)
	}
	nFolds := g.CV
	if nFolds == 0 {
		nFolds = 5
	}

	_, isClassifier := est.(model.Classifier)
	scoring := g.Scoring
	if scoring == "" {
		scoring = "neg_mean_squared_error"
		if isClassifier {
			scoring = "neg_log_loss"
		}
	}
	var scorer metrics.Scorer
	var err error
	if scoring == EstimatorScore {
		if _, ok := est.(model.Scorer); !ok {
			return nil, errors.NewValidationError("scoring", "estimator does not implement Score", fmt.Sprintf("%T", est))
		}
		scorer = metrics.Scorer{Name: EstimatorScore}
	} else if scorer, err = metrics.GetScorer(scoring); err != nil {
		return nil, err
	}
	if scorer.Proba && !isClassifier {
		return nil, errors.NewValidationError("scoring", "probability scorer requires a classifier", scoring)
	}

	var folds []Fold
	if isClassifier {
		folds, err = NewStratifiedKFold(nFolds, true, g.Seed).Split(y)
	} else {
		folds, err = NewKFold(nFolds, true, g.Seed).Split(nSamples)
	}
	if err != nil {
		return nil, err
	}

	logger := g.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("model_selection")
	}

	candidates := grid.Candidates()
	results := make([]Candidate, len(candidates))
	pool := parallel.NewPool(g.NJobs)
	err = pool.Run(ctx, len(candidates), "grid search", func(ctx context.Context, c int) error {
		scores := make([]float64, len(folds))
		for k, f := range folds {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := scoreFold(est, candidates[c], scorer, X, y, f)
			if err != nil {
				return errors.Wrapf(err, "candidate %v fold %d", candidates[c], k)
			}
			scores[k] = s
		}
		mean := 0.0
		for _, s := range scores {
			mean += s
		}
		results[c] = Candidate{Params: candidates[c], FoldScores: scores, MeanScore: mean / float64(len(scores))}
		return nil
	})
	if err != nil {
		return nil, err
	}

	best := 0
	for c := 1; c < len(results); c++ {
		if results[c].MeanScore > results[best].MeanScore || math.IsNaN(results[best].MeanScore) {
			best = c
		}
	}
	logger.Debug("grid search finished",
		log.OperationKey, log.OperationTune,
		log.ScoreKey, results[best].MeanScore,
		log.HyperParamsKey, fmt.Sprint(results[best].Params),
	)
	return &SearchResult{
		BestParams: results[best].Params,
		BestScore:  results[best].MeanScore,
		Candidates: results,
	}, nil
}

func scoreFold(est model.Learner, params map[string]interface{}, scorer metrics.Scorer, X mat.Matrix, y []float64, f Fold) (float64, error) {
	l, err := model.CloneWithParams(est, params)
	if err != nil {
		return 0, err
	}
	if err := l.Fit(ExtractRows(X, f.Train), ExtractVec(y, f.Train)); err != nil {
		return 0, err
	}

	xTest := ExtractRows(X, f.Test)
	if scorer.Name == EstimatorScore {
		return l.(model.Scorer).Score(xTest, ExtractVec(y, f.Test))
	}
	var pred mat.Matrix
	col := 0
	if scorer.Proba {
		pred, err = l.(model.Classifier).PredictProba(xTest)
		col = 1
	} else if p, ok := l.(model.Predictor); ok {
		pred, err = p.Predict(xTest)
	} else {
		return 0, errors.NewValidationError("estimator", "does not implement Predict", fmt.Sprintf("%T", l))
	}
	if err != nil {
		return 0, err
	}

	yTrue := mat.NewVecDense(len(f.Test), nil)
	yPred := mat.NewVecDense(len(f.Test), nil)
	for i, idx := range f.Test {
		yTrue.SetVec(i, y[idx])
		yPred.SetVec(i, pred.At(i, col))
	}
	return scorer.Fn(yTrue, yPred)
}
