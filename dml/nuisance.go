package dml

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/core/parallel"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// PredictMethod selects how out-of-fold predictions are produced.
type PredictMethod int

const (
	// MethodPredict uses Predictor.Predict (conditional mean).
	MethodPredict PredictMethod = iota
	// MethodPredictProba uses ProbaPredictor.PredictProba and keeps the
	// positive-class column.
	MethodPredictProba
)

func (m PredictMethod) String() string {
	if m == MethodPredictProba {
		return "predict_proba"
	}
	return "predict"
}

type cvConfig struct {
	trainMask []bool
	logger    log.Logger
	name      string
}

// CVOption configures CrossValPredict.
type CVOption func(*cvConfig)

// WithTrainMask restricts the training rows of every fold to rows where
// mask is true. Test rows are not restricted.
func WithTrainMask(mask []bool) CVOption {
	return func(c *cvConfig) { c.trainMask = mask }
}

// WithCVLogger sets the logger and the learner name used in per-fold records.
func WithCVLogger(logger log.Logger, learnerName string) CVOption {
	return func(c *cvConfig) {
		c.logger = logger
		c.name = learnerName
	}
}

// CrossValPredict fits a clone of learner on the train rows of every fold and
// predicts its test rows. The result has length n and holds NaN at rows that
// are in no test set.
//
// params, when non-nil, holds one parameter map per fold (nil entries keep the
// learner's defaults). Folds run concurrently on pool; each worker owns its clone.
func CrossValPredict(ctx context.Context, pool *parallel.Pool, learner model.Learner, x mat.Matrix, target []float64,
	folds []msel.Fold, method PredictMethod, params []map[string]interface{}, opts ...CVOption) ([]float64, error) {
	cfg := cvConfig{name: "learner"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.GetLoggerWithName("dml")
	}

	n, _ := x.Dims()
	if len(target) != n {
		return nil, errors.NewDimensionError("CrossValPredict", n, len(target), 0)
	}
	if params != nil && len(params) != len(folds) {
		return nil, errors.NewDimensionError("CrossValPredict(params)", len(folds), len(params), 0)
	}
	if cfg.trainMask != nil && len(cfg.trainMask) != n {
		return nil, errors.NewDimensionError("CrossValPredict(mask)", n, len(cfg.trainMask), 0)
	}
	switch method {
	case MethodPredict:
		if _, ok := learner.(model.Predictor); !ok {
			return nil, errors.NewValidationError(cfg.name, "learner does not implement Predict", fmt.Sprintf("%T", learner))
		}
	case MethodPredictProba:
		if _, ok := learner.(model.ProbaPredictor); !ok {
			return nil, errors.NewValidationError(cfg.name, "learner does not implement PredictProba", fmt.Sprintf("%T", learner))
		}
		if !isBinary(target) {
			return nil, errors.NewValidationError(cfg.name, "classifier target must be binary with values 0 and 1", nil)
		}
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = nan
	}

	err := pool.Run(ctx, len(folds), cfg.name, func(ctx context.Context, k int) error {
		var p map[string]interface{}
		if params != nil {
			p = params[k]
		}
		train := folds[k].Train
		if cfg.trainMask != nil {
			train = maskIndices(train, cfg.trainMask)
			if len(train) == 0 {
				return errors.NewValidationError(cfg.name,
					fmt.Sprintf("no training observations left in fold %d after conditioning", k), 0)
			}
		}
		pred, err := fitPredictFold(learner, p, x, target, train, folds[k].Test, method)
		if err != nil {
			return errors.Wrapf(err, "%s fold %d", cfg.name, k)
		}
		for i, idx := range folds[k].Test {
			out[idx] = pred[i]
		}
		cfg.logger.Debug("fold fitted",
			log.LearnerKey, cfg.name,
			log.FoldKey, k,
			log.SamplesKey, len(train),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fitPredictFold(learner model.Learner, params map[string]interface{}, x mat.Matrix, target []float64,
	train, test []int, method PredictMethod) ([]float64, error) {
	l, err := model.CloneWithParams(learner, params)
	if err != nil {
		return nil, err
	}
	if err := l.Fit(msel.ExtractRows(x, train), msel.ExtractVec(target, train)); err != nil {
		return nil, err
	}

	xTest := msel.ExtractRows(x, test)
	var pred mat.Matrix
	col := 0
	if method == MethodPredictProba {
		pred, err = l.(model.ProbaPredictor).PredictProba(xTest)
		col = 1
	} else {
		pred, err = l.(model.Predictor).Predict(xTest)
	}
	if err != nil {
		return nil, err
	}
	r, c := pred.Dims()
	if r != len(test) || c <= col {
		return nil, errors.NewDimensionError("predict", len(test), r, 0)
	}
	return mat.Col(nil, col, pred), nil
}

func maskIndices(idx []int, mask []bool) []int {
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if mask[i] {
			out = append(out, i)
		}
	}
	return out
}

// CheckFinitePredictions returns a NonFiniteError naming the learner when any
// prediction on a test row of folds is NaN or Inf.
func CheckFinitePredictions(preds []float64, learner, treatment string, rep int, folds []msel.Fold) error {
	nBad := errors.CountNonFinite(preds, testIndices(folds))
	if nBad > 0 {
		return errors.NewNonFiniteError(learner, treatment, rep, len(folds), nBad)
	}
	return nil
}

// predictMethodFor picks predict_proba for classifiers and predict otherwise.
// CrossValPredict rejects a classifier whose target is not binary.
func predictMethodFor(l model.Learner) PredictMethod {
	if _, ok := l.(model.Classifier); ok {
		return MethodPredictProba
	}
	return MethodPredict
}
