// Package linear_model provides the penalized linear learners used as
// nuisance models: a binary LogisticRegression for propensity scores and
// Ridge regression.
package linear_model

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// LogisticRegression implements binary logistic regression with an optional
// L2 penalty. The objective is minimized with L-BFGS from a zero start, so a
// fit is a deterministic function of its inputs.
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2", "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	maxIter      int     // Maximum iterations
	tol          float64 // Gradient norm tolerance

	// Model parameters
	coef_      []float64 // Coefficients (n_features)
	intercept_ float64   // Intercept term
	classes_   []float64 // Sorted class labels; classes_[1] is the positive class
	nIter_     int       // Actual iterations
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      100,
		tol:          1e-6,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

func (lr *LogisticRegression) validate() error {
	switch lr.penalty {
	case "l2", "none":
	default:
		return errors.NewValidationError("penalty", "must be 'l2' or 'none'", lr.penalty)
	}
	if lr.penalty == "l2" && lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter <= 0 {
		return errors.NewValidationError("max_iter", "must be positive", lr.maxIter)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit", fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}

	lr.extractClasses(y)
	if len(lr.classes_) != 2 {
		return errors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("binary target required: found %d distinct classes", len(lr.classes_)))
	}

	// 行列を一度だけ密な形式に展開する
	xs := mat.DenseCopyOf(X)
	target := make([]float64, nSamples)
	for i := 0; i < nSamples; i++ {
		if y.At(i, 0) == lr.classes_[1] {
			target[i] = 1
		}
	}

	nParams := nFeatures
	if lr.fitIntercept {
		nParams++
	}
	alpha := 0.0
	if lr.penalty == "l2" {
		alpha = 1 / lr.C
	}

	linear := func(w []float64, row []float64) float64 {
		z := floats.Dot(w[:nFeatures], row)
		if lr.fitIntercept {
			z += w[nFeatures]
		}
		return z
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			loss := 0.0
			for i := 0; i < nSamples; i++ {
				z := linear(w, xs.RawRowView(i))
				// log(1+exp(z)) - t*z
				loss += errors.Log1pExp(z) - target[i]*z
			}
			return loss + 0.5*alpha*floats.Dot(w[:nFeatures], w[:nFeatures])
		},
		Grad: func(grad, w []float64) {
			for j := range grad {
				grad[j] = 0
			}
			for i := 0; i < nSamples; i++ {
				row := xs.RawRowView(i)
				r := sigmoid(linear(w, row)) - target[i]
				floats.AddScaled(grad[:nFeatures], r, row)
				if lr.fitIntercept {
					grad[nFeatures] += r
				}
			}
			floats.AddScaled(grad[:nFeatures], alpha, w[:nFeatures])
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: lr.tol,
		MajorIterations:   lr.maxIter,
	}
	result, err := optimize.Minimize(problem, make([]float64, nParams), settings, &optimize.LBFGS{})
	if result == nil {
		return errors.NewModelError("LogisticRegression.Fit", "optimization failed", err)
	}
	if err != nil || result.Status == optimize.IterationLimit {
		msg := result.Status.String()
		if err != nil {
			msg = err.Error()
		}
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", result.Stats.MajorIterations, msg))
	}
	if floats.HasNaN(result.X) {
		return errors.NewNumericalInstabilityError("LogisticRegression.Fit", result.X, result.Stats.MajorIterations)
	}

	lr.coef_ = append([]float64(nil), result.X[:nFeatures]...)
	lr.intercept_ = 0
	if lr.fitIntercept {
		lr.intercept_ = result.X[nFeatures]
	}
	lr.nIter_ = result.Stats.MajorIterations
	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	return nil
}

// extractClasses identifies unique class labels
func (lr *LogisticRegression) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[float64]struct{})
	for i := 0; i < rows; i++ {
		classMap[y.At(i, 0)] = struct{}{}
	}

	lr.classes_ = make([]float64, 0, len(classMap))
	for class := range classMap {
		lr.classes_ = append(lr.classes_, class)
	}
	// Sort classes for consistency
	sort.Float64s(lr.classes_)
}

func (lr *LogisticRegression) decision(X mat.Matrix) (*mat.VecDense, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "Predict"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if nFeatures != len(lr.coef_) {
		return nil, errors.NewDimensionError("LogisticRegression.Predict", len(lr.coef_), nFeatures, 1)
	}
	z := mat.NewVecDense(nSamples, nil)
	z.MulVec(X, mat.NewVecDense(nFeatures, lr.coef_))
	for i := 0; i < nSamples; i++ {
		z.SetVec(i, z.AtVec(i)+lr.intercept_)
	}
	return z, nil
}

// Predict returns the predicted class label of each sample.
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	z, err := lr.decision(X)
	if err != nil {
		return nil, err
	}
	n := z.Len()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if z.AtVec(i) > 0 {
			out.Set(i, 0, lr.classes_[1])
		} else {
			out.Set(i, 0, lr.classes_[0])
		}
	}
	return out, nil
}

// PredictProba returns (n_samples, 2) class probabilities ordered as Classes().
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	z, err := lr.decision(X)
	if err != nil {
		return nil, err
	}
	n := z.Len()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p := sigmoid(z.AtVec(i))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Classes returns the sorted class labels seen during fitting.
func (lr *LogisticRegression) Classes() []float64 {
	return append([]float64(nil), lr.classes_...)
}

// Coef returns the fitted coefficients.
func (lr *LogisticRegression) Coef() []float64 {
	return append([]float64(nil), lr.coef_...)
}

// InterceptValue returns the fitted intercept.
func (lr *LogisticRegression) InterceptValue() float64 {
	return lr.intercept_
}

// NIter returns the number of optimizer iterations of the last fit.
func (lr *LogisticRegression) NIter() int {
	return lr.nIter_
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	nSamples, _ := y.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples), nil
}

// Clone returns an unfitted copy with the same hyperparameters.
func (lr *LogisticRegression) Clone() model.Learner {
	return &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      lr.penalty,
		C:            lr.C,
		fitIntercept: lr.fitIntercept,
		maxIter:      lr.maxIter,
		tol:          lr.tol,
	}
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			s, ok := value.(string)
			if !ok {
				return errors.NewValidationError(key, "expected a string", value)
			}
			lr.penalty = s
		case "C":
			lr.C, err = model.ToFloat64(key, value)
		case "fit_intercept":
			lr.fitIntercept, err = model.ToBool(key, value)
		case "max_iter":
			lr.maxIter, err = model.ToInt(key, value)
		case "tol":
			lr.tol, err = model.ToFloat64(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for LogisticRegression", value)
		}
		if err != nil {
			return err
		}
	}
	lr.state.Reset()
	return lr.validate()
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1.0 + e)
}

var (
	_ model.Classifier  = (*LogisticRegression)(nil)
	_ model.ParamSetter = (*LogisticRegression)(nil)
	_ model.Scorer      = (*LogisticRegression)(nil)
)
