package linear_model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Ridge is linear least squares with an L2 penalty alpha*||w||^2.
// The intercept is not penalized: features and target are centered before
// solving (X'X + alpha*I) w = X'y.
type Ridge struct {
	state *model.StateManager

	alpha        float64
	fitIntercept bool

	coef_      []float64
	intercept_ float64
}

// RidgeOption is a functional option for Ridge
type RidgeOption func(*Ridge)

// WithRidgeAlpha sets the regularization strength.
func WithRidgeAlpha(alpha float64) RidgeOption {
	return func(r *Ridge) {
		r.alpha = alpha
	}
}

// WithRidgeFitIntercept sets whether to fit intercept.
func WithRidgeFitIntercept(fit bool) RidgeOption {
	return func(r *Ridge) {
		r.fitIntercept = fit
	}
}

// NewRidge creates a Ridge regressor with alpha=1.
func NewRidge(opts ...RidgeOption) *Ridge {
	r := &Ridge{state: model.NewStateManager(), alpha: 1.0, fitIntercept: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fit solves the penalized normal equations with a Cholesky factorization.
func (r *Ridge) Fit(X, y mat.Matrix) error {
	if r.alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", r.alpha)
	}
	n, p := X.Dims()
	ny, cy := y.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("Ridge.Fit", "empty data", errors.ErrEmptyData)
	}
	if ny != n {
		return errors.NewDimensionError("Ridge.Fit", n, ny, 0)
	}
	if cy != 1 {
		return errors.NewValueError("Ridge.Fit", "y must be a column vector")
	}

	xs := mat.DenseCopyOf(X)
	yv := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yv.SetVec(i, y.At(i, 0))
	}

	xMean := make([]float64, p)
	yMean := 0.0
	if r.fitIntercept {
		for j := 0; j < p; j++ {
			xMean[j] = mat.Sum(xs.ColView(j)) / float64(n)
		}
		yMean = mat.Sum(yv) / float64(n)
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				xs.Set(i, j, xs.At(i, j)-xMean[j])
			}
			yv.SetVec(i, yv.AtVec(i)-yMean)
		}
	}

	var gram mat.SymDense
	gram.SymOuterK(1, xs.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.alpha)
	}

	var xty mat.VecDense
	xty.MulVec(xs.T(), yv)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return errors.NewModelError("Ridge.Fit", "singular matrix", errors.ErrSingularMatrix)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &xty); err != nil {
		return errors.NewModelError("Ridge.Fit", "singular matrix", err)
	}

	r.coef_ = mat.Col(nil, 0, &w)
	r.intercept_ = yMean
	for j := 0; j < p; j++ {
		r.intercept_ -= xMean[j] * r.coef_[j]
	}
	r.state.SetDimensions(p, n)
	r.state.SetFitted()
	return nil
}

// Predict returns X*w + b.
func (r *Ridge) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := r.state.RequireFitted("Ridge", "Predict"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if p != len(r.coef_) {
		return nil, errors.NewDimensionError("Ridge.Predict", len(r.coef_), p, 1)
	}
	var out mat.VecDense
	out.MulVec(X, mat.NewVecDense(p, r.coef_))
	pred := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		pred.Set(i, 0, out.AtVec(i)+r.intercept_)
	}
	return pred, nil
}

// Weights returns the fitted coefficients.
func (r *Ridge) Weights() []float64 { return append([]float64(nil), r.coef_...) }

// Intercept returns the fitted intercept.
func (r *Ridge) Intercept() float64 { return r.intercept_ }

// Clone returns an unfitted copy with the same hyperparameters.
func (r *Ridge) Clone() model.Learner {
	return &Ridge{state: model.NewStateManager(), alpha: r.alpha, fitIntercept: r.fitIntercept}
}

// GetParams returns the model hyperparameters
func (r *Ridge) GetParams() map[string]interface{} {
	return map[string]interface{}{"alpha": r.alpha, "fit_intercept": r.fitIntercept}
}

// SetParams sets the model hyperparameters
func (r *Ridge) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "alpha":
			r.alpha, err = model.ToFloat64(key, value)
		case "fit_intercept":
			r.fitIntercept, err = model.ToBool(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for Ridge", value)
		}
		if err != nil {
			return err
		}
	}
	r.state.Reset()
	return nil
}

var (
	_ model.Regressor   = (*Ridge)(nil)
	_ model.ParamSetter = (*Ridge)(nil)
)
