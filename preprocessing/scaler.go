// Package preprocessing provides feature scaling for nuisance learners.
//
// Scaling statistics must come from the training rows of each fold only,
// so the scaler is applied through a learner wrapper that fits it inside
// Fit rather than once on the full sample.
package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// StandardScaler はデータを平均0、標準偏差1に変換する
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64
	// Scale は各特徴量の標準偏差 (定数列は 1)
	Scale []float64

	WithMean bool
	WithStd  bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{state: model.NewStateManager(), WithMean: withMean, WithStd: withStd}
}

// Fit は訓練データから平均と標準偏差 (母分散) を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	for j := 0; j < c; j++ {
		mean := 0.0
		for i := 0; i < r; i++ {
			mean += X.At(i, j)
		}
		mean /= float64(r)

		scale := 1.0
		if s.WithStd {
			ss := 0.0
			for i := 0; i < r; i++ {
				d := X.At(i, j) - mean
				ss += d * d
			}
			if sd := math.Sqrt(ss / float64(r)); sd > 1e-12 {
				scale = sd
			}
		}
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = scale
	}
	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform は学習済みの統計量でデータを変換する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, errors.NewDimensionError("StandardScaler.Transform", len(s.Mean), c, 1)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化を元に戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, errors.NewDimensionError("StandardScaler.InverseTransform", len(s.Mean), c, 1)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(i, j)*s.Scale[j]+s.Mean[j])
		}
	}
	return out, nil
}

func (s *StandardScaler) String() string {
	if !s.state.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	nf, ns := s.state.GetDimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d, n_samples=%d)",
		s.WithMean, s.WithStd, nf, ns)
}

// scaled standardizes the covariates before delegating to the inner learner.
type scaled struct {
	inner  model.Learner
	scaler *StandardScaler
}

// Standardize wraps l so that every Fit standardizes its training rows and
// every prediction reuses those statistics. The wrapper keeps the capability
// of l: a classifier stays a classifier and a regressor stays a regressor.
func Standardize(l model.Learner) (model.Learner, error) {
	if l == nil {
		return nil, errors.NewValueError("Standardize", "learner is nil")
	}
	s := scaled{inner: l.Clone(), scaler: NewStandardScaler(true, true)}
	switch l.(type) {
	case model.Classifier:
		return &scaledClassifier{s}, nil
	case model.Regressor:
		return &scaledRegressor{s}, nil
	}
	return nil, errors.NewValueError("Standardize", fmt.Sprintf("%T has neither Predict nor PredictProba", l))
}

func (s *scaled) fit(X, y mat.Matrix) error {
	xs, err := s.scaler.FitTransform(X)
	if err != nil {
		return err
	}
	return s.inner.Fit(xs, y)
}

func (s *scaled) clone() scaled {
	return scaled{inner: s.inner.Clone(), scaler: NewStandardScaler(s.scaler.WithMean, s.scaler.WithStd)}
}

// GetParams forwards to the inner learner.
func (s *scaled) GetParams() map[string]interface{} {
	if pg, ok := s.inner.(model.ParamGetter); ok {
		return pg.GetParams()
	}
	return map[string]interface{}{}
}

// SetParams forwards to the inner learner.
func (s *scaled) SetParams(params map[string]interface{}) error {
	ps, ok := s.inner.(model.ParamSetter)
	if !ok {
		return errors.NewValueError("Standardize", fmt.Sprintf("%T does not accept parameters", s.inner))
	}
	return ps.SetParams(params)
}

type scaledRegressor struct{ scaled }

func (r *scaledRegressor) Fit(X, y mat.Matrix) error { return r.fit(X, y) }

func (r *scaledRegressor) Clone() model.Learner { return &scaledRegressor{r.clone()} }

func (r *scaledRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	xs, err := r.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return r.inner.(model.Predictor).Predict(xs)
}

type scaledClassifier struct{ scaled }

func (c *scaledClassifier) Fit(X, y mat.Matrix) error { return c.fit(X, y) }

func (c *scaledClassifier) Clone() model.Learner { return &scaledClassifier{c.clone()} }

func (c *scaledClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	xs, err := c.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return c.inner.(model.ProbaPredictor).PredictProba(xs)
}

var (
	_ model.Regressor   = (*scaledRegressor)(nil)
	_ model.ParamSetter = (*scaledRegressor)(nil)
	_ model.Classifier  = (*scaledClassifier)(nil)
	_ model.ParamSetter = (*scaledClassifier)(nil)
)
