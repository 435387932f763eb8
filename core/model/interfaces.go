package model

import (
	"gonum.org/v1/gonum/mat"
)

// Scorer is the interface for models that can compute a score.
type Scorer interface {
	// Score returns the coefficient of determination R^2 of the prediction.
	Score(X mat.Matrix, y mat.Matrix) (float64, error)
}

// ParamGetter is the interface for models that expose their parameters.
type ParamGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParamSetter is the interface for models that allow parameter modification.
// Nuisance parameters chosen by tuning are applied through this interface,
// so an unknown key must be reported as an error rather than ignored.
type ParamSetter interface {
	ParamGetter
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}

// CloneWithParams clones l and applies params to the clone.
// 学習器が ParamSetter を実装していない場合、空でない params はエラーになる。
func CloneWithParams(l Learner, params map[string]interface{}) (Learner, error) {
	c := l.Clone()
	if len(params) == 0 {
		return c, nil
	}
	ps, ok := c.(ParamSetter)
	if !ok {
		return nil, errLearnerWithoutParams
	}
	if err := ps.SetParams(params); err != nil {
		return nil, err
	}
	return c, nil
}
