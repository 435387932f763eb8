package model

import (
	"fmt"

	causalErrors "github.com/YuminosukeSato/causalgo/pkg/errors"
)

var errLearnerWithoutParams = causalErrors.New("learner does not implement SetParams")

// ToFloat64 converts a hyperparameter value decoded from YAML or JSON.
func ToFloat64(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, causalErrors.NewValidationError(name, fmt.Sprintf("expected a number, got %T", v), v)
	}
}

// ToInt converts a hyperparameter value to int.
func ToInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, causalErrors.NewValidationError(name, "expected an integer", v)
		}
		return int(x), nil
	default:
		return 0, causalErrors.NewValidationError(name, fmt.Sprintf("expected an integer, got %T", v), v)
	}
}

// ToBool converts a hyperparameter value to bool.
func ToBool(name string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, causalErrors.NewValidationError(name, fmt.Sprintf("expected a bool, got %T", v), v)
	}
	return b, nil
}
