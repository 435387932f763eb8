package metrics

import (
	"fmt"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Scorer はチューニング用のスコア関数。値が大きいほど良い。
// Proba が true の場合、yPred は陽性クラスの確率を受け取る。
type Scorer struct {
	Name  string
	Proba bool
	Fn    func(yTrue, yPred *mat.VecDense) (float64, error)
}

// NegMSE は負の平均二乗誤差を返す
func NegMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	return -mse, err
}

func negate(fn func(yTrue, yPred *mat.VecDense) (float64, error)) func(yTrue, yPred *mat.VecDense) (float64, error) {
	return func(yTrue, yPred *mat.VecDense) (float64, error) {
		v, err := fn(yTrue, yPred)
		return -v, err
	}
}

var scorers = map[string]Scorer{
	"neg_mean_squared_error":      {Name: "neg_mean_squared_error", Fn: NegMSE},
	"neg_root_mean_squared_error": {Name: "neg_root_mean_squared_error", Fn: negate(RMSE)},
	"neg_mean_absolute_error":     {Name: "neg_mean_absolute_error", Fn: negate(MAE)},
	"r2":                          {Name: "r2", Fn: R2Score},
	"neg_log_loss":                {Name: "neg_log_loss", Proba: true, Fn: negate(BinaryLogLoss)},
	"accuracy":                    {Name: "accuracy", Fn: Accuracy},
}

// GetScorer は名前からScorerを取得する
func GetScorer(name string) (Scorer, error) {
	s, ok := scorers[name]
	if !ok {
		return Scorer{}, errors.NewValidationError("scoring", fmt.Sprintf("unknown scorer %q", name), name)
	}
	return s, nil
}
