package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ProbaPredictor はクラス確率を予測できるモデルのインターフェース
type ProbaPredictor interface {
	// PredictProba は各クラスの確率を (n_samples, n_classes) で返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Learner は交差適合で使われる学習器の最小インターフェース。
// Clone は未学習で同じハイパーパラメータを持つ独立したコピーを返す。
// フォールドごとのワーカーはそれぞれ自分のクローンを所有する。
type Learner interface {
	Fitter
	Clone() Learner
}

// Regressor は条件付き期待値を学習する回帰器
type Regressor interface {
	Learner
	Predictor
}

// Classifier は二値ターゲットの確率を学習する分類器
type Classifier interface {
	Learner
	ProbaPredictor
}
