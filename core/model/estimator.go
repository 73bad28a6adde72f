package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う（n×1 のラベル列）
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ParameterGetter はハイパーパラメータを公開するモデルのインターフェース
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter はハイパーパラメータを変更可能なモデルのインターフェース
type ParameterSetter interface {
	// SetParams は未知のキーや型の合わない値に対して ValidationError を返す
	SetParams(params map[string]interface{}) error
}

// Classifier は分類器のインターフェース
//
// PredictProba は n×len(Classes()) の行列を返し、列の順序は Classes() と一致する。
// 学習済みの分類器は gob でエンコード可能でなければならない。
type Classifier interface {
	Fitter
	Predictor
	ParameterGetter
	ParameterSetter

	// PredictProba は各クラスの確率を返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes は学習時に観測したクラスを昇順で返す
	Classes() []int

	// Clone は同じハイパーパラメータを持つ未学習のコピーを返す
	Clone() Classifier
}
