package metrics

import (
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// BrierScore は陽性クラス確率の平均二乗誤差を計算する
func BrierScore(yTrue, yProb *mat.VecDense) (float64, error) {
	if yTrue != nil && yTrue.Len() > 0 {
		if _, err := checkBinary("BrierScore", yTrue); err != nil {
			return 0, err
		}
	}
	for i := 0; yProb != nil && i < yProb.Len(); i++ {
		if p := yProb.AtVec(i); p < 0 || p > 1 {
			return 0, errors.NewValueError("BrierScore", "probabilities must lie in [0, 1]")
		}
	}
	return MSE(yTrue, yProb)
}
