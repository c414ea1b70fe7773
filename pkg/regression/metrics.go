package regression

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"timelapsemap/internal/models"
)

// Score computes MAE, MSE, R² and explained variance of yPred against yTrue.
// Each metric is computed per output column and averaged uniformly. A
// constant target scores R² (and explained variance) 1 when predicted
// exactly and 0 otherwise.
func Score(yTrue, yPred mat.Matrix) (models.ModelScore, error) {
	n, q := yTrue.Dims()
	pn, pq := yPred.Dims()
	if n != pn || q != pq {
		return models.ModelScore{}, fmt.Errorf("regression: truth is %dx%d, prediction is %dx%d", n, q, pn, pq)
	}
	var s models.ModelScore
	truth := make([]float64, n)
	pred := make([]float64, n)
	resid := make([]float64, n)
	for j := 0; j < q; j++ {
		mat.Col(truth, j, yTrue)
		mat.Col(pred, j, yPred)
		var abs, sq float64
		for i := range truth {
			resid[i] = truth[i] - pred[i]
			abs += math.Abs(resid[i])
			sq += resid[i] * resid[i]
		}
		s.MAE += abs / float64(n)
		s.MSE += sq / float64(n)

		mean := stat.Mean(truth, nil)
		var tot float64
		for _, v := range truth {
			tot += (v - mean) * (v - mean)
		}
		s.R2 += ratioScore(sq, tot)

		_, residVar := stat.PopMeanVariance(resid, nil)
		s.EVS += ratioScore(residVar, tot/float64(n))
	}
	s.MAE /= float64(q)
	s.MSE /= float64(q)
	s.R2 /= float64(q)
	s.EVS /= float64(q)
	return s, nil
}

func ratioScore(num, den float64) float64 {
	if den == 0 {
		if num == 0 {
			return 1
		}
		return 0
	}
	return 1 - num/den
}
