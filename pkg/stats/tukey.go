package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// TukeyPair is one row of a Tukey honest-significant-difference table.
type TukeyPair struct {
	Group1   string
	Group2   string
	MeanDiff float64
	PAdj     float64
	Lower    float64
	Upper    float64
	Reject   bool
}

// TukeyHSD compares every pair of group means, controlling the family-wise
// error rate at alpha. Pairs are ordered by group, with Group1 before Group2.
// MeanDiff is mean(Group2) - mean(Group1).
func TukeyHSD(values []float64, groups []string, alpha float64) ([]TukeyPair, error) {
	samples, err := partition(values, groups)
	if err != nil {
		return nil, err
	}
	res, err := anova(samples)
	if err != nil {
		return nil, err
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("stats: alpha must be in (0, 1), got %v", alpha)
	}
	k := len(samples)
	mse := res.SSWithin / res.DFWithin
	crit := QTukey(1-alpha, k, res.DFWithin)

	means := make([]float64, k)
	for i, s := range samples {
		means[i] = stat.Mean(s.values, nil)
	}
	out := make([]TukeyPair, 0, k*(k-1)/2)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			diff := means[j] - means[i]
			se := math.Sqrt(mse / 2 * (1/float64(len(samples[i].values)) + 1/float64(len(samples[j].values))))
			pair := TukeyPair{
				Group1:   samples[i].label,
				Group2:   samples[j].label,
				MeanDiff: diff,
				Lower:    diff - crit*se,
				Upper:    diff + crit*se,
			}
			switch {
			case se == 0 && diff == 0:
				pair.PAdj = 1
			case se == 0:
				pair.PAdj = 0
			default:
				pair.PAdj = clamp01(1 - PTukey(math.Abs(diff)/se, k, res.DFWithin))
			}
			pair.Reject = pair.PAdj < alpha
			out = append(out, pair)
		}
	}
	return out, nil
}
