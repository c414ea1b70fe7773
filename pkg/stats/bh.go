// Package stats implements the hypothesis tests and linear models used to
// compare morphology features across doses and time.
package stats

import (
	"errors"
	"math"
	"sort"
)

// ErrInsufficientData is returned when a test has too few observations or
// groups to be computed.
var ErrInsufficientData = errors.New("stats: insufficient data")

// BenjaminiHochberg returns false-discovery-rate adjusted p-values in the
// input order. NaN inputs stay NaN and do not count towards the number of tests.
func BenjaminiHochberg(pvals []float64) []float64 {
	out := make([]float64, len(pvals))
	idx := make([]int, 0, len(pvals))
	for i, p := range pvals {
		if math.IsNaN(p) {
			out[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return out
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return pvals[idx[i]] < pvals[idx[j]]
	})

	minP := 1.0
	for i := n - 1; i >= 0; i-- {
		orig := idx[i]
		adjusted := pvals[orig] * float64(n) / float64(i+1)
		if adjusted > 1 {
			adjusted = 1
		}
		if adjusted < minP {
			minP = adjusted
		} else {
			adjusted = minP
		}
		out[orig] = adjusted
	}
	return out
}
