package aggregate

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SamplingSpace is the parameter grid of the cell-count sweep.
type SamplingSpace struct {
	Seeds       []int64
	Percentages []float64
}

// NewSamplingSpace draws n seeds uniformly from [0, maxSeed) with a
// generator seeded by seed, and lays out steps percentages evenly from
// start to 1, rounded to two decimals.
func NewSamplingSpace(seed uint64, n int, maxSeed int64, start float64, steps int) (SamplingSpace, error) {
	if n <= 0 || maxSeed <= 0 {
		return SamplingSpace{}, fmt.Errorf("aggregate: need a positive seed count and range, got %d and %d", n, maxSeed)
	}
	if steps < 1 || start <= 0 || start > 1 {
		return SamplingSpace{}, fmt.Errorf("aggregate: bad percentage grid start=%v steps=%d", start, steps)
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	var s SamplingSpace
	s.Seeds = make([]int64, n)
	for i := range s.Seeds {
		s.Seeds[i] = rng.Int64N(maxSeed)
	}
	s.Percentages = make([]float64, steps)
	for i := range s.Percentages {
		v := 1.0
		if steps > 1 {
			v = start + (1-start)*float64(i)/float64(steps-1)
		}
		s.Percentages[i] = math.Round(v*100) / 100
	}
	return s, nil
}
