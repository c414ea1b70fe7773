package stats

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ANOVAResult is a one-way analysis of variance table.
type ANOVAResult struct {
	SSBetween float64
	SSWithin  float64
	DFBetween float64
	DFWithin  float64
	F         float64
	P         float64
}

// sample is the set of observations sharing one group label.
type sample struct {
	label  string
	values []float64
}

// partition groups values by label, skipping NaN observations. Labels are
// ordered numerically when they all parse as numbers and lexically otherwise.
func partition(values []float64, groups []string) ([]sample, error) {
	if len(values) != len(groups) {
		return nil, fmt.Errorf("stats: %d values but %d group labels", len(values), len(groups))
	}
	pos := make(map[string]int)
	var out []sample
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		g, ok := pos[groups[i]]
		if !ok {
			g = len(out)
			pos[groups[i]] = g
			out = append(out, sample{label: groups[i]})
		}
		out[g].values = append(out[g].values, v)
	}
	SortLabels(out, func(s sample) string { return s.label })
	return out, nil
}

// SortLabels orders items by label, numerically when every label is a number.
func SortLabels[T any](items []T, label func(T) string) {
	numeric := true
	for _, it := range items {
		if _, err := strconv.ParseFloat(label(it), 64); err != nil {
			numeric = false
			break
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := label(items[i]), label(items[j])
		if numeric {
			fa, _ := strconv.ParseFloat(a, 64)
			fb, _ := strconv.ParseFloat(b, 64)
			return fa < fb
		}
		return a < b
	})
}

// OneWayANOVA tests whether the group means of values are equal.
func OneWayANOVA(values []float64, groups []string) (ANOVAResult, error) {
	samples, err := partition(values, groups)
	if err != nil {
		return ANOVAResult{}, err
	}
	return anova(samples)
}

func anova(samples []sample) (ANOVAResult, error) {
	var all []float64
	for _, s := range samples {
		all = append(all, s.values...)
	}
	k := len(samples)
	n := len(all)
	if k < 2 || n <= k {
		return ANOVAResult{}, fmt.Errorf("%w: %d groups, %d observations", ErrInsufficientData, k, n)
	}
	grand := stat.Mean(all, nil)

	var res ANOVAResult
	for _, s := range samples {
		m := stat.Mean(s.values, nil)
		res.SSBetween += float64(len(s.values)) * (m - grand) * (m - grand)
		for _, v := range s.values {
			res.SSWithin += (v - m) * (v - m)
		}
	}
	res.DFBetween = float64(k - 1)
	res.DFWithin = float64(n - k)

	msb := res.SSBetween / res.DFBetween
	msw := res.SSWithin / res.DFWithin
	switch {
	case msw == 0 && msb == 0:
		res.F, res.P = math.NaN(), math.NaN()
	case msw == 0:
		res.F, res.P = math.Inf(1), 0
	default:
		res.F = msb / msw
		res.P = distuv.F{D1: res.DFBetween, D2: res.DFWithin}.Survival(res.F)
	}
	return res, nil
}
