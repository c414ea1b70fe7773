// Package aggregate collapses single-cell profiles into well-level profiles
// and draws the seeded subsamples used by the cell-count sweeps.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/montanaflynn/stats"

	"timelapsemap/pkg/profile"
)

// DefaultStrata groups single cells into one profile per well and timepoint.
var DefaultStrata = []string{"Metadata_Well", "Metadata_Time"}

// ErrStratumTooSmall is returned by SubsampleN when a stratum holds fewer rows
// than requested.
var ErrStratumTooSmall = errors.New("aggregate: stratum smaller than sample")

// Subsample keeps a seeded random fraction of the rows of every stratum.
// Each stratum keeps round(fraction*n) rows, rounding half to even. The
// selected rows keep their input order.
func Subsample(t *profile.Table, strata []string, fraction float64, seed uint64) (*profile.Table, error) {
	if fraction <= 0 || fraction > 1 || math.IsNaN(fraction) {
		return nil, fmt.Errorf("aggregate: fraction must be in (0, 1], got %v", fraction)
	}
	groups, err := t.GroupBy(strata...)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	keep := make([]bool, t.NumRows())
	for _, g := range groups {
		n := int(math.RoundToEven(fraction * float64(len(g.Rows))))
		for _, i := range rng.Perm(len(g.Rows))[:n] {
			keep[g.Rows[i]] = true
		}
	}
	return t.Filter(func(r int) bool { return keep[r] }), nil
}

// SubsampleN keeps n seeded random rows of every stratum, without
// replacement. Every stratum must hold at least n rows. The selected rows keep
// their input order.
func SubsampleN(t *profile.Table, strata []string, n int, seed uint64) (*profile.Table, error) {
	if n <= 0 {
		return nil, fmt.Errorf("aggregate: sample size must be positive, got %d", n)
	}
	groups, err := t.GroupBy(strata...)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	keep := make([]bool, t.NumRows())
	for _, g := range groups {
		if len(g.Rows) < n {
			return nil, fmt.Errorf("%w: %v has %d rows, need %d", ErrStratumTooSmall, g.Values, len(g.Rows), n)
		}
		for _, i := range rng.Perm(len(g.Rows))[:n] {
			keep[g.Rows[i]] = true
		}
	}
	return t.Filter(func(r int) bool { return keep[r] }), nil
}

// Median returns one row per stratum. Metadata columns take the value of the
// stratum's first row; each listed feature becomes the median of its non-NaN
// values, or NaN when there are none. Strata keep first-appearance order.
func Median(t *profile.Table, strata []string, features []string) (*profile.Table, error) {
	groups, err := t.GroupBy(strata...)
	if err != nil {
		return nil, err
	}
	first := make([]int, len(groups))
	for i, g := range groups {
		first[i] = g.Rows[0]
	}
	isFeature := make(map[string]bool, len(features))
	for _, f := range features {
		isFeature[f] = true
	}
	var meta []string
	for _, name := range t.MetadataColumns() {
		if !isFeature[name] {
			meta = append(meta, name)
		}
	}
	head, err := t.Select(meta...)
	if err != nil {
		return nil, err
	}
	out := head.Take(first)

	for _, f := range features {
		vals, err := t.Numeric(f)
		if err != nil {
			return nil, err
		}
		med := make([]float64, len(groups))
		buf := make([]float64, 0, t.NumRows())
		for i, g := range groups {
			buf = buf[:0]
			for _, r := range g.Rows {
				if !math.IsNaN(vals[r]) {
					buf = append(buf, vals[r])
				}
			}
			m, err := stats.Median(buf)
			if errors.Is(err, stats.ErrEmptyInput) {
				m = math.NaN()
			} else if err != nil {
				return nil, fmt.Errorf("median of %s: %w", f, err)
			}
			med[i] = m
		}
		if err := out.AddFloat(f, med); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CellCounts adds, to every row, the number of rows in its stratum.
func CellCounts(t *profile.Table, strata []string, column string) error {
	groups, err := t.GroupBy(strata...)
	if err != nil {
		return err
	}
	counts := make([]int64, t.NumRows())
	for _, g := range groups {
		for _, r := range g.Rows {
			counts[r] = int64(len(g.Rows))
		}
	}
	return t.AddInt(column, counts)
}
