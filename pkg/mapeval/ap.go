// Package mapeval scores how well treatment groups separate from a reference
// group in feature space, using average precision over similarity rankings
// and a permutation-calibrated mean average precision.
package mapeval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"timelapsemap/pkg/profile"
)

// Output column names
const (
	ColPosPairs   = "n_pos_pairs"
	ColTotalPairs = "n_total_pairs"
	ColAP         = "average_precision"
)

// ErrMissingFeatures is returned when a profile holds NaN feature values.
var ErrMissingFeatures = errors.New("mapeval: profile has missing feature values")

// Pairing defines positive and negative pairs by metadata columns. A pair is
// "same" on a list when it agrees on every listed column and "diff" when it
// disagrees on every listed column. Empty lists always hold.
type Pairing struct {
	PosSameBy []string
	PosDiffBy []string
	NegSameBy []string
	NegDiffBy []string
}

// ReferencePairing compares each treated profile against its own treatment
// group (positives) and the reference profiles (negatives).
func ReferencePairing(treatmentCol, refIndexCol string) Pairing {
	return Pairing{
		PosSameBy: []string{treatmentCol, refIndexCol},
		NegDiffBy: []string{treatmentCol, refIndexCol},
	}
}

func (p Pairing) columns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{p.PosSameBy, p.PosDiffBy, p.NegSameBy, p.NegDiffBy} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

type keys map[string][]string

func (k keys) same(cols []string, i, j int) bool {
	for _, c := range cols {
		if k[c][i] != k[c][j] {
			return false
		}
	}
	return true
}

func (k keys) diff(cols []string, i, j int) bool {
	for _, c := range cols {
		if k[c][i] == k[c][j] {
			return false
		}
	}
	return true
}

// AveragePrecision ranks, for every query profile, its positive and negative
// partners by cosine similarity and returns the metadata of meta with
// n_pos_pairs, n_total_pairs and average_precision appended. Tied similarities
// are scored by the expected precision over all orderings of the tie, so the
// result does not depend on row order. A query without any positive or any
// negative partner gets NaN.
func AveragePrecision(ctx context.Context, meta *profile.Table, feats [][]float64, p Pairing) (*profile.Table, error) {
	n := meta.NumRows()
	if len(feats) != n {
		return nil, fmt.Errorf("mapeval: %d feature rows for %d metadata rows", len(feats), n)
	}
	k := make(keys)
	for _, c := range p.columns() {
		vals, err := meta.Strings(c)
		if err != nil {
			return nil, err
		}
		k[c] = vals
	}
	unit, err := normalize(feats)
	if err != nil {
		return nil, err
	}

	nPos := make([]int64, n)
	nTotal := make([]int64, n)
	ap := make([]float64, n)

	g, ctx := errgroup.WithContext(ctx)
	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		start, end := start, min(start+chunk, n)
		g.Go(func() error {
			ranked := make([]scored, 0, n)
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				ranked = ranked[:0]
				for j := 0; j < n; j++ {
					if j == i {
						continue
					}
					pos := k.same(p.PosSameBy, i, j) && k.diff(p.PosDiffBy, i, j)
					neg := !pos && k.same(p.NegSameBy, i, j) && k.diff(p.NegDiffBy, i, j)
					if !pos && !neg {
						continue
					}
					ranked = append(ranked, scored{sim: cosine(unit[i], unit[j]), pos: pos})
				}
				np := 0
				for _, s := range ranked {
					if s.pos {
						np++
					}
				}
				nPos[i] = int64(np)
				nTotal[i] = int64(len(ranked))
				if np == 0 || np == len(ranked) {
					ap[i] = math.NaN()
					continue
				}
				ap[i] = expectedAP(ranked, np)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := meta.Clone()
	if err := out.AddInt(ColPosPairs, nPos); err != nil {
		return nil, err
	}
	if err := out.AddInt(ColTotalPairs, nTotal); err != nil {
		return nil, err
	}
	if err := out.AddFloat(ColAP, ap); err != nil {
		return nil, err
	}
	return out, nil
}

type scored struct {
	sim float64
	pos bool
}

// expectedAP sorts ranked by decreasing similarity and returns the average
// precision, averaging over the orderings of each block of tied scores.
func expectedAP(ranked []scored, nPos int) float64 {
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	var sum float64
	before, tpBefore := 0, 0
	for i := 0; i < len(ranked); {
		j := i
		r := 0
		for j < len(ranked) && ranked[j].sim == ranked[i].sim {
			if ranked[j].pos {
				r++
			}
			j++
		}
		size := j - i
		if r > 0 {
			rf, nf := float64(r), float64(size)
			for m := 1; m <= size; m++ {
				others := 0.0
				if size > 1 {
					others = float64(m-1) * (rf - 1) / (nf - 1)
				}
				sum += rf / nf * (float64(tpBefore) + 1 + others) / float64(before+m)
			}
		}
		before += size
		tpBefore += r
		i = j
	}
	return sum / float64(nPos)
}

// normalize scales every row to unit length. Zero rows stay zero.
func normalize(feats [][]float64) ([][]float64, error) {
	out := make([][]float64, len(feats))
	for i, row := range feats {
		if floats.HasNaN(row) {
			return nil, fmt.Errorf("%w: row %d", ErrMissingFeatures, i)
		}
		u := make([]float64, len(row))
		copy(u, row)
		if norm := floats.Norm(u, 2); norm > 0 {
			floats.Scale(1/norm, u)
		}
		out[i] = u
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	return floats.Dot(a, b)
}
