package split

import (
	"fmt"
	"math"
	"math/rand/v2"

	"timelapsemap/pkg/profile"
)

// SingleCellParams configures SingleCellSplits.
type SingleCellParams struct {
	WellColumn        string
	TrackColumn       string
	SplitColumn       string
	GroundTruthColumn string

	// TrainFraction and ValFraction apply per well to cells with ground
	// truth; the remainder is test.
	TrainFraction float64
	ValFraction   float64
	Seed          uint64
}

// DefaultSingleCellParams returns the 80/10/10 split.
func DefaultSingleCellParams() SingleCellParams {
	return SingleCellParams{
		WellColumn:        "Metadata_Well",
		TrackColumn:       "Metadata_sc_unique_track_id",
		SplitColumn:       "Metadata_data_split",
		GroundTruthColumn: "Metadata_ground_truth_present",
		TrainFraction:     0.8,
		ValFraction:       0.1,
	}
}

// Counts tallies rows per split label and ground-truth state.
type Counts map[string]struct{ WithTruth, WithoutTruth int }

// SingleCellSplits labels every row of cells. A cell has ground truth when
// its track id appears in the matched endpoint table. Cells of wells the
// wells table marks test are held out whole; in the other wells, cells with
// ground truth are split per well into train, val and test, and cells
// without ground truth go to test. Row order and count are preserved.
func SingleCellSplits(cells, endpoint, wells *profile.Table, p SingleCellParams) (*profile.Table, Counts, error) {
	if p.TrainFraction <= 0 || p.ValFraction < 0 || p.TrainFraction+p.ValFraction > 1 {
		return nil, nil, fmt.Errorf("split: invalid fractions train=%v val=%v", p.TrainFraction, p.ValFraction)
	}
	matched, err := endpoint.Strings(p.TrackColumn)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint: %w", err)
	}
	hasTruth := make(map[string]bool, len(matched))
	for _, id := range matched {
		hasTruth[id] = true
	}
	tracks, err := cells.Strings(p.TrackColumn)
	if err != nil {
		return nil, nil, err
	}

	out := cells.Clone()
	if err := LabelByWell(out, wells, p.WellColumn, p.SplitColumn, true); err != nil {
		return nil, nil, err
	}
	labels, _ := out.Strings(p.SplitColumn)
	truth := make([]bool, len(tracks))
	var candidates []int
	for r, id := range tracks {
		truth[r] = hasTruth[id]
		if labels[r] == WellHoldout {
			continue
		}
		if truth[r] {
			candidates = append(candidates, r)
		} else {
			labels[r] = Test
		}
	}

	byWell, err := out.Take(candidates).GroupBy(p.WellColumn)
	if err != nil {
		return nil, nil, err
	}
	rng := rand.New(rand.NewPCG(p.Seed, 0))
	for _, g := range byWell {
		n := len(g.Rows)
		nTrain := int(math.Round(p.TrainFraction * float64(n)))
		nVal := min(int(math.Round(p.ValFraction*float64(n))), n-nTrain)
		for k, i := range rng.Perm(n) {
			r := candidates[g.Rows[i]]
			switch {
			case k < nTrain:
				labels[r] = Train
			case k < nTrain+nVal:
				labels[r] = Val
			default:
				labels[r] = Test
			}
		}
	}

	if err := out.AddString(p.SplitColumn, labels); err != nil {
		return nil, nil, err
	}
	if err := out.AddBool(p.GroundTruthColumn, truth); err != nil {
		return nil, nil, err
	}
	counts := make(Counts)
	for r, l := range labels {
		c := counts[l]
		if truth[r] {
			c.WithTruth++
		} else {
			c.WithoutTruth++
		}
		counts[l] = c
	}
	return out, counts, nil
}
