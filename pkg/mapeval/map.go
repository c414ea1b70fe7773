package mapeval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"timelapsemap/pkg/profile"
	"timelapsemap/pkg/stats"
)

// Output column names of MeanAveragePrecision
const (
	ColMAP             = "mean_average_precision"
	ColPValue          = "p_value"
	ColCorrectedP      = "corrected_p_value"
	ColBelowP          = "below_p"
	ColBelowCorrectedP = "below_corrected_p"
	ColNegLog10P       = "-log10(p-value)"
)

// NullOptions configures the permutation null of MeanAveragePrecision.
type NullOptions struct {
	// Size is the number of random APs drawn per configuration
	Size      int
	Threshold float64
	Seed      uint64
}

// MeanAveragePrecision averages the APs of ap within every group of sameBy and
// calibrates each mean against a null distribution: for every query the AP of
// its positives shuffled among its pairs, averaged over the group's queries.
// p_value = (#{null >= mAP} + 1) / (Size + 1). Rows with NaN AP are ignored.
// Groups keep first-appearance order.
func MeanAveragePrecision(ctx context.Context, ap *profile.Table, sameBy []string, opts NullOptions) (*profile.Table, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("mapeval: null size must be positive, got %d", opts.Size)
	}
	scores, err := ap.Floats(ColAP)
	if err != nil {
		return nil, err
	}
	valid := ap.Filter(func(r int) bool { return !math.IsNaN(scores[r]) })
	scores, _ = valid.Floats(ColAP)
	nPos, err := valid.Floats(ColPosPairs)
	if err != nil {
		return nil, err
	}
	nTotal, err := valid.Floats(ColTotalPairs)
	if err != nil {
		return nil, err
	}
	groups, err := valid.GroupBy(sameBy...)
	if err != nil {
		return nil, err
	}

	seen := make(map[nullConfig]bool)
	var configs []nullConfig
	for r := range scores {
		cfg := nullConfig{nPos: int(nPos[r]), nTotal: int(nTotal[r])}
		if !seen[cfg] {
			seen[cfg] = true
			configs = append(configs, cfg)
		}
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].nPos != configs[j].nPos {
			return configs[i].nPos < configs[j].nPos
		}
		return configs[i].nTotal < configs[j].nTotal
	})
	nulls, err := nullDistributions(ctx, configs, opts.Size, opts.Seed)
	if err != nil {
		return nil, err
	}

	first := make([]int, len(groups))
	maps := make([]float64, len(groups))
	pvals := make([]float64, len(groups))
	mean := make([]float64, opts.Size)
	for gi, g := range groups {
		first[gi] = g.Rows[0]
		var sum float64
		for i := range mean {
			mean[i] = 0
		}
		for _, r := range g.Rows {
			sum += scores[r]
			dist := nulls[nullConfig{nPos: int(nPos[r]), nTotal: int(nTotal[r])}]
			for i, v := range dist {
				mean[i] += v
			}
		}
		m := sum / float64(len(g.Rows))
		count := 0
		for i := range mean {
			if mean[i]/float64(len(g.Rows)) >= m {
				count++
			}
		}
		maps[gi] = m
		pvals[gi] = float64(count+1) / float64(opts.Size+1)
	}
	corrected := stats.BenjaminiHochberg(pvals)

	keys, err := valid.Select(sameBy...)
	if err != nil {
		return nil, err
	}
	out := keys.Take(first)
	belowP := make([]bool, len(groups))
	belowC := make([]bool, len(groups))
	for i := range groups {
		belowP[i] = pvals[i] < opts.Threshold
		belowC[i] = corrected[i] < opts.Threshold
	}
	for _, c := range []*profile.Column{
		profile.NewFloatColumn(ColMAP, maps),
		profile.NewFloatColumn(ColPValue, pvals),
		profile.NewFloatColumn(ColCorrectedP, corrected),
		profile.NewBoolColumn(ColBelowP, belowP),
		profile.NewBoolColumn(ColBelowCorrectedP, belowC),
	} {
		if err := out.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
