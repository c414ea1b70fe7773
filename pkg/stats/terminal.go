package stats

import (
	"fmt"
	"strings"

	"timelapsemap/pkg/profile"
)

// TerminalParams configures the per-feature dose comparison at the endpoint.
type TerminalParams struct {
	DoseColumn string
	// Contains selects the features to test by substring
	Contains string
	Alpha    float64
}

// DefaultTerminalParams tests every intensity feature against dose.
func DefaultTerminalParams() TerminalParams {
	return TerminalParams{DoseColumn: "Metadata_dose", Contains: "Intensity", Alpha: 0.05}
}

// TerminalANOVA runs a one-way ANOVA and a Tukey HSD post-hoc test of every
// selected feature against dose. It returns the ANOVA table and the combined
// Tukey table, the latter with Benjamini-Hochberg adjusted p-adj values
// across all features in p-adj_bh.
func TerminalANOVA(t *profile.Table, p TerminalParams) (anovaTable, tukeyTable *profile.Table, err error) {
	doses, err := t.Strings(p.DoseColumn)
	if err != nil {
		return nil, nil, err
	}
	var features []string
	for _, f := range t.FeatureColumns() {
		if strings.Contains(f, p.Contains) {
			features = append(features, f)
		}
	}
	if len(features) == 0 {
		return nil, nil, fmt.Errorf("%w: no feature contains %q", ErrInsufficientData, p.Contains)
	}

	var (
		aFeature                   []string
		ssb, ssw, dfb, dfw, fs, ps []float64
		g1, g2, tFeature           []string
		diff, padj, lower, upper   []float64
		reject                     []bool
	)
	for _, f := range features {
		vals, err := t.Numeric(f)
		if err != nil {
			return nil, nil, err
		}
		res, err := OneWayANOVA(vals, doses)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", f, err)
		}
		aFeature = append(aFeature, f)
		ssb = append(ssb, res.SSBetween)
		ssw = append(ssw, res.SSWithin)
		dfb = append(dfb, res.DFBetween)
		dfw = append(dfw, res.DFWithin)
		fs = append(fs, res.F)
		ps = append(ps, res.P)

		pairs, err := TukeyHSD(vals, doses, p.Alpha)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", f, err)
		}
		for _, pr := range pairs {
			g1 = append(g1, pr.Group1)
			g2 = append(g2, pr.Group2)
			diff = append(diff, pr.MeanDiff)
			padj = append(padj, pr.PAdj)
			lower = append(lower, pr.Lower)
			upper = append(upper, pr.Upper)
			reject = append(reject, pr.Reject)
			tFeature = append(tFeature, f)
		}
	}

	anovaTable, err = profile.FromColumns(t.MetadataPrefix(),
		profile.NewStringColumn("feature", aFeature),
		profile.NewFloatColumn("sum_sq_between", ssb),
		profile.NewFloatColumn("sum_sq_within", ssw),
		profile.NewFloatColumn("df_between", dfb),
		profile.NewFloatColumn("df_within", dfw),
		profile.NewFloatColumn("F", fs),
		profile.NewFloatColumn("PR(>F)", ps),
	)
	if err != nil {
		return nil, nil, err
	}
	tukeyTable, err = profile.FromColumns(t.MetadataPrefix(),
		profile.NewStringColumn("group1", g1),
		profile.NewStringColumn("group2", g2),
		profile.NewFloatColumn("meandiff", diff),
		profile.NewFloatColumn("p-adj", padj),
		profile.NewFloatColumn("lower", lower),
		profile.NewFloatColumn("upper", upper),
		profile.NewBoolColumn("reject", reject),
		profile.NewStringColumn("feature", tFeature),
		profile.NewFloatColumn("p-adj_bh", BenjaminiHochberg(padj)),
	)
	if err != nil {
		return nil, nil, err
	}
	return anovaTable, tukeyTable, nil
}
