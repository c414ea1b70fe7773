package stats

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"timelapsemap/pkg/profile"
)

// LinearParams names the design columns of the temporal linear model
//
//	y = b_t*time + b_c*count + b_d*dose + b_tc*(count*time) + b_td*(time*dose) + b_0
type LinearParams struct {
	TimeColumn  string
	CountColumn string
	DoseColumn  string
}

// DefaultLinearParams returns the design column names of aggregated profiles.
func DefaultLinearParams() LinearParams {
	return LinearParams{
		TimeColumn:  "Metadata_Time",
		CountColumn: "Metadata_number_of_singlecells",
		DoseColumn:  "Metadata_dose",
	}
}

const (
	interactionCountTime = "Metadata_interaction1"
	interactionTimeDose  = "Metadata_interaction2"
)

// VariateName turns a design column name into the label used in results.
func VariateName(col string) string {
	name := strings.TrimPrefix(col, profile.DefaultMetadataPrefix)
	switch name {
	case "number_of_singlecells":
		return "Cell count"
	case "dose":
		return "Dose"
	case "interaction1":
		return "Time x Cell count"
	case "interaction2":
		return "Time x Dose"
	}
	return name
}

// FeaturizerID reports which featurizer produced a feature column.
func FeaturizerID(feature string) string {
	if strings.Contains(feature, "scDINO") {
		return "scDINO"
	}
	return "CP"
}

// LinearModels fits one OLS model per feature against the temporal design and
// returns one row per (feature, variate). Design and response values that do
// not parse as numbers are treated as missing and those rows are left out of
// the fit. Features that cannot be fitted are returned in skipped.
func LinearModels(t *profile.Table, features []string, p LinearParams) (out *profile.Table, skipped []string, err error) {
	tm, err := t.Numeric(p.TimeColumn)
	if err != nil {
		return nil, nil, err
	}
	count, err := t.Numeric(p.CountColumn)
	if err != nil {
		return nil, nil, err
	}
	dose, err := t.Numeric(p.DoseColumn)
	if err != nil {
		return nil, nil, err
	}
	n := t.NumRows()
	ia := make([]float64, n)
	ib := make([]float64, n)
	for i := 0; i < n; i++ {
		ia[i] = count[i] * tm[i]
		ib[i] = tm[i] * dose[i]
	}
	design := [][]float64{tm, count, dose, ia, ib}
	names := []string{p.TimeColumn, p.CountColumn, p.DoseColumn, interactionCountTime, interactionTimeDose}

	var (
		rFeature, rVariate, rFeaturizer, rCompartment, rType []string
		rBeta, rP, rR2                                       []float64
	)
	for _, f := range features {
		y, err := t.Numeric(f)
		if err != nil {
			return nil, nil, err
		}
		var rows []int
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) {
				continue
			}
			ok := true
			for _, col := range design {
				if math.IsNaN(col[i]) {
					ok = false
					break
				}
			}
			if ok {
				rows = append(rows, i)
			}
		}
		x := mat.NewDense(max(len(rows), 1), len(design), nil)
		yy := make([]float64, len(rows))
		for r, i := range rows {
			for j, col := range design {
				x.Set(r, j, col[i])
			}
			yy[r] = y[i]
		}
		fit, err := FitOLS(x, yy, names)
		if err != nil {
			skipped = append(skipped, f)
			continue
		}
		compartment, ftype := featureParts(f)
		for j, name := range fit.Names {
			rFeature = append(rFeature, f)
			rVariate = append(rVariate, VariateName(name))
			rBeta = append(rBeta, fit.Coef[j])
			rP = append(rP, fit.P[j])
			rR2 = append(rR2, fit.R2)
			rFeaturizer = append(rFeaturizer, FeaturizerID(f))
			rCompartment = append(rCompartment, compartment)
			rType = append(rType, ftype)
		}
	}

	out, err = profile.FromColumns(t.MetadataPrefix(),
		profile.NewStringColumn("feature", rFeature),
		profile.NewStringColumn("variate", rVariate),
		profile.NewFloatColumn("beta", rBeta),
		profile.NewFloatColumn("p_value", rP),
		profile.NewFloatColumn("r2", rR2),
		profile.NewStringColumn("featurizer_id", rFeaturizer),
		profile.NewStringColumn("Compartment", rCompartment),
		profile.NewStringColumn("Feature_type", rType),
		profile.NewFloatColumn("p_value_corrected", BenjaminiHochberg(rP)),
	)
	return out, skipped, err
}

// featureParts splits a CellProfiler feature name into compartment and
// feature type. scDINO features carry neither.
func featureParts(feature string) (compartment, ftype string) {
	if FeaturizerID(feature) == "scDINO" {
		return "scDINO", "scDINO"
	}
	parts := strings.SplitN(feature, "_", 3)
	if len(parts) < 2 {
		return feature, "None"
	}
	return parts[0], parts[1]
}
