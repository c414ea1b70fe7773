package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"timelapsemap/pkg/profile"
)

func TestBenjaminiHochberg(t *testing.T) {
	got := BenjaminiHochberg([]float64{0.01, 0.04, 0.03, 0.005})
	want := []float64{0.02, 0.04, 0.04, 0.02}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}

	got = BenjaminiHochberg([]float64{0.5, math.NaN(), 0.9})
	assert.InDelta(t, 0.9, got[0], 1e-12)
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 0.9, got[2], 1e-12)

	assert.Empty(t, BenjaminiHochberg(nil))
}

func TestOneWayANOVA(t *testing.T) {
	res, err := OneWayANOVA(
		[]float64{1, 2, 3, 4, 5, 6},
		[]string{"a", "a", "a", "b", "b", "b"},
	)
	require.NoError(t, err)
	assert.InDelta(t, 13.5, res.SSBetween, 1e-12)
	assert.InDelta(t, 4, res.SSWithin, 1e-12)
	assert.InDelta(t, 13.5, res.F, 1e-12)
	assert.InDelta(t, 0.0213, res.P, 5e-4)

	_, err = OneWayANOVA([]float64{1, 2}, []string{"a", "a"})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPTukeyTwoGroupsMatchesStudentsT(t *testing.T) {
	for _, df := range []float64{3, 10, 40} {
		tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		for _, q := range []float64{0.5, 1.5, 3, 5} {
			want := 2*tdist.CDF(q/math.Sqrt2) - 1
			assert.InDelta(t, want, PTukey(q, 2, df), 1e-4, "q=%v df=%v", q, df)
		}
	}
}

func TestQTukeyKnownQuantiles(t *testing.T) {
	assert.InDelta(t, 3.877, QTukey(0.95, 3, 10), 0.01)
	assert.InDelta(t, 1.959964*math.Sqrt2, QTukey(0.95, 2, math.Inf(1)), 0.005)
	assert.Equal(t, 0.0, QTukey(0, 3, 10))
	assert.True(t, math.IsNaN(QTukey(0.5, 1, 10)))
}

func TestTukeyHSD(t *testing.T) {
	values := []float64{
		1.0, 1.1, 0.9, 1.05,
		5.0, 5.1, 4.9, 5.05,
		10.0, 10.1, 9.9, 10.05,
	}
	groups := []string{
		"0.0", "0.0", "0.0", "0.0",
		"1.22", "1.22", "1.22", "1.22",
		"10.0", "10.0", "10.0", "10.0",
	}
	pairs, err := TukeyHSD(values, groups, 0.05)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, "0.0", pairs[0].Group1)
	assert.Equal(t, "1.22", pairs[0].Group2)
	assert.Equal(t, "10.0", pairs[2].Group2)
	assert.InDelta(t, 4.0, pairs[0].MeanDiff, 1e-9)
	for _, p := range pairs {
		assert.True(t, p.Reject)
		assert.Less(t, p.PAdj, 0.001)
		assert.Less(t, p.Lower, p.MeanDiff)
		assert.Greater(t, p.Upper, p.MeanDiff)
	}
}

func TestTukeyHSDNoDifference(t *testing.T) {
	values := []float64{1, 2, 3, 1, 2, 3, 1, 2, 3}
	groups := []string{"a", "a", "a", "b", "b", "b", "c", "c", "c"}
	pairs, err := TukeyHSD(values, groups, 0.05)
	require.NoError(t, err)
	for _, p := range pairs {
		assert.False(t, p.Reject)
		assert.InDelta(t, 1.0, p.PAdj, 1e-6)
	}
}

func TestFitOLS(t *testing.T) {
	n := 40
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x1 := float64(i)
		x2 := float64((i * 7) % 11)
		x.Set(i, 0, x1)
		x.Set(i, 1, x2)
		y[i] = 1 + 2*x1 - 3*x2 + 0.01*math.Sin(float64(i))
	}
	res, err := FitOLS(x, y, []string{"x1", "x2"})
	require.NoError(t, err)

	assert.Equal(t, []string{ConstName, "x1", "x2"}, res.Names)
	assert.InDelta(t, 1, res.Coef[0], 0.05)
	assert.InDelta(t, 2, res.Coef[1], 1e-3)
	assert.InDelta(t, -3, res.Coef[2], 1e-3)
	assert.Less(t, res.P[1], 1e-10)
	assert.InDelta(t, 1, res.R2, 1e-6)
	assert.Equal(t, 3, res.Rank)
	assert.Equal(t, float64(n-3), res.DFResid)
}

func TestFitOLSCollinearDesign(t *testing.T) {
	n := 10
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		x.Set(i, 1, 2*float64(i))
		y[i] = float64(i) + float64(i%2)
	}
	res, err := FitOLS(x, y, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rank)
	// Minimum-norm solution splits the slope 1:2 across the collinear pair.
	assert.InDelta(t, 2*res.Coef[1], res.Coef[2], 1e-9)
}

func TestFitOLSInsufficientData(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	_, err := FitOLS(x, []float64{1, 2}, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

// doseTable builds well-level profiles over time with a dose and time effect.
func doseTable(t *testing.T) *profile.Table {
	t.Helper()
	var (
		tm, count, feat, flat, empty []float64
		dose                         []string
		wells                        []string
	)
	doses := []string{"0.0", "0.61", "1.22", "2.44"}
	for w, d := range doses {
		for time := 0; time < 6; time++ {
			for rep := 0; rep < 2; rep++ {
				tm = append(tm, float64(time))
				c := 100 + float64(10*w+rep*3+time)
				count = append(count, c)
				dv := float64(w) * 0.61
				feat = append(feat, 0.5*float64(time)+2*dv+0.01*c+0.05*math.Cos(float64(len(tm))))
				flat = append(flat, float64((rep+time)%3)+float64(w)*5)
				empty = append(empty, math.NaN())
				dose = append(dose, d)
				wells = append(wells, "W"+d)
			}
		}
	}
	tbl, err := profile.FromColumns("",
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewFloatColumn("Metadata_Time", tm),
		profile.NewFloatColumn("Metadata_number_of_singlecells", count),
		profile.NewStringColumn("Metadata_dose", dose),
		profile.NewFloatColumn("Nuclei_AreaShape_Area", feat),
		profile.NewFloatColumn("Cells_Intensity_MeanIntensity_AnnexinV", flat),
		profile.NewFloatColumn("channel_DNA_scDINO_7", empty),
	)
	require.NoError(t, err)
	return tbl
}

func TestLinearModels(t *testing.T) {
	tbl := doseTable(t)
	out, skipped, err := LinearModels(tbl, tbl.FeatureColumns(), DefaultLinearParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"channel_DNA_scDINO_7"}, skipped)
	require.Equal(t, 12, out.NumRows())

	variates, err := out.Strings("variate")
	require.NoError(t, err)
	assert.Equal(t, []string{"const", "Time", "Cell count", "Dose", "Time x Cell count", "Time x Dose"}, variates[:6])

	ids, _ := out.Strings("featurizer_id")
	assert.Equal(t, "CP", ids[0])
	comp, _ := out.Strings("Compartment")
	assert.Equal(t, "Nuclei", comp[0])

	p, _ := out.Floats("p_value")
	pc, _ := out.Floats("p_value_corrected")
	for i := range p {
		assert.GreaterOrEqual(t, pc[i], p[i]-1e-12)
	}
	// The coefficients of the first feature match a QR least-squares solve of
	// the same design.
	tm, _ := tbl.Numeric("Metadata_Time")
	count, _ := tbl.Numeric("Metadata_number_of_singlecells")
	dose, _ := tbl.Numeric("Metadata_dose")
	y, _ := tbl.Numeric("Nuclei_AreaShape_Area")
	n := tbl.NumRows()
	x := mat.NewDense(n, 6, nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, []float64{1, tm[i], count[i], dose[i], count[i] * tm[i], tm[i] * dose[i]})
	}
	var want mat.Dense
	require.NoError(t, want.Solve(x, mat.NewVecDense(n, y)))
	beta, _ := out.Floats("beta")
	for j := 0; j < 6; j++ {
		w := want.At(j, 0)
		assert.InDelta(t, w, beta[j], 1e-6*math.Max(1, math.Abs(w)), "variate %s", variates[j])
	}
}

func TestTerminalANOVA(t *testing.T) {
	tbl := doseTable(t)
	anovaTbl, tukeyTbl, err := TerminalANOVA(tbl, DefaultTerminalParams())
	require.NoError(t, err)
	assert.Equal(t, 1, anovaTbl.NumRows())
	require.Equal(t, 6, tukeyTbl.NumRows())

	padj, _ := tukeyTbl.Floats("p-adj")
	bh, _ := tukeyTbl.Floats("p-adj_bh")
	for i := range padj {
		assert.GreaterOrEqual(t, bh[i], padj[i]-1e-12)
	}
	g1, _ := tukeyTbl.Strings("group1")
	g2, _ := tukeyTbl.Strings("group2")
	assert.Equal(t, "0.0", g1[0])
	assert.Equal(t, "0.61", g2[0])

	_, _, err = TerminalANOVA(tbl, TerminalParams{DoseColumn: "Metadata_dose", Contains: "Texture", Alpha: 0.05})
	assert.ErrorIs(t, err, ErrInsufficientData)
}
