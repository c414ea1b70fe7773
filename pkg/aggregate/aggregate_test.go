package aggregate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapsemap/pkg/profile"
)

// cellTable builds 2 wells x 2 timepoints x 10 cells with a feature equal to
// the cell number.
func cellTable(t *testing.T) *profile.Table {
	t.Helper()
	var wells, doses []string
	var times, feat []float64
	for _, w := range []string{"C02", "C03"} {
		for _, tp := range []float64{0, 1} {
			for c := 0; c < 10; c++ {
				wells = append(wells, w)
				doses = append(doses, "0.61")
				times = append(times, tp)
				feat = append(feat, float64(c))
			}
		}
	}
	tbl, err := profile.FromColumns("",
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewFloatColumn("Metadata_Time", times),
		profile.NewStringColumn("Metadata_dose", doses),
		profile.NewFloatColumn("Nuclei_AreaShape_Area", feat),
	)
	require.NoError(t, err)
	return tbl
}

func TestSubsample(t *testing.T) {
	tbl := cellTable(t)
	sub, err := Subsample(tbl, DefaultStrata, 0.25, 3)
	require.NoError(t, err)
	// round(2.5) = 2 per stratum
	assert.Equal(t, 8, sub.NumRows())

	again, err := Subsample(tbl, DefaultStrata, 0.25, 3)
	require.NoError(t, err)
	a, _ := sub.Floats("Nuclei_AreaShape_Area")
	b, _ := again.Floats("Nuclei_AreaShape_Area")
	assert.Equal(t, a, b)

	all, err := Subsample(tbl, DefaultStrata, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, tbl.NumRows(), all.NumRows())

	_, err = Subsample(tbl, DefaultStrata, 0, 3)
	assert.Error(t, err)
}

func TestSubsampleN(t *testing.T) {
	tbl := cellTable(t)
	sub, err := SubsampleN(tbl, DefaultStrata, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 12, sub.NumRows())

	groups, err := sub.GroupBy(DefaultStrata...)
	require.NoError(t, err)
	require.Len(t, groups, 4)
	area, _ := sub.Floats("Nuclei_AreaShape_Area")
	for _, g := range groups {
		require.Len(t, g.Rows, 3)
		seen := make(map[float64]bool)
		for _, r := range g.Rows {
			assert.False(t, seen[area[r]], "cell drawn twice")
			seen[area[r]] = true
		}
	}

	again, err := SubsampleN(tbl, DefaultStrata, 3, 0)
	require.NoError(t, err)
	b, _ := again.Floats("Nuclei_AreaShape_Area")
	assert.Equal(t, area, b)

	_, err = SubsampleN(tbl, DefaultStrata, 11, 0)
	assert.ErrorIs(t, err, ErrStratumTooSmall)
	_, err = SubsampleN(tbl, DefaultStrata, 0, 0)
	assert.Error(t, err)
}

func TestMedian(t *testing.T) {
	tbl := cellTable(t)
	vals, _ := tbl.Floats("Nuclei_AreaShape_Area")
	vals[0] = math.NaN()
	require.NoError(t, tbl.AddFloat("Nuclei_AreaShape_Area", vals))

	out, err := Median(tbl, DefaultStrata, []string{"Nuclei_AreaShape_Area"})
	require.NoError(t, err)
	require.Equal(t, 4, out.NumRows())
	assert.Equal(t, []string{"Metadata_Well", "Metadata_Time", "Metadata_dose", "Nuclei_AreaShape_Area"}, out.Names())

	med, _ := out.Floats("Nuclei_AreaShape_Area")
	assert.Equal(t, []float64{5, 4.5, 4.5, 4.5}, med)
	wells, _ := out.Strings("Metadata_Well")
	assert.Equal(t, []string{"C02", "C02", "C03", "C03"}, wells)
}

func TestMedianAllMissing(t *testing.T) {
	tbl, err := profile.FromColumns("",
		profile.NewStringColumn("Metadata_Well", []string{"A", "A"}),
		profile.NewFloatColumn("Metadata_Time", []float64{0, 0}),
		profile.NewFloatColumn("f", []float64{math.NaN(), math.NaN()}),
	)
	require.NoError(t, err)
	out, err := Median(tbl, DefaultStrata, []string{"f"})
	require.NoError(t, err)
	v, _ := out.Floats("f")
	assert.True(t, math.IsNaN(v[0]))
}

func TestCellCounts(t *testing.T) {
	tbl := cellTable(t)
	sub, err := Subsample(tbl, DefaultStrata, 0.5, 1)
	require.NoError(t, err)
	require.NoError(t, CellCounts(sub, DefaultStrata, "Metadata_number_of_singlecells"))
	counts, _ := sub.Floats("Metadata_number_of_singlecells")
	for _, c := range counts {
		assert.Equal(t, 5.0, c)
	}
}

func TestSamplingSpace(t *testing.T) {
	s, err := NewSamplingSpace(0, 100, 1000000, 0.1, 10)
	require.NoError(t, err)
	assert.Len(t, s.Seeds, 100)
	for _, v := range s.Seeds {
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(1000000))
	}
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}, s.Percentages)

	again, err := NewSamplingSpace(0, 100, 1000000, 0.1, 10)
	require.NoError(t, err)
	assert.Equal(t, s.Seeds, again.Seeds)

	_, err = NewSamplingSpace(0, 0, 10, 0.1, 10)
	assert.Error(t, err)
}
