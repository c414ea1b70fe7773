package matching

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapsemap/pkg/profile"
)

// trackedTable builds tracked cells from parallel slices.
func trackedTable(t *testing.T, wells []string, fovs []int64, tracks []int64, times, xs, ys []float64) *profile.Table {
	t.Helper()
	tbl, err := profile.FromColumns("",
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewIntColumn("Metadata_FOV", fovs),
		profile.NewIntColumn("Metadata_track_id", tracks),
		profile.NewFloatColumn("Metadata_Time", times),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_X", xs),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_Y", ys),
	)
	require.NoError(t, err)
	return tbl
}

func endpointTable(t *testing.T, wells []string, fovs []int64, xs, ys []float64) *profile.Table {
	t.Helper()
	feat := make([]float64, len(wells))
	for i := range feat {
		feat[i] = float64(i)
	}
	tbl, err := profile.FromColumns("",
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewIntColumn("Metadata_FOV", fovs),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_X", xs),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_Y", ys),
		profile.NewFloatColumn("Cells_Intensity_MeanIntensity_AnnexinV", feat),
	)
	require.NoError(t, err)
	return tbl
}

func newMatcher(t *testing.T, tb TieBreak) *Matcher {
	t.Helper()
	p := DefaultParams()
	p.TieBreak = tb
	m, err := NewMatcher(p)
	require.NoError(t, err)
	return m
}

func TestMatchThresholdIsStrict(t *testing.T) {
	tracked := trackedTable(t,
		[]string{"C02", "C02"}, []int64{1, 1}, []int64{1, 2},
		[]float64{12, 12}, []float64{0, 100}, []float64{0, 100},
	)
	endpoint := endpointTable(t,
		[]string{"C02", "C02", "C02"}, []int64{1, 1, 1},
		[]float64{9.99, 110.01, 10}, []float64{0, 100, 0},
	)

	out, sum, err := newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	ids, err := out.Strings("Metadata_sc_unique_track_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"C02_1_1"}, ids)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 3, sum.EndpointRows)

	x, err := out.Floats("Metadata_Nuclei_Location_Center_X")
	require.NoError(t, err)
	assert.Equal(t, []float64{9.99}, x)
}

func TestMatchOnlyWithinWellFOV(t *testing.T) {
	tracked := trackedTable(t,
		[]string{"C02", "C03"}, []int64{1, 1}, []int64{1, 1},
		[]float64{12, 12}, []float64{5, 5}, []float64{5, 5},
	)
	endpoint := endpointTable(t,
		[]string{"C02", "C02", "C03"}, []int64{2, 1, 1},
		[]float64{5, 5, 6}, []float64{5, 5, 6},
	)

	out, sum, err := newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	require.NoError(t, err)
	ids, err := out.Strings("Metadata_sc_unique_track_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"C02_1_1", "C03_1_1"}, ids)
	keys, err := out.Strings("Metadata_Well_FOV")
	require.NoError(t, err)
	assert.Equal(t, []string{"C02_1", "C03_1"}, keys)
	assert.Equal(t, 3, sum.Groups)
}

func TestMatchTieBreak(t *testing.T) {
	// Track 1 is nearer, track 2 comes later in the tracked table.
	tracked := trackedTable(t,
		[]string{"C02", "C02"}, []int64{1, 1}, []int64{1, 2},
		[]float64{12, 12}, []float64{1, 6}, []float64{0, 0},
	)
	endpoint := endpointTable(t, []string{"C02"}, []int64{1}, []float64{0}, []float64{0})

	out, sum, err := newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	require.NoError(t, err)
	ids, _ := out.Strings("Metadata_sc_unique_track_id")
	assert.Equal(t, []string{"C02_1_2"}, ids)
	assert.Equal(t, 1, sum.Ambiguous)

	out, _, err = newMatcher(t, TieBreakNearest).Match(tracked, endpoint)
	require.NoError(t, err)
	ids, _ = out.Strings("Metadata_sc_unique_track_id")
	assert.Equal(t, []string{"C02_1_1"}, ids)
}

func TestMatchExcludesMissingCentroids(t *testing.T) {
	tracked := trackedTable(t,
		[]string{"C02", "C02"}, []int64{1, 1}, []int64{1, 2},
		[]float64{12, 12}, []float64{0, math.NaN()}, []float64{0, 0},
	)
	endpoint := endpointTable(t,
		[]string{"C02", "C02"}, []int64{1, 1},
		[]float64{math.NaN(), 1}, []float64{0, 0},
	)

	out, sum, err := newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Excluded)
	assert.Equal(t, 1, out.NumRows())
	ids, _ := out.Strings("Metadata_sc_unique_track_id")
	assert.Equal(t, []string{"C02_1_1"}, ids)
}

func TestMatchSetsTerminalTime(t *testing.T) {
	tracked := trackedTable(t,
		[]string{"C02"}, []int64{1}, []int64{4},
		[]float64{12}, []float64{0}, []float64{0},
	)
	endpoint := endpointTable(t, []string{"C02"}, []int64{1}, []float64{2}, []float64{2})

	out, _, err := newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	require.NoError(t, err)
	times, err := out.Floats("Metadata_Time")
	require.NoError(t, err)
	assert.Equal(t, []float64{13}, times)
}

func TestMatchAtMostOneRowPerEndpointCell(t *testing.T) {
	n := 50
	wells := make([]string, n)
	fovs := make([]int64, n)
	tracks := make([]int64, n)
	times := make([]float64, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		wells[i] = "D04"
		fovs[i] = 2
		tracks[i] = int64(i)
		times[i] = 12
		xs[i] = float64(i%5) * 3
		ys[i] = float64(i/5) * 3
	}
	tracked := trackedTable(t, wells, fovs, tracks, times, xs, ys)
	endpoint := endpointTable(t, wells[:10], fovs[:10], xs[:10], ys[:10])

	out, sum, err := newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	require.NoError(t, err)
	assert.Equal(t, 10, out.NumRows())
	assert.Equal(t, 10, sum.Matched)
}

func TestMatchMissingColumn(t *testing.T) {
	tracked := trackedTable(t, []string{"C02"}, []int64{1}, []int64{1}, []float64{1}, []float64{0}, []float64{0})
	endpoint, err := profile.FromColumns("", profile.NewStringColumn("Metadata_Well", []string{"C02"}))
	require.NoError(t, err)

	_, _, err = newMatcher(t, TieBreakLast).Match(tracked, endpoint)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestNewMatcherRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.Threshold = 0
	_, err := NewMatcher(p)
	assert.Error(t, err)

	p = DefaultParams()
	p.TieBreak = "first"
	_, err = NewMatcher(p)
	assert.Error(t, err)
}

func TestLastObservedAndTrackLengths(t *testing.T) {
	tracked := trackedTable(t,
		[]string{"C02", "C02", "C02", "C02"}, []int64{1, 1, 1, 1}, []int64{1, 1, 2, 1},
		[]float64{0, 2, 5, 1}, []float64{0, 1, 2, 3}, []float64{0, 0, 0, 0},
	)

	require.NoError(t, TrackLengths(tracked, DefaultParams()))
	counts, err := tracked.Floats("Metadata_sc_unique_track_id_count")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 1, 3}, counts)

	last, err := LastObserved(tracked, DefaultParams())
	require.NoError(t, err)
	times, err := last.Floats("Metadata_Time")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, times)
}

func TestAddTrackIDs(t *testing.T) {
	tracked := trackedTable(t, []string{"E07"}, []int64{3}, []int64{11}, []float64{0}, []float64{0}, []float64{0})
	require.NoError(t, AddTrackIDs(tracked, DefaultParams()))
	assert.Equal(t, "E07_3_11", tracked.Value("Metadata_sc_unique_track_id", 0))
	assert.Equal(t, "E07_3", tracked.Value("Metadata_Well_FOV", 0))
	assert.Equal(t, UniqueTrackID("E07", "3", "11"), tracked.Value("Metadata_sc_unique_track_id", 0))
}
