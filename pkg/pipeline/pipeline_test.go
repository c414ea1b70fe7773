package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapsemap/pkg/aggregate"
	"timelapsemap/pkg/config"
	"timelapsemap/pkg/ledger"
	"timelapsemap/pkg/profile"
	"timelapsemap/pkg/split"
	"timelapsemap/pkg/tableio"
)

func newTestRunner(t *testing.T) (*Runner, *ledger.Ledger) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.MAP.NullSize = 500
	cfg.MAP.Seed = 11
	l, err := ledger.Open(ledger.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	r, err := NewRunner(cfg, l, nil)
	require.NoError(t, err)
	return r, l
}

func writeTable(t *testing.T, path string, cols ...*profile.Column) {
	t.Helper()
	tbl, err := profile.FromColumns("", cols...)
	require.NoError(t, err)
	require.NoError(t, tableio.WriteParquet(context.Background(), path, tbl))
}

func readTable(t *testing.T, path string) *profile.Table {
	t.Helper()
	tbl, err := tableio.ReadParquet(context.Background(), path, "")
	require.NoError(t, err)
	return tbl
}

func stageRuns(t *testing.T, l *ledger.Ledger) map[string]string {
	t.Helper()
	runs, err := l.List(context.Background(), l.RunID())
	require.NoError(t, err)
	out := make(map[string]string, len(runs))
	for _, run := range runs {
		out[run.Stage] = run.Status
	}
	return out
}

// wellProfiles writes well-level profiles: two wells per dose, cells rows per
// well and timepoint, with every dose separated along its own feature axis.
func wellProfiles(t *testing.T, path string, times []float64, cells int) {
	t.Helper()
	doses := []string{"0.0", "0.61", "1.22"}
	var (
		wells, ds []string
		tm        []float64
		f         [3][]float64
	)
	for d, dose := range doses {
		for _, w := range []string{"A", "B"} {
			for _, tp := range times {
				for c := 0; c < cells; c++ {
					wells = append(wells, fmt.Sprintf("%s%d", w, d))
					ds = append(ds, dose)
					tm = append(tm, tp)
					for k := 0; k < 3; k++ {
						v := 0.05 * float64((c+k+int(tp))%3)
						if k == d {
							v = 1 + 0.1*tp + 0.03*float64(c%4)
						}
						f[k] = append(f[k], v)
					}
				}
			}
		}
	}
	writeTable(t, path,
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewStringColumn("Metadata_dose", ds),
		profile.NewFloatColumn("Metadata_Time", tm),
		profile.NewFloatColumn("Cells_AreaShape_Area", f[0]),
		profile.NewFloatColumn("Nuclei_Intensity_MeanIntensity_DNA", f[1]),
		profile.NewFloatColumn("channel_DNA_scDINO_0", f[2]),
	)
}

func TestMatchStage(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	p := MatchPaths{
		Tracked:     filepath.Join(dir, "tracked.parquet"),
		Endpoint:    filepath.Join(dir, "endpoint.parquet"),
		TrackedOut:  filepath.Join(dir, "out", "tracked.parquet"),
		EndpointOut: filepath.Join(dir, "out", "endpoint.parquet"),
	}
	writeTable(t, p.Tracked,
		profile.NewStringColumn("Metadata_Well", []string{"C02", "C02", "C02", "C02"}),
		profile.NewIntColumn("Metadata_FOV", []int64{1, 1, 1, 1}),
		profile.NewIntColumn("Metadata_track_id", []int64{1, 1, 2, 2}),
		profile.NewFloatColumn("Metadata_Time", []float64{0, 1, 0, 1}),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_X", []float64{40, 5, 100, 50}),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_Y", []float64{0, 0, 100, 100}),
		profile.NewFloatColumn("Cells_AreaShape_Area", []float64{1, 2, 3, 4}),
	)
	// The first endpoint cell is near where track 1 started but not where it
	// was last seen.
	writeTable(t, p.Endpoint,
		profile.NewStringColumn("Metadata_Well", []string{"C02", "C02", "C02", "C02"}),
		profile.NewIntColumn("Metadata_FOV", []int64{1, 1, 1, 1}),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_X", []float64{41, 6, 200, math.NaN()}),
		profile.NewFloatColumn("Metadata_Nuclei_Location_Center_Y", []float64{0, 0, 200, 5}),
		profile.NewFloatColumn("Cells_Intensity_MeanIntensity_AnnexinV", []float64{9, 8, 7, 6}),
	)

	require.NoError(t, r.Match(context.Background(), p))

	matched := readTable(t, p.EndpointOut)
	require.Equal(t, 1, matched.NumRows())
	assert.Equal(t, "C02_1_1", matched.Value("Metadata_sc_unique_track_id", 0))
	assert.Equal(t, "8", matched.Value("Cells_Intensity_MeanIntensity_AnnexinV", 0))
	assert.Equal(t, "13", matched.Value("Metadata_Time", 0))

	tracked := readTable(t, p.TrackedOut)
	require.Equal(t, 4, tracked.NumRows())
	counts, err := tracked.Floats("Metadata_sc_unique_track_id_count")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2, 2}, counts)

	assert.Equal(t, map[string]string{"match": ledger.StatusCompleted}, stageRuns(t, l))
}

func TestMAPStageWritesOneFilePerFeatureSet(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "profiles.parquet")
	wellProfiles(t, in, []float64{0, 1}, 1)

	out := filepath.Join(dir, "map")
	require.NoError(t, r.MAP(context.Background(), MAPPaths{Profiles: in, OutputDir: out, FeatureSets: []string{"CP", "scDINO"}}))

	cp := readTable(t, filepath.Join(out, "mAP_scores_CP.parquet"))
	// 2 timepoints x 2 treated doses x real and shuffled
	require.Equal(t, 8, cp.NumRows())
	assert.Equal(t, []string{"Metadata_Time", "Metadata_Shuffle"}, cp.Names()[:2])
	shuffle, err := cp.Strings("Metadata_Shuffle")
	require.NoError(t, err)
	assert.Equal(t, []string{"False", "False", "False", "False", "True", "True", "True", "True"}, shuffle)

	maps, err := cp.Floats("mean_average_precision")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, maps[i], 1e-9)
	}
	assert.FileExists(t, filepath.Join(out, "mAP_scores_scDINO.parquet"))
	assert.NoFileExists(t, filepath.Join(out, "mAP_scores_CP_scDINO.parquet"))
	assert.Equal(t, map[string]string{"map": ledger.StatusCompleted}, stageRuns(t, l))
}

func TestMAPStageRejectsUnknownFeatureSet(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "profiles.parquet")
	wellProfiles(t, in, []float64{0}, 1)

	err := r.MAP(context.Background(), MAPPaths{Profiles: in, OutputDir: dir, FeatureSets: []string{"DINOv2"}})
	assert.Error(t, err)
	assert.Equal(t, map[string]string{"map": ledger.StatusFailed}, stageRuns(t, l))
}

func TestSubsampleMAPStage(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "sc.parquet")
	wellProfiles(t, in, []float64{0, 1}, 10)

	p := SubsamplePaths{Profiles: in, OutputDir: filepath.Join(dir, "sweep"), Percentage: 0.5, Seed: 3, Shuffle: true}
	require.NoError(t, r.SubsampleMAP(context.Background(), p))

	out := readTable(t, filepath.Join(p.OutputDir, "0.5_3_True.parquet"))
	require.Equal(t, 4, out.NumRows())
	for i := 0; i < out.NumRows(); i++ {
		assert.Equal(t, "True", out.Value("Metadata_Shuffle", i))
		assert.Equal(t, "0.5", out.Value("Metadata_percentage_of_cells", i))
		assert.Equal(t, "3", out.Value("Metadata_seed", i))
	}
	assert.False(t, out.Has("shuffle"))
	assert.Subset(t, out.MetadataColumns(), []string{"Metadata_Shuffle", "Metadata_percentage_of_cells", "Metadata_seed"})
}

func TestSubsampleMAPFixedCellCount(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "sc.parquet")
	wellProfiles(t, in, []float64{0, 1}, 10)

	p := SubsamplePaths{Profiles: in, OutputDir: filepath.Join(dir, "cells"), Cells: 4}
	require.NoError(t, r.SubsampleMAP(context.Background(), p))

	out := readTable(t, filepath.Join(p.OutputDir, "4_False.parquet"))
	require.Equal(t, 4, out.NumRows())
	for i := 0; i < out.NumRows(); i++ {
		assert.Equal(t, "False", out.Value("Metadata_Shuffle", i))
		assert.Equal(t, "4", out.Value("Metadata_number_of_cells", i))
		assert.Equal(t, "0", out.Value("Metadata_seed", i))
	}
	assert.False(t, out.Has("Metadata_percentage_of_cells"))

	p.Cells = 11
	assert.ErrorIs(t, r.SubsampleMAP(context.Background(), p), aggregate.ErrStratumTooSmall)
}

func TestSubsampleSweepRunsEveryPoint(t *testing.T) {
	r, l := newTestRunner(t)
	r.cfg.Sampling.Iterations = 2
	r.cfg.Sampling.Start = 0.5
	r.cfg.Sampling.Steps = 2
	dir := t.TempDir()
	in := filepath.Join(dir, "sc.parquet")
	wellProfiles(t, in, []float64{0, 1}, 4)

	space := filepath.Join(dir, "space")
	require.NoError(t, r.SamplingSpace(context.Background(), space))
	out := filepath.Join(dir, "sweep")
	require.NoError(t, r.SubsampleSweep(context.Background(), SweepPaths{Profiles: in, SpaceDir: space, OutputDir: out}))

	seeds, err := tableio.ReadInts(filepath.Join(space, "seeds.txt"))
	require.NoError(t, err)
	distinct := make(map[int64]bool)
	for _, s := range seeds {
		distinct[s] = true
	}
	files, err := filepath.Glob(filepath.Join(out, "*.parquet"))
	require.NoError(t, err)
	// 2 percentages x seeds x real and shuffled
	assert.Len(t, files, 2*len(distinct)*2)
	for _, shuffle := range []string{"True", "False"} {
		assert.FileExists(t, filepath.Join(out, fmt.Sprintf("1_%d_%s.parquet", seeds[0], shuffle)))
		assert.FileExists(t, filepath.Join(out, fmt.Sprintf("0.5_%d_%s.parquet", seeds[1], shuffle)))
	}

	combined := filepath.Join(dir, "combined.parquet")
	require.NoError(t, r.Combine(context.Background(), filepath.Join(out, "*.parquet"), combined))
	// 2 timepoints x 2 treated doses per file
	assert.Equal(t, 4*len(files), readTable(t, combined).NumRows())

	assert.Equal(t, map[string]string{
		"sampling_space":  ledger.StatusCompleted,
		"subsample_sweep": ledger.StatusCompleted,
		"combine":         ledger.StatusCompleted,
	}, stageRuns(t, l))
}

func TestSubsampleSweepNeedsSamplingSpace(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "sc.parquet")
	wellProfiles(t, in, []float64{0}, 2)
	err := r.SubsampleSweep(context.Background(), SweepPaths{Profiles: in, SpaceDir: dir, OutputDir: dir})
	assert.ErrorIs(t, err, tableio.ErrNotExist)
}

func TestChannelMAPStage(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "profiles.parquet")
	var (
		wells, doses []string
		tm           []float64
		dna, cl, sh  []float64
	)
	for d, dose := range []string{"0.0", "0.61", "1.22"} {
		for _, w := range []string{"A", "B", "C"} {
			for _, tp := range []float64{0, 1} {
				wells = append(wells, fmt.Sprintf("%s%d", w, d))
				doses = append(doses, dose)
				tm = append(tm, tp)
				dna = append(dna, float64(d)+0.01*tp)
				cl = append(cl, float64(2-d)+0.02*float64(len(wells)%3))
				sh = append(sh, 0.1*float64(len(wells)%4))
			}
		}
	}
	writeTable(t, in,
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewStringColumn("Metadata_dose", doses),
		profile.NewFloatColumn("Metadata_Time", tm),
		profile.NewFloatColumn("Nuclei_Intensity_MeanIntensity_DNA", dna),
		profile.NewFloatColumn("Cells_Intensity_MeanIntensity_CL_488_1", cl),
		profile.NewFloatColumn("Cells_AreaShape_Area", sh),
	)
	out := filepath.Join(dir, "mAP_across_channels.parquet")
	require.NoError(t, r.ChannelMAP(context.Background(), ChannelMAPPaths{Profiles: in, Output: out}))

	scores := readTable(t, out)
	// 4 sets (DNA, CL_488_1, All, None) x real and shuffled x 2 timepoints x 2 doses
	require.Equal(t, 32, scores.NumRows())
	channels, err := scores.Strings("Metadata_Channel")
	require.NoError(t, err)
	shuffled, err := scores.Strings("Metadata_Shuffle")
	require.NoError(t, err)
	perSet := make(map[string]int)
	for i, ch := range channels {
		if shuffled[i] == "False" {
			perSet[ch]++
		}
	}
	assert.Equal(t, map[string]int{"DNA": 4, "CL_488_1": 4, "All": 4, "None": 4}, perSet)
	assert.Equal(t, "DNA", channels[0])
	assert.Equal(t, "True", shuffled[31])
}

func TestEndpointMAPStage(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "endpoint.parquet")
	wellProfiles(t, in, []float64{13}, 3)
	// Image-level endpoint profiles carry no time column.
	tbl := readTable(t, in).Drop("Metadata_Time")
	require.NoError(t, tableio.WriteParquet(context.Background(), in, tbl))

	out := filepath.Join(dir, "map.parquet")
	require.NoError(t, r.EndpointMAP(context.Background(), in, out))

	scores := readTable(t, out)
	require.Equal(t, 2, scores.NumRows())
	assert.False(t, scores.Has("Metadata_Time"))
	doses, err := scores.Strings("Metadata_dose")
	require.NoError(t, err)
	assert.Equal(t, []string{"0.61", "1.22"}, doses)
	maps, err := scores.Floats("mean_average_precision")
	require.NoError(t, err)
	for _, m := range maps {
		assert.InDelta(t, 1.0, m, 1e-9)
	}
	assert.Equal(t, map[string]string{"endpoint_map": ledger.StatusCompleted}, stageRuns(t, l))
}

func TestSamplingSpaceStage(t *testing.T) {
	r, _ := newTestRunner(t)
	r.cfg.Sampling.Iterations = 5
	r.cfg.Sampling.Start = 0.25
	r.cfg.Sampling.Steps = 4
	dir := t.TempDir()

	require.NoError(t, r.SamplingSpace(context.Background(), dir))

	pcts, err := tableio.ReadFloats(filepath.Join(dir, "percentage.txt"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, pcts)
	seeds, err := tableio.ReadInts(filepath.Join(dir, "seeds.txt"))
	require.NoError(t, err)
	assert.Len(t, seeds, 5)
}

func TestCombineStage(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	writeTable(t, filepath.Join(dir, "parts", "b.parquet"),
		profile.NewFloatColumn("Metadata_Time", []float64{2}),
		profile.NewFloatColumn("mean_average_precision", []float64{0.4}),
	)
	writeTable(t, filepath.Join(dir, "parts", "a.parquet"),
		profile.NewFloatColumn("Metadata_Time", []float64{0, 1}),
		profile.NewFloatColumn("mean_average_precision", []float64{0.9, 0.8}),
		profile.NewStringColumn("Metadata_Shuffle", []string{"False", "False"}),
	)
	out := filepath.Join(dir, "combined.parquet")
	require.NoError(t, r.Combine(context.Background(), filepath.Join(dir, "parts", "*.parquet"), out))

	combined := readTable(t, out)
	times, err := combined.Floats("Metadata_Time")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, times)
	assert.Equal(t, "", combined.Value("Metadata_Shuffle", 2))

	err = r.Combine(context.Background(), filepath.Join(dir, "none", "*.parquet"), out)
	assert.ErrorIs(t, err, tableio.ErrNotExist)
	assert.Equal(t, map[string]string{"combine": ledger.StatusFailed}, stageRuns(t, l))
}

func TestMissingInputIsFatal(t *testing.T) {
	r, _ := newTestRunner(t)
	err := r.ANOVA(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"), t.TempDir())
	assert.ErrorIs(t, err, tableio.ErrNotExist)
}

func TestANOVAStage(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "endpoint.parquet")
	wellProfiles(t, in, []float64{13}, 4)

	require.NoError(t, r.ANOVA(context.Background(), in, dir))
	anova := readTable(t, filepath.Join(dir, "anova_results.parquet"))
	assert.Equal(t, 1, anova.NumRows())
	tukey := readTable(t, filepath.Join(dir, "tukey_results.parquet"))
	// three doses give three pairs
	assert.Equal(t, 3, tukey.NumRows())
	assert.True(t, tukey.Has("p-adj_bh"))
}

func TestEmbedStage(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "profiles.parquet")
	wellProfiles(t, in, []float64{0, 1, 2}, 2)

	require.NoError(t, r.Embed(context.Background(), in, dir, []string{"CP_scDINO", "scDINO"}))
	out := readTable(t, filepath.Join(dir, "embedding_CP_scDINO.parquet"))
	assert.Equal(t, []string{"UMAP_0", "UMAP_1"}, out.Names()[:2])
	assert.Equal(t, 36, out.NumRows())
	// scDINO has a single feature, too few for two components
	assert.NoFileExists(t, filepath.Join(dir, "embedding_scDINO.parquet"))
}

func TestSplitBulkThenPredict(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	bulk := filepath.Join(dir, "bulk.parquet")
	wellProfiles(t, bulk, []float64{0, 1, 2}, 1)

	wells := []string{"A0", "B0", "A1", "B1", "A2", "B2"}
	annexin := []float64{0.1, 0.12, 0.5, 0.55, 0.9, 0.95}
	endpoint := filepath.Join(dir, "endpoint.parquet")
	writeTable(t, endpoint,
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewFloatColumn("Cells_Intensity_MeanIntensity_AnnexinV", annexin),
	)

	splitDir := filepath.Join(dir, "split")
	require.NoError(t, r.SplitBulk(context.Background(), SplitBulkPaths{Bulk: bulk, Endpoint: endpoint, OutputDir: splitDir}))

	train := readTable(t, filepath.Join(splitDir, "train.parquet"))
	test := readTable(t, filepath.Join(splitDir, "test.parquet"))
	assert.Equal(t, 3, train.NumRows())
	assert.Equal(t, 3, test.NumRows())
	assert.True(t, train.Has("Terminal_Cells_Intensity_MeanIntensity_AnnexinV"))
	assert.False(t, train.Has("Metadata_Time"))
	wellSplit := readTable(t, filepath.Join(splitDir, "train_test_wells.parquet"))
	assert.Equal(t, 6, wellSplit.NumRows())

	out := filepath.Join(dir, "model")
	require.NoError(t, r.Predict(context.Background(), PredictPaths{
		Train:     filepath.Join(splitDir, "train.parquet"),
		Test:      filepath.Join(splitDir, "test.parquet"),
		Wells:     filepath.Join(splitDir, "train_test_wells.parquet"),
		Profiles:  bulk,
		OutputDir: out,
	}))

	cv := readTable(t, filepath.Join(out, "cv_scores.parquet"))
	// 4 default penalties x one fold per training well
	assert.Equal(t, 12, cv.NumRows())
	selected, err := cv.Column("selected")
	require.NoError(t, err)
	chosen := 0
	for i := 0; i < cv.NumRows(); i++ {
		if selected.Bool(i) {
			chosen++
		}
	}
	assert.Equal(t, 3, chosen)

	scores := readTable(t, filepath.Join(out, "model_scores.parquet"))
	splits, err := scores.Strings("data_split")
	require.NoError(t, err)
	assert.Equal(t, []string{"train", "train_shuffled", "test", "test_shuffled"}, splits)

	series := readTable(t, filepath.Join(out, "time_series_predictions.parquet"))
	// 6 wells x 3 timepoints, predicted by the model and its control
	require.Equal(t, 36, series.NumRows())
	assert.True(t, series.Has("Terminal_Cells_Intensity_MeanIntensity_AnnexinV"))
	labels, err := series.Strings("Metadata_data_split")
	require.NoError(t, err)
	times, err := series.Floats("Metadata_Time")
	require.NoError(t, err)
	seen := make(map[string]bool)
	for i, lab := range labels {
		seen[lab] = true
		if lab == "train" {
			assert.Equal(t, 2.0, times[i])
		}
	}
	assert.True(t, seen[split.NonTrainedPair])
	assert.True(t, seen["test"])

	assert.Equal(t, map[string]string{
		"split_bulk": ledger.StatusCompleted,
		"predict":    ledger.StatusCompleted,
	}, stageRuns(t, l))
}

func TestSplitSingleCellStage(t *testing.T) {
	r, _ := newTestRunner(t)
	dir := t.TempDir()

	var wells, tracks, truth []string
	var area []float64
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("A0_1_%d", i)
		wells, tracks, area = append(wells, "A0"), append(tracks, id), append(area, float64(i))
		truth = append(truth, id)
	}
	wells, tracks, area = append(wells, "A0"), append(tracks, "A0_1_99"), append(area, 99)
	wells, tracks, area = append(wells, "B0", "B0"), append(tracks, "B0_1_1", "B0_1_2"), append(area, 1, 2)
	truth = append(truth, "B0_1_1")

	p := SplitSingleCellPaths{
		Cells:    filepath.Join(dir, "cells.parquet"),
		Endpoint: filepath.Join(dir, "endpoint.parquet"),
		Wells:    filepath.Join(dir, "wells.parquet"),
		Output:   filepath.Join(dir, "labelled.parquet"),
	}
	writeTable(t, p.Cells,
		profile.NewStringColumn("Metadata_Well", wells),
		profile.NewStringColumn("Metadata_sc_unique_track_id", tracks),
		profile.NewFloatColumn("Cells_AreaShape_Area", area),
	)
	writeTable(t, p.Endpoint, profile.NewStringColumn("Metadata_sc_unique_track_id", truth))
	writeTable(t, p.Wells,
		profile.NewStringColumn("Metadata_Well", []string{"A0", "B0"}),
		profile.NewStringColumn("data_split", []string{"train", "test"}),
	)

	require.NoError(t, r.SplitSingleCell(context.Background(), p))

	out := readTable(t, p.Output)
	require.Equal(t, 13, out.NumRows())
	labels, err := out.Strings("Metadata_data_split")
	require.NoError(t, err)
	count := make(map[string]int)
	for _, l := range labels {
		count[l]++
	}
	assert.Equal(t, map[string]int{"train": 8, "val": 1, "test": 2, "well_holdout": 2}, count)
	assert.Equal(t, "test", labels[10])
}

func TestStageRejectsSchemaMismatch(t *testing.T) {
	r, l := newTestRunner(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "profiles.parquet")
	writeTable(t, in,
		profile.NewStringColumn("Metadata_Well", []string{"A0", "B0"}),
		profile.NewFloatColumn("Metadata_Time", []float64{0, 0}),
		profile.NewFloatColumn("Cells_AreaShape_Area", []float64{1, 2}),
	)

	err := r.MAP(context.Background(), MAPPaths{Profiles: in, OutputDir: dir})
	assert.ErrorIs(t, err, profile.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "Metadata_dose")
	assert.Equal(t, map[string]string{"map": ledger.StatusFailed}, stageRuns(t, l))
}
