package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"timelapsemap/pkg/aggregate"
	"timelapsemap/pkg/mapeval"
	"timelapsemap/pkg/matching"
	"timelapsemap/pkg/profile"
	"timelapsemap/pkg/tableio"
)

// MatchPaths names the files of the Match stage.
type MatchPaths struct {
	// Tracked holds the single-cell time-lapse profiles
	Tracked string
	// Endpoint holds the single-cell endpoint profiles
	Endpoint string

	// TrackedOut receives the tracked profiles with track ids and lengths
	TrackedOut string
	// EndpointOut receives the endpoint cells that matched a track
	EndpointOut string
}

// Match links endpoint cells to the track whose last observed centroid lies
// within the matching radius.
func (r *Runner) Match(ctx context.Context, p MatchPaths) error {
	return r.stage(ctx, "match", []string{p.Tracked, p.Endpoint}, 0, func() (stageResult, error) {
		var res stageResult
		params := r.cfg.MatchParams()
		centroid := []profile.ColumnSpec{r.well(), r.numeric(params.FOVColumn), r.numeric(params.XColumn), r.numeric(params.YColumn)}
		tracked, err := r.readWith(ctx, p.Tracked, append(centroid, r.numeric(params.TrackColumn), r.numeric(params.TimeColumn))...)
		if err != nil {
			return res, err
		}
		endpoint, err := r.readWith(ctx, p.Endpoint, centroid...)
		if err != nil {
			return res, err
		}
		m, err := matching.NewMatcher(params)
		if err != nil {
			return res, err
		}
		if err := matching.AddTrackIDs(tracked, params); err != nil {
			return res, err
		}
		if err := matching.TrackLengths(tracked, params); err != nil {
			return res, err
		}

		last, err := matching.LastObserved(tracked, params)
		if err != nil {
			return res, err
		}
		matched, summary, err := m.Match(last, endpoint)
		if err != nil {
			return res, err
		}
		r.logger.Info("Matched endpoint cells",
			zap.Int("endpoint_rows", summary.EndpointRows),
			zap.Int("excluded", summary.Excluded),
			zap.Int("matched", summary.Matched),
			zap.Int("ambiguous", summary.Ambiguous),
			zap.Int("groups", summary.Groups))
		if unmatched := summary.EndpointRows - summary.Excluded - summary.Matched; unmatched > 0 {
			r.logger.Warn("Endpoint cells without a track", zap.Int("rows", unmatched))
		}

		if err := r.write(ctx, &res, p.TrackedOut, tracked); err != nil {
			return res, err
		}
		return res, r.write(ctx, &res, p.EndpointOut, matched)
	})
}

// MAPPaths names the files of the MAP stage.
type MAPPaths struct {
	// Profiles holds well-level profiles over time
	Profiles string
	// OutputDir receives one mAP_scores_<feature set>.parquet per feature set
	OutputDir string
	// FeatureSets limits the run to these sets; empty runs every configured set
	FeatureSets []string
}

// MAP scores every feature set at every timepoint, once on the real profiles
// and once with shuffled features.
func (r *Runner) MAP(ctx context.Context, p MAPPaths) error {
	seed := int64(r.cfg.MAP.Seed)
	return r.stage(ctx, "map", []string{p.Profiles}, seed, func() (stageResult, error) {
		var res stageResult
		t, err := r.readWith(ctx, p.Profiles, r.numeric(r.cfg.Schema.TimeColumn), r.numeric(r.cfg.MAP.ReferenceColumn))
		if err != nil {
			return res, err
		}
		sets, err := r.featureSets(p.FeatureSets)
		if err != nil {
			return res, err
		}
		for _, fs := range sets {
			features := fs.Select(t)
			if len(features) == 0 {
				r.logger.Warn("Feature set selects no columns", zap.String("feature_set", fs.Name))
				continue
			}
			var tables []*profile.Table
			for _, shuffle := range []bool{false, true} {
				out, err := r.evaluate(ctx, t, features, shuffle)
				if err != nil {
					return res, fmt.Errorf("%s: %w", fs.Name, err)
				}
				tables = append(tables, out)
			}
			path := inDir(p.OutputDir, "mAP_scores_"+fs.Name+".parquet")
			if err := r.write(ctx, &res, path, profile.Concat(tables...)); err != nil {
				return res, err
			}
		}
		return res, nil
	})
}

func (r *Runner) evaluate(ctx context.Context, t *profile.Table, features []string, shuffle bool) (*profile.Table, error) {
	params := r.cfg.MAPParams()
	params.Shuffle = shuffle
	e, err := mapeval.NewEvaluator(params, r.logger)
	if err != nil {
		return nil, err
	}
	result, err := e.Run(ctx, t, features)
	if err != nil {
		return nil, err
	}
	return result.Concat(), nil
}

// Files written by SamplingSpace and read by SubsampleSweep.
const (
	seedsFile       = "seeds.txt"
	percentagesFile = "percentage.txt"
)

// SubsamplePaths names the files and sweep point of the SubsampleMAP stage.
type SubsamplePaths struct {
	// Profiles holds single-cell profiles
	Profiles string
	// OutputDir receives <percentage>_<seed>_<shuffle>.parquet, or
	// <cells>_<shuffle>.parquet when Cells is set
	OutputDir  string
	Percentage float64
	// Cells, when positive, draws this many cells per well and timepoint
	// instead of Percentage
	Cells   int
	Seed    int64
	Shuffle bool
}

func (p SubsamplePaths) output() string {
	if p.Cells > 0 {
		return inDir(p.OutputDir, fmt.Sprintf("%d_%s.parquet", p.Cells, pyBool(p.Shuffle)))
	}
	pct := strconv.FormatFloat(p.Percentage, 'f', -1, 64)
	return inDir(p.OutputDir, fmt.Sprintf("%s_%d_%s.parquet", pct, p.Seed, pyBool(p.Shuffle)))
}

// SubsampleMAP draws cells from every well and timepoint, aggregates them by
// median and scores the aggregates. With Shuffle set the single-cell features
// are permuted before aggregation.
func (r *Runner) SubsampleMAP(ctx context.Context, p SubsamplePaths) error {
	return r.stage(ctx, "subsample_map", []string{p.Profiles}, p.Seed, func() (stageResult, error) {
		var res stageResult
		t, err := r.subsampleInput(ctx, p.Profiles)
		if err != nil {
			return res, err
		}
		out, err := r.subsampleMAP(ctx, t, p)
		if err != nil {
			return res, err
		}
		return res, r.write(ctx, &res, p.output(), out)
	})
}

func (r *Runner) subsampleInput(ctx context.Context, path string) (*profile.Table, error) {
	return r.readWith(ctx, path, r.well(), r.numeric(r.cfg.Schema.TimeColumn), r.numeric(r.cfg.MAP.ReferenceColumn))
}

func (r *Runner) subsampleMAP(ctx context.Context, t *profile.Table, p SubsamplePaths) (*profile.Table, error) {
	strata := []string{r.cfg.Schema.TimeColumn, r.cfg.Schema.WellColumn}
	var (
		sub *profile.Table
		err error
	)
	if p.Cells > 0 {
		sub, err = aggregate.SubsampleN(t, strata, p.Cells, uint64(p.Seed))
	} else {
		sub, err = aggregate.Subsample(t, strata, p.Percentage, uint64(p.Seed))
	}
	if err != nil {
		return nil, err
	}
	features := sub.FeatureColumns()
	if p.Shuffle {
		sub = sub.Clone()
		if err := sub.ShuffleColumns(rand.New(rand.NewPCG(uint64(p.Seed), 1)), features...); err != nil {
			return nil, err
		}
	}
	if !sub.Has(r.cfg.Schema.CellCountColumn) {
		if err := aggregate.CellCounts(sub, strata, r.cfg.Schema.CellCountColumn); err != nil {
			return nil, err
		}
	}
	agg, err := aggregate.Median(sub, []string{r.cfg.Schema.WellColumn, r.cfg.Schema.TimeColumn}, features)
	if err != nil {
		return nil, err
	}

	params := r.cfg.MAPParams()
	params.Seed = uint64(p.Seed)
	e, err := mapeval.NewEvaluator(params, r.logger)
	if err != nil {
		return nil, err
	}
	result, err := e.Run(ctx, agg, features)
	if err != nil {
		return nil, err
	}
	out := result.Concat()
	return out, r.labelSweep(out, p)
}

// labelSweep records the sweep point on every row as metadata.
func (r *Runner) labelSweep(t *profile.Table, p SubsamplePaths) error {
	prefix := r.cfg.Schema.MetadataPrefix
	n := t.NumRows()
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = p.Seed
	}
	if p.Cells > 0 {
		cells := make([]int64, n)
		for i := range cells {
			cells[i] = int64(p.Cells)
		}
		if err := t.AddInt(prefix+"number_of_cells", cells); err != nil {
			return err
		}
	} else {
		pct := make([]float64, n)
		for i := range pct {
			pct[i] = p.Percentage
		}
		if err := t.AddFloat(prefix+"percentage_of_cells", pct); err != nil {
			return err
		}
	}
	return t.AddInt(prefix+"seed", seeds)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// SamplingSpace writes the seed and percentage grids of the subsampling
// sweep, one value per line.
func (r *Runner) SamplingSpace(ctx context.Context, outputDir string) error {
	s := r.cfg.Sampling
	return r.stage(ctx, "sampling_space", nil, int64(s.Seed), func() (stageResult, error) {
		var res stageResult
		space, err := aggregate.NewSamplingSpace(s.Seed, s.Iterations, s.MaxSeed, s.Start, s.Steps)
		if err != nil {
			return res, err
		}
		seeds := inDir(outputDir, seedsFile)
		if err := tableio.WriteInts(seeds, space.Seeds); err != nil {
			return res, err
		}
		pcts := inDir(outputDir, percentagesFile)
		if err := tableio.WriteFloats(pcts, space.Percentages); err != nil {
			return res, err
		}
		res.outputs = []string{seeds, pcts}
		res.rows = len(space.Seeds) + len(space.Percentages)
		return res, nil
	})
}

// SweepPaths names the files of the SubsampleSweep stage.
type SweepPaths struct {
	// Profiles holds single-cell profiles
	Profiles string
	// SpaceDir holds the grids written by SamplingSpace
	SpaceDir string
	// OutputDir receives one SubsampleMAP file per sweep point
	OutputDir string
}

// SubsampleSweep runs SubsampleMAP at every seed and percentage of the
// sampling space, on real and on shuffled features. Points run concurrently;
// their files are written once every point has been scored.
func (r *Runner) SubsampleSweep(ctx context.Context, p SweepPaths) error {
	seedsPath, pctsPath := inDir(p.SpaceDir, seedsFile), inDir(p.SpaceDir, percentagesFile)
	inputs := []string{p.Profiles, seedsPath, pctsPath}
	return r.stage(ctx, "subsample_sweep", inputs, int64(r.cfg.Sampling.Seed), func() (stageResult, error) {
		var res stageResult
		seeds, err := tableio.ReadInts(seedsPath)
		if err != nil {
			return res, err
		}
		pcts, err := tableio.ReadFloats(pctsPath)
		if err != nil {
			return res, err
		}
		t, err := r.subsampleInput(ctx, p.Profiles)
		if err != nil {
			return res, err
		}

		var points []SubsamplePaths
		for _, pct := range pcts {
			for _, seed := range seeds {
				for _, shuffle := range []bool{false, true} {
					points = append(points, SubsamplePaths{
						Profiles:   p.Profiles,
						OutputDir:  p.OutputDir,
						Percentage: pct,
						Seed:       seed,
						Shuffle:    shuffle,
					})
				}
			}
		}
		r.logger.Info("Running sweep",
			zap.Int("seeds", len(seeds)),
			zap.Int("percentages", len(pcts)),
			zap.Int("points", len(points)))

		outs := make([]*profile.Table, len(points))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, pt := range points {
			g.Go(func() error {
				out, err := r.subsampleMAP(gctx, t, pt)
				if err != nil {
					return fmt.Errorf("percentage %v seed %d: %w", pt.Percentage, pt.Seed, err)
				}
				outs[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
		for i, pt := range points {
			if err := r.write(ctx, &res, pt.output(), outs[i]); err != nil {
				return res, err
			}
		}
		return res, nil
	})
}

// ChannelMAPPaths names the files of the ChannelMAP stage.
type ChannelMAPPaths struct {
	// Profiles holds well-level CellProfiler profiles over time
	Profiles string
	// Output receives the stacked scores of every channel combination
	Output string
}

// ChannelMAP scores every combination of imaging channels at every
// timepoint, on real and on shuffled features. Rows carry the combination in
// the Channel metadata column.
func (r *Runner) ChannelMAP(ctx context.Context, p ChannelMAPPaths) error {
	return r.stage(ctx, "channel_map", []string{p.Profiles}, int64(r.cfg.MAP.Seed), func() (stageResult, error) {
		var res stageResult
		t, err := r.readWith(ctx, p.Profiles, r.numeric(r.cfg.Schema.TimeColumn), r.numeric(r.cfg.MAP.ReferenceColumn))
		if err != nil {
			return res, err
		}
		if t, err = r.dropIncomplete(t, t.FeatureColumns(), "profiles"); err != nil {
			return res, err
		}
		sets := profile.ChannelFeatureSets(t.FeatureColumns())
		r.logger.Info("Channel combinations", zap.Int("sets", len(sets)))

		label := r.cfg.Schema.MetadataPrefix + "Channel"
		var tables []*profile.Table
		for _, shuffle := range []bool{false, true} {
			for _, fs := range sets {
				features := fs.Select(t)
				if len(features) == 0 {
					r.logger.Warn("Feature set selects no columns", zap.String("feature_set", fs.Name))
					continue
				}
				out, err := r.evaluate(ctx, t, features, shuffle)
				if err != nil {
					return res, fmt.Errorf("%s: %w", fs.Name, err)
				}
				names := make([]string, out.NumRows())
				for i := range names {
					names[i] = fs.Name
				}
				if err := out.AddString(label, names); err != nil {
					return res, err
				}
				tables = append(tables, out)
			}
		}
		return res, r.write(ctx, &res, p.Output, profile.Concat(tables...))
	})
}

// EndpointMAP scores the endpoint profiles as a single stratum, without a
// time column, using every feature.
func (r *Runner) EndpointMAP(ctx context.Context, profiles, output string) error {
	return r.stage(ctx, "endpoint_map", []string{profiles}, int64(r.cfg.MAP.Seed), func() (stageResult, error) {
		var res stageResult
		t, err := r.readWith(ctx, profiles, r.numeric(r.cfg.MAP.ReferenceColumn))
		if err != nil {
			return res, err
		}
		params := r.cfg.MAPParams()
		params.TimeColumn = ""
		e, err := mapeval.NewEvaluator(params, r.logger)
		if err != nil {
			return res, err
		}
		result, err := e.Run(ctx, t, nil)
		if err != nil {
			return res, err
		}
		return res, r.write(ctx, &res, output, result.Concat())
	})
}

// Combine stacks every parquet file matching pattern into output. Files are
// read in lexical order; columns missing from a file are filled with
// missing values.
func (r *Runner) Combine(ctx context.Context, pattern, output string) error {
	return r.stage(ctx, "combine", []string{pattern}, 0, func() (stageResult, error) {
		var res stageResult
		files, err := filepath.Glob(pattern)
		if err != nil {
			return res, err
		}
		if len(files) == 0 {
			return res, fmt.Errorf("%w: nothing matches %s", tableio.ErrNotExist, pattern)
		}
		sort.Strings(files)
		tables := make([]*profile.Table, 0, len(files))
		for _, f := range files {
			t, err := tableio.ReadParquet(ctx, f, r.cfg.Schema.MetadataPrefix)
			if err != nil {
				return res, err
			}
			tables = append(tables, t)
		}
		return res, r.write(ctx, &res, output, profile.Concat(tables...))
	})
}

func (r *Runner) featureSets(names []string) ([]profile.FeatureSet, error) {
	if len(names) == 0 {
		return r.cfg.Schema.FeatureSets, nil
	}
	out := make([]profile.FeatureSet, 0, len(names))
	for _, n := range names {
		fs, err := r.cfg.FeatureSet(n)
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, nil
}
