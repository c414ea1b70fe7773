package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"timelapsemap/pkg/aggregate"
	"timelapsemap/pkg/crop"
	"timelapsemap/pkg/profile"
	"timelapsemap/pkg/regression"
	"timelapsemap/pkg/split"
)

// SplitBulkPaths names the files of the SplitBulk stage.
type SplitBulkPaths struct {
	// Bulk holds well-level time-lapse profiles
	Bulk string
	// Endpoint holds well-level endpoint profiles
	Endpoint string
	// OutputDir receives train.parquet, test.parquet and train_test_wells.parquet
	OutputDir string
}

// SplitBulk pairs the last time-lapse profile of every well with its
// endpoint profile and holds out one well per dose for testing.
func (r *Runner) SplitBulk(ctx context.Context, p SplitBulkPaths) error {
	seed := r.cfg.Split.Seed
	return r.stage(ctx, "split_bulk", []string{p.Bulk, p.Endpoint}, int64(seed), func() (stageResult, error) {
		var res stageResult
		s := r.cfg.Schema
		bulk, err := r.readWith(ctx, p.Bulk, r.well(), r.numeric(s.DoseColumn), r.numeric(s.TimeColumn))
		if err != nil {
			return res, err
		}
		endpoint, err := r.readWith(ctx, p.Endpoint, r.well())
		if err != nil {
			return res, err
		}
		paired, err := split.PrepareBulk(bulk, endpoint, s.TimeColumn, s.TargetPrefix, s.WellColumn)
		if err != nil {
			return res, err
		}
		// Wells without an endpoint profile have no targets.
		if paired, err = r.dropIncomplete(paired, paired.FeatureColumns(), "bulk"); err != nil {
			return res, err
		}
		bs, err := split.TestWellPerDose(paired, s.DoseColumn, s.WellColumn, seed)
		if err != nil {
			return res, err
		}
		r.logger.Info("Split wells",
			zap.Int("train_rows", bs.Train.NumRows()),
			zap.Int("test_rows", bs.Test.NumRows()))
		if err := r.write(ctx, &res, inDir(p.OutputDir, "train.parquet"), bs.Train); err != nil {
			return res, err
		}
		if err := r.write(ctx, &res, inDir(p.OutputDir, "test.parquet"), bs.Test); err != nil {
			return res, err
		}
		return res, r.write(ctx, &res, inDir(p.OutputDir, "train_test_wells.parquet"), bs.Wells)
	})
}

// SplitSingleCellPaths names the files of the SplitSingleCell stage.
type SplitSingleCellPaths struct {
	// Cells holds single-cell time-lapse profiles with track ids
	Cells string
	// Endpoint holds the matched endpoint cells
	Endpoint string
	// Wells is the wells table written by SplitBulk
	Wells  string
	Output string
}

// SplitSingleCell labels every tracked cell with its data split.
func (r *Runner) SplitSingleCell(ctx context.Context, p SplitSingleCellPaths) error {
	params := r.cfg.SingleCellParams()
	return r.stage(ctx, "split_single_cell", []string{p.Cells, p.Endpoint, p.Wells}, int64(params.Seed), func() (stageResult, error) {
		var res stageResult
		track := profile.Metadata(params.TrackColumn, profile.KindString)
		cells, err := r.readWith(ctx, p.Cells, r.well(), track)
		if err != nil {
			return res, err
		}
		endpoint, err := r.readWith(ctx, p.Endpoint, track)
		if err != nil {
			return res, err
		}
		wells, err := r.read(ctx, p.Wells)
		if err != nil {
			return res, err
		}
		out, counts, err := split.SingleCellSplits(cells, endpoint, wells, params)
		if err != nil {
			return res, err
		}
		labels := make([]string, 0, len(counts))
		for l := range counts {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			r.logger.Info("Split size",
				zap.String("split", l),
				zap.Int("with_ground_truth", counts[l].WithTruth),
				zap.Int("without_ground_truth", counts[l].WithoutTruth))
		}
		return res, r.write(ctx, &res, p.Output, out)
	})
}

// PredictPaths names the files of the Predict stage.
type PredictPaths struct {
	Train string
	Test  string
	// Wells is the wells table written by SplitBulk
	Wells string
	// Profiles holds the time-lapse profiles predicted at every timepoint
	Profiles string
	// OutputDir receives cv_scores.parquet, model_scores.parquet,
	// model_predictions.parquet and time_series_predictions.parquet
	OutputDir string
}

// Predict picks the ridge penalty by cross-validation on the training wells,
// fits the terminal-state regressor and its shuffled control, scores both on
// train and test, and predicts the endpoint of every well at every timepoint.
func (r *Runner) Predict(ctx context.Context, p PredictPaths) error {
	seed := r.cfg.Regression.Seed
	inputs := []string{p.Train, p.Test, p.Wells, p.Profiles}
	return r.stage(ctx, "predict", inputs, int64(seed), func() (stageResult, error) {
		var res stageResult
		prefix := r.cfg.Schema.TargetPrefix
		train, err := r.dataset(ctx, p.Train, prefix)
		if err != nil {
			return res, err
		}
		test, err := r.dataset(ctx, p.Test, prefix)
		if err != nil {
			return res, err
		}
		if !slices.Equal(train.XNames, test.XNames) || !slices.Equal(train.YNames, test.YNames) {
			return res, fmt.Errorf("train and test columns differ")
		}

		alpha, err := r.selectAlpha(ctx, &res, train, inDir(p.OutputDir, "cv_scores.parquet"))
		if err != nil {
			return res, err
		}
		pair, err := regression.TrainWithControl(ctx, train, alpha, seed)
		if err != nil {
			return res, err
		}
		scores, preds, err := pair.Evaluate(train, test)
		if err != nil {
			return res, err
		}
		for _, s := range scores {
			r.logger.Info("Model score",
				zap.String("split", s.Split),
				zap.Float64("mse", s.MSE),
				zap.Float64("r2", s.R2))
		}
		if err := r.write(ctx, &res, inDir(p.OutputDir, "model_scores.parquet"), regression.ScoreTable(scores)); err != nil {
			return res, err
		}
		if err := r.write(ctx, &res, inDir(p.OutputDir, "model_predictions.parquet"), preds); err != nil {
			return res, err
		}

		series, err := r.predictSeries(ctx, pair, p)
		if err != nil {
			return res, err
		}
		return res, r.write(ctx, &res, inDir(p.OutputDir, "time_series_predictions.parquet"), series)
	})
}

// selectAlpha cross-validates the configured penalties on train, writes the
// fold scores to path and returns the best penalty. Small training sets get
// one fold per row.
func (r *Runner) selectAlpha(ctx context.Context, res *stageResult, train *regression.Dataset, path string) (float64, error) {
	rc := r.cfg.Regression
	folds := min(rc.Folds, train.Rows())
	if folds < rc.Folds {
		r.logger.Warn("Fewer training rows than folds", zap.Int("rows", train.Rows()), zap.Int("folds", folds))
	}
	scores, alpha, err := regression.CrossValidate(ctx, train, rc.Alphas, folds, rc.Seed)
	if err != nil {
		return 0, err
	}
	for _, a := range rc.Alphas {
		r.logger.Info("Cross-validated penalty", zap.Float64("alpha", a), zap.Float64("mean_r2", regression.MeanR2(scores, a)))
	}
	r.logger.Info("Selected penalty", zap.Float64("alpha", alpha))
	return alpha, r.write(ctx, res, path, regression.CVTable(scores, alpha))
}

func (r *Runner) dataset(ctx context.Context, path, prefix string) (*regression.Dataset, error) {
	t, err := r.read(ctx, path)
	if err != nil {
		return nil, err
	}
	d, err := regression.Split(t, prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.Dropped > 0 {
		r.logger.Warn("Dropped rows with missing values", zap.String("table", path), zap.Int("rows", d.Dropped))
	}
	return d, nil
}

// predictSeries aggregates the profiles per well and timepoint, labels each
// aggregate with its well's split and predicts it with both models.
func (r *Runner) predictSeries(ctx context.Context, pair *regression.Pair, p PredictPaths) (*profile.Table, error) {
	s := r.cfg.Schema
	cols := []profile.ColumnSpec{r.well(), r.numeric(s.TimeColumn)}
	for _, x := range pair.XNames {
		cols = append(cols, profile.Feature(x))
	}
	profiles, err := r.readWith(ctx, p.Profiles, cols...)
	if err != nil {
		return nil, err
	}
	wells, err := r.read(ctx, p.Wells)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.Median(profiles, []string{s.WellColumn, s.TimeColumn}, pair.XNames)
	if err != nil {
		return nil, err
	}
	col := r.cfg.SingleCellParams().SplitColumn
	if err := split.LabelByWell(agg, wells, s.WellColumn, col, false); err != nil {
		return nil, err
	}
	times, err := agg.UniqueFloats(s.TimeColumn)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no timepoints in %s", p.Profiles)
	}
	if err := split.MarkUntrainedPairs(agg, col, s.TimeColumn, times[len(times)-1]); err != nil {
		return nil, err
	}

	d, err := regression.Inputs(agg, pair.XNames)
	if err != nil {
		return nil, err
	}
	if d.Dropped > 0 {
		r.logger.Warn("Dropped aggregates with missing values", zap.Int("rows", d.Dropped))
	}
	final, err := pair.Predict(d, false)
	if err != nil {
		return nil, err
	}
	control, err := pair.Predict(d, true)
	if err != nil {
		return nil, err
	}
	return profile.Concat(final, control), nil
}

// CropPaths names the files of the Crop stage.
type CropPaths struct {
	// Cells holds one row per cell with its centroid and image file names
	Cells string
	// ImageDir is the directory the image file names are relative to
	ImageDir  string
	OutputDir string
}

// Crop cuts a window around every cell out of each channel image.
func (r *Runner) Crop(ctx context.Context, p CropPaths) error {
	return r.stage(ctx, "crop", []string{p.Cells, p.ImageDir}, 0, func() (stageResult, error) {
		var res stageResult
		cells, err := r.read(ctx, p.Cells)
		if err != nil {
			return res, err
		}
		jobs, missing, err := crop.JobsFromTable(cells, r.cfg.CropColumns(), p.ImageDir)
		if err != nil {
			return res, err
		}
		if missing > 0 {
			r.logger.Warn("Cells without a centroid", zap.Int("rows", missing))
		}
		if err := ensureDir(p.OutputDir); err != nil {
			return res, err
		}
		c, err := crop.NewCropper(r.cfg.CropParams(p.OutputDir), r.logger)
		if err != nil {
			return res, err
		}
		summary, err := c.Run(ctx, jobs)
		res.outputs = []string{p.OutputDir}
		res.rows = summary.Written
		return res, err
	})
}
