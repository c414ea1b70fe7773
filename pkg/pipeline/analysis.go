package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"timelapsemap/pkg/embedding"
	"timelapsemap/pkg/stats"
)

// ANOVA tests the endpoint features against dose and writes
// anova_results.parquet and tukey_results.parquet to outputDir.
func (r *Runner) ANOVA(ctx context.Context, endpoint, outputDir string) error {
	return r.stage(ctx, "anova", []string{endpoint}, 0, func() (stageResult, error) {
		var res stageResult
		t, err := r.readWith(ctx, endpoint, r.numeric(r.cfg.Schema.DoseColumn))
		if err != nil {
			return res, err
		}
		anova, tukey, err := stats.TerminalANOVA(t, r.cfg.TerminalParams())
		if err != nil {
			return res, err
		}
		if err := r.write(ctx, &res, inDir(outputDir, "anova_results.parquet"), anova); err != nil {
			return res, err
		}
		return res, r.write(ctx, &res, inDir(outputDir, "tukey_results.parquet"), tukey)
	})
}

// LinearModel fits the temporal linear model to every feature of the
// aggregated profiles and writes the coefficient table to output. An empty
// featureSet uses every feature column.
func (r *Runner) LinearModel(ctx context.Context, profiles, featureSet, output string) error {
	return r.stage(ctx, "linear_model", []string{profiles}, 0, func() (stageResult, error) {
		var res stageResult
		lp := r.cfg.LinearParams()
		t, err := r.readWith(ctx, profiles, r.numeric(lp.TimeColumn), r.numeric(lp.CountColumn), r.numeric(lp.DoseColumn))
		if err != nil {
			return res, err
		}
		features := t.FeatureColumns()
		if featureSet != "" {
			fs, err := r.cfg.FeatureSet(featureSet)
			if err != nil {
				return res, err
			}
			features = fs.Select(t)
		}
		out, skipped, err := stats.LinearModels(t, features, lp)
		if err != nil {
			return res, err
		}
		if len(skipped) > 0 {
			r.logger.Warn("Features without a fit", zap.Int("count", len(skipped)), zap.Strings("features", skipped))
		}
		return res, r.write(ctx, &res, output, out)
	})
}

// Embed projects every feature set of profiles into a low-dimensional space
// fitted on the first timepoint, writing one embedding_<feature set>.parquet
// per set.
func (r *Runner) Embed(ctx context.Context, profiles, outputDir string, featureSets []string) error {
	return r.stage(ctx, "embed", []string{profiles}, 0, func() (stageResult, error) {
		var res stageResult
		t, err := r.readWith(ctx, profiles, r.numeric(r.cfg.Schema.TimeColumn))
		if err != nil {
			return res, err
		}
		sets, err := r.featureSets(featureSets)
		if err != nil {
			return res, err
		}
		for _, fs := range sets {
			features := fs.Select(t)
			if len(features) < r.cfg.Embedding.Components {
				r.logger.Warn("Too few features to embed",
					zap.String("feature_set", fs.Name),
					zap.Int("features", len(features)),
					zap.Int("components", r.cfg.Embedding.Components))
				continue
			}
			out, err := embedding.EmbedByFirstTimepoint(t, features, r.cfg.Schema.TimeColumn,
				embedding.NewPCA(r.cfg.Embedding.Components), r.cfg.Embedding.ColumnPrefix)
			if err != nil {
				return res, fmt.Errorf("%s: %w", fs.Name, err)
			}
			if err := r.write(ctx, &res, inDir(outputDir, "embedding_"+fs.Name+".parquet"), out); err != nil {
				return res, err
			}
		}
		return res, nil
	})
}
