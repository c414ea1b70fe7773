package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"timelapsemap/pkg/config"
	"timelapsemap/pkg/ledger"
	"timelapsemap/pkg/logging"
	"timelapsemap/pkg/pipeline"
)

// app is the state shared by every stage command.
type app struct {
	configPath string
	noLedger   bool

	logger *zap.Logger
	ledger *ledger.Ledger
	runner *pipeline.Runner
}

func main() {
	// A missing .env file is normal.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "timelapsemap",
		Short:         "Time-lapse cell profiling analysis stages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init-config" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv(config.EnvConfig), "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&a.noLedger, "no-ledger", false, "Do not record stage runs")

	rootCmd.AddCommand(
		newInitConfigCmd(),
		newMatchCmd(a),
		newMAPCmd(a),
		newChannelMAPCmd(a),
		newEndpointMAPCmd(a),
		newSubsampleMAPCmd(a),
		newSamplingSpaceCmd(a),
		newSubsampleSweepCmd(a),
		newCombineCmd(a),
		newANOVACmd(a),
		newLinearModelCmd(a),
		newEmbedCmd(a),
		newSplitBulkCmd(a),
		newSplitSingleCellCmd(a),
		newPredictCmd(a),
		newCropCmd(a),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		a.close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) setup() error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(a.configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg.ApplyEnv()

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logger

	if !a.noLedger {
		if a.ledger, err = ledger.Open(cfg.Ledger.Path); err != nil {
			return err
		}
		logger.Debug("Opened ledger", zap.String("path", cfg.Ledger.Path), zap.String("run_id", a.ledger.RunID()))
	}
	a.runner, err = pipeline.NewRunner(cfg, a.ledger, logger)
	return err
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil && a.logger != nil {
			a.logger.Warn("Failed to close ledger", zap.Error(err))
		}
		a.ledger = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", args[0])
			return nil
		},
	}
}

func newMatchCmd(a *app) *cobra.Command {
	var p pipeline.MatchPaths
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match endpoint cells to their time-lapse tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.Match(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Tracked, "tracked", "", "Single-cell time-lapse profiles")
	cmd.Flags().StringVar(&p.Endpoint, "endpoint", "", "Single-cell endpoint profiles")
	cmd.Flags().StringVar(&p.TrackedOut, "tracked-out", "", "Output for tracked profiles with track ids")
	cmd.Flags().StringVar(&p.EndpointOut, "endpoint-out", "", "Output for matched endpoint profiles")
	markRequired(cmd, "tracked", "endpoint", "tracked-out", "endpoint-out")
	return cmd
}

func newMAPCmd(a *app) *cobra.Command {
	var p pipeline.MAPPaths
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Score every feature set with time-stratified mean average precision",
		Long: `Score dose groups against the reference group at every timepoint, once on
the real profiles and once with shuffled features. One mAP_scores_<feature set>.parquet
is written per feature set.

Example: timelapsemap map --profiles aggregated.parquet --output-dir results/map --feature-set CP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.MAP(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Profiles, "profiles", "", "Well-level profiles")
	cmd.Flags().StringVar(&p.OutputDir, "output-dir", "", "Output directory")
	cmd.Flags().StringSliceVar(&p.FeatureSets, "feature-set", nil, "Feature sets to score (default: all configured)")
	markRequired(cmd, "profiles", "output-dir")
	return cmd
}

func newSubsampleMAPCmd(a *app) *cobra.Command {
	var p pipeline.SubsamplePaths
	cmd := &cobra.Command{
		Use:   "subsample-map",
		Short: "Score profiles aggregated from a random subset of cells",
		Long: `Draw a seeded fraction of the cells of every well and timepoint, aggregate
them by median and score the aggregates. The result is written to
<percentage>_<seed>_<True|False>.parquet. With --cells a fixed number of cells
is drawn instead and the result is written to <cells>_<True|False>.parquet.

Example: timelapsemap subsample-map --profiles sc.parquet --output-dir sweep --percentage 0.4 --seed 12 --shuffle`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.SubsampleMAP(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Profiles, "profiles", "", "Single-cell profiles")
	cmd.Flags().StringVar(&p.OutputDir, "output-dir", "", "Output directory")
	cmd.Flags().Float64Var(&p.Percentage, "percentage", 1, "Fraction of cells kept per well and timepoint")
	cmd.Flags().IntVar(&p.Cells, "cells", 0, "Number of cells kept per well and timepoint; overrides --percentage")
	cmd.Flags().Int64Var(&p.Seed, "seed", 0, "Random seed")
	cmd.Flags().BoolVar(&p.Shuffle, "shuffle", false, "Shuffle single-cell features before aggregation")
	markRequired(cmd, "profiles", "output-dir")
	return cmd
}

func newSamplingSpaceCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "sampling-space",
		Short: "Write the seeds and percentages of the subsampling sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.SamplingSpace(cmd.Context(), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "output-dir", "", "Output directory")
	markRequired(cmd, "output-dir")
	return cmd
}

func newSubsampleSweepCmd(a *app) *cobra.Command {
	var p pipeline.SweepPaths
	cmd := &cobra.Command{
		Use:   "subsample-sweep",
		Short: "Run subsample-map at every point of the sampling space",
		Long: `Read seeds.txt and percentage.txt written by sampling-space and score every
seed and percentage, on real and on shuffled features.

Example: timelapsemap subsample-sweep --profiles sc.parquet --space-dir results/space --output-dir results/sweep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.SubsampleSweep(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Profiles, "profiles", "", "Single-cell profiles")
	cmd.Flags().StringVar(&p.SpaceDir, "space-dir", "", "Directory written by sampling-space")
	cmd.Flags().StringVar(&p.OutputDir, "output-dir", "", "Output directory")
	markRequired(cmd, "profiles", "space-dir", "output-dir")
	return cmd
}

func newChannelMAPCmd(a *app) *cobra.Command {
	var p pipeline.ChannelMAPPaths
	cmd := &cobra.Command{
		Use:   "channel-map",
		Short: "Score every combination of imaging channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.ChannelMAP(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Profiles, "profiles", "", "Well-level CellProfiler profiles")
	cmd.Flags().StringVar(&p.Output, "output", "", "Output file, e.g. mAP_across_channels.parquet")
	markRequired(cmd, "profiles", "output")
	return cmd
}

func newEndpointMAPCmd(a *app) *cobra.Command {
	var profiles, output string
	cmd := &cobra.Command{
		Use:   "endpoint-map",
		Short: "Score endpoint profiles without time stratification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.EndpointMAP(cmd.Context(), profiles, output)
		},
	}
	cmd.Flags().StringVar(&profiles, "profiles", "", "Image-level endpoint profiles")
	cmd.Flags().StringVar(&output, "output", "", "Output file")
	markRequired(cmd, "profiles", "output")
	return cmd
}

func newCombineCmd(a *app) *cobra.Command {
	var pattern, output string
	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Stack parquet files matching a glob into one file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.Combine(cmd.Context(), pattern, output)
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob of the input files")
	cmd.Flags().StringVar(&output, "output", "", "Combined output file")
	markRequired(cmd, "pattern", "output")
	return cmd
}

func newANOVACmd(a *app) *cobra.Command {
	var endpoint, dir string
	cmd := &cobra.Command{
		Use:   "anova",
		Short: "Test endpoint features against dose with ANOVA and Tukey HSD",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.ANOVA(cmd.Context(), endpoint, dir)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Endpoint profiles")
	cmd.Flags().StringVar(&dir, "output-dir", "", "Output directory")
	markRequired(cmd, "endpoint", "output-dir")
	return cmd
}

func newLinearModelCmd(a *app) *cobra.Command {
	var profiles, featureSet, output string
	cmd := &cobra.Command{
		Use:   "linear-model",
		Short: "Fit the temporal linear model to every feature",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.LinearModel(cmd.Context(), profiles, featureSet, output)
		},
	}
	cmd.Flags().StringVar(&profiles, "profiles", "", "Well-level profiles with cell counts")
	cmd.Flags().StringVar(&featureSet, "feature-set", "", "Feature set to fit (default: every feature)")
	cmd.Flags().StringVar(&output, "output", "", "Coefficient table")
	markRequired(cmd, "profiles", "output")
	return cmd
}

func newEmbedCmd(a *app) *cobra.Command {
	var profiles, dir string
	var sets []string
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed profiles in two dimensions, fitted on the first timepoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.Embed(cmd.Context(), profiles, dir, sets)
		},
	}
	cmd.Flags().StringVar(&profiles, "profiles", "", "Profiles to embed")
	cmd.Flags().StringVar(&dir, "output-dir", "", "Output directory")
	cmd.Flags().StringSliceVar(&sets, "feature-set", nil, "Feature sets to embed (default: all configured)")
	markRequired(cmd, "profiles", "output-dir")
	return cmd
}

func newSplitBulkCmd(a *app) *cobra.Command {
	var p pipeline.SplitBulkPaths
	cmd := &cobra.Command{
		Use:   "split-bulk",
		Short: "Pair well profiles with their endpoint and hold out one well per dose",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.SplitBulk(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Bulk, "bulk", "", "Well-level time-lapse profiles")
	cmd.Flags().StringVar(&p.Endpoint, "endpoint", "", "Well-level endpoint profiles")
	cmd.Flags().StringVar(&p.OutputDir, "output-dir", "", "Output directory")
	markRequired(cmd, "bulk", "endpoint", "output-dir")
	return cmd
}

func newSplitSingleCellCmd(a *app) *cobra.Command {
	var p pipeline.SplitSingleCellPaths
	cmd := &cobra.Command{
		Use:   "split-single-cell",
		Short: "Label tracked cells with train, val, test or well_holdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.SplitSingleCell(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Cells, "cells", "", "Tracked single-cell profiles")
	cmd.Flags().StringVar(&p.Endpoint, "endpoint", "", "Matched endpoint cells")
	cmd.Flags().StringVar(&p.Wells, "wells", "", "Wells table from split-bulk")
	cmd.Flags().StringVar(&p.Output, "output", "", "Labelled profiles")
	markRequired(cmd, "cells", "endpoint", "wells", "output")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	var p pipeline.PredictPaths
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Train the terminal-state regressor and predict every timepoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.Predict(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Train, "train", "", "Training table from split-bulk")
	cmd.Flags().StringVar(&p.Test, "test", "", "Test table from split-bulk")
	cmd.Flags().StringVar(&p.Wells, "wells", "", "Wells table from split-bulk")
	cmd.Flags().StringVar(&p.Profiles, "profiles", "", "Time-lapse profiles to predict")
	cmd.Flags().StringVar(&p.OutputDir, "output-dir", "", "Output directory")
	markRequired(cmd, "train", "test", "wells", "profiles", "output-dir")
	return cmd
}

func newCropCmd(a *app) *cobra.Command {
	var p pipeline.CropPaths
	cmd := &cobra.Command{
		Use:   "crop",
		Short: "Cut a window around every cell out of each channel image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runner.Crop(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Cells, "cells", "", "Single-cell profiles with image file names")
	cmd.Flags().StringVar(&p.ImageDir, "image-dir", "", "Directory holding the images")
	cmd.Flags().StringVar(&p.OutputDir, "output-dir", "", "Output directory")
	markRequired(cmd, "cells", "image-dir", "output-dir")
	return cmd
}

func markRequired(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		_ = cmd.MarkFlagRequired(n)
	}
}
