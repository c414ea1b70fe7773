// Package pipeline runs the analysis stages of a time-lapse profiling
// experiment. Every stage reads parquet inputs, writes new parquet outputs
// and is recorded in the run ledger.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"timelapsemap/pkg/config"
	"timelapsemap/pkg/ledger"
	"timelapsemap/pkg/profile"
	"timelapsemap/pkg/tableio"
)

// Runner holds the shared state of the stages: configuration, the table
// cache, the ledger and the logger.
type Runner struct {
	cfg    *config.Config
	cache  *tableio.Cache
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewRunner validates cfg and returns a Runner. The ledger may be nil, in
// which case stages are not recorded. A nil logger disables logging.
func NewRunner(cfg *config.Config, l *ledger.Ledger, logger *zap.Logger) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := tableio.NewCache(cfg.Cache.Tables, cfg.Schema.MetadataPrefix)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, cache: cache, ledger: l, logger: logger}, nil
}

// Config returns the configuration the runner was built with.
func (r *Runner) Config() *config.Config { return r.cfg }

// stageResult is what a stage body reports back for the ledger.
type stageResult struct {
	outputs []string
	rows    int
}

// stage runs body, logging its duration and recording it in the ledger.
func (r *Runner) stage(ctx context.Context, name string, inputs []string, seed int64, body func() (stageResult, error)) error {
	log := r.logger.With(zap.String("stage", name))
	log.Info("Starting stage", zap.Strings("inputs", inputs), zap.Int64("seed", seed))
	start := time.Now()

	var id int64
	if r.ledger != nil {
		var err error
		if id, err = r.ledger.Begin(ctx, name, inputs, seed); err != nil {
			return err
		}
	}

	res, err := body()

	if r.ledger != nil {
		if lerr := r.ledger.Finish(context.WithoutCancel(ctx), id, res.outputs, res.rows, err); lerr != nil {
			log.Warn("Failed to record stage", zap.Error(lerr))
		}
	}
	if err != nil {
		log.Error("Stage failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info("Stage completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Strings("outputs", res.outputs),
		zap.Int("rows", res.rows))
	return nil
}

func (r *Runner) read(ctx context.Context, path string) (*profile.Table, error) {
	return r.cache.Read(ctx, path)
}

// readWith reads path and checks that it holds cols and only numeric features.
func (r *Runner) readWith(ctx context.Context, path string, cols ...profile.ColumnSpec) (*profile.Table, error) {
	t, err := r.read(ctx, path)
	if err != nil {
		return nil, err
	}
	s := profile.Schema{MetadataPrefix: r.cfg.Schema.MetadataPrefix, Columns: cols}
	if err := s.Validate(t); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Column specs shared by the stages. Numeric metadata such as doses may be
// stored as text, which KindFloat accepts.
func (r *Runner) well() profile.ColumnSpec {
	return profile.Metadata(r.cfg.Schema.WellColumn, profile.KindString)
}

func (r *Runner) numeric(name string) profile.ColumnSpec {
	return profile.Metadata(name, profile.KindFloat)
}

// write stores t at path and appends path to res.
func (r *Runner) write(ctx context.Context, res *stageResult, path string, t *profile.Table) error {
	if err := tableio.WriteParquet(ctx, path, t); err != nil {
		return err
	}
	res.outputs = append(res.outputs, path)
	res.rows += t.NumRows()
	r.logger.Debug("Wrote table", zap.String("path", path), zap.Int("rows", t.NumRows()), zap.Int("columns", t.NumCols()))
	return nil
}

// dropIncomplete removes rows with a missing value in any of features and
// logs how many were dropped.
func (r *Runner) dropIncomplete(t *profile.Table, features []string, what string) (*profile.Table, error) {
	complete, err := t.CompleteRows(features)
	if err != nil {
		return nil, err
	}
	if dropped := t.NumRows() - len(complete); dropped > 0 {
		r.logger.Warn("Dropped rows with missing values", zap.String("table", what), zap.Int("rows", dropped))
		return t.Take(complete), nil
	}
	return t, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func inDir(dir, name string) string { return filepath.Join(dir, name) }
