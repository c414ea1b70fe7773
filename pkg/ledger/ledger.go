// Package ledger records every pipeline stage execution in a SQLite file so
// that a results directory can be traced back to its inputs, seed and
// outcome.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"timelapsemap/internal/models"
)

// Stage run states
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Memory opens a ledger that lives only as long as the process.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS stage_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	inputs TEXT NOT NULL DEFAULT '[]',
	outputs TEXT NOT NULL DEFAULT '[]',
	rows INTEGER NOT NULL DEFAULT 0,
	seed INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_run ON stage_runs(run_id);
`

// Ledger appends stage runs under one run id.
type Ledger struct {
	db    *sqlx.DB
	runID string
}

// Open opens or creates the ledger at path and starts a new run.
func Open(path string) (*Ledger, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("ledger: create directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	// One connection keeps an in-memory database shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Ledger{db: db, runID: uuid.NewString()}, nil
}

// RunID identifies the stages recorded through this ledger.
func (l *Ledger) RunID() string { return l.runID }

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Begin records the start of a stage and returns its row id.
func (l *Ledger) Begin(ctx context.Context, stage string, inputs []string, seed int64) (int64, error) {
	in, err := encodePaths(inputs)
	if err != nil {
		return 0, err
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO stage_runs (run_id, stage, inputs, seed, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.runID, stage, in, seed, time.Now().UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin %s: %w", stage, err)
	}
	return res.LastInsertId()
}

// Finish closes the stage run id. A non-nil runErr marks it failed.
func (l *Ledger) Finish(ctx context.Context, id int64, outputs []string, rows int, runErr error) error {
	out, err := encodePaths(outputs)
	if err != nil {
		return err
	}
	status, msg := StatusCompleted, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE stage_runs
		SET outputs = ?, rows = ?, finished_at = ?, status = ?, error = ?
		WHERE id = ?`,
		out, rows, time.Now().UTC(), status, msg, id)
	if err != nil {
		return fmt.Errorf("ledger: finish %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("ledger: no stage run %d", id)
	}
	return nil
}

// List returns the stage runs of runID in start order, or of every run when
// runID is empty.
func (l *Ledger) List(ctx context.Context, runID string) ([]models.StageRun, error) {
	query := `SELECT id, run_id, stage, inputs, outputs, rows, seed, started_at, finished_at, status, error
		FROM stage_runs`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id`

	var runs []models.StageRun
	if err := l.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return runs, nil
}

// Paths decodes the inputs or outputs field of a stage run.
func Paths(field string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(field), &out); err != nil {
		return nil, fmt.Errorf("ledger: decode paths: %w", err)
	}
	return out, nil
}

func encodePaths(paths []string) (string, error) {
	if paths == nil {
		paths = []string{}
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return "", fmt.Errorf("ledger: encode paths: %w", err)
	}
	return string(b), nil
}
