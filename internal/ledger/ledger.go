// Package ledger records pipeline runs and their per-stage outcomes, so
// operators can answer "what ran, when, and how did it go" without digging
// through working directories. The default backend is a directory of JSON
// files; setting LEDGER_PG_DSN switches to Postgres.
package ledger

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("ledger: not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one pipeline run.
type Run struct {
	RunID     string    `json:"run_id"`
	Context   string    `json:"context"`
	Project   string    `json:"project,omitempty"`
	Procedure string    `json:"procedure,omitempty"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// StageRow is one stage outcome within a run.
type StageRow struct {
	RunID    string    `json:"run_id"`
	Stage    int       `json:"stage"`
	Task     string    `json:"task"`
	Status   string    `json:"status"`
	QAScore  float64   `json:"qa_score"`
	Failures int       `json:"failures,omitempty"`
	Error    string    `json:"error,omitempty"`
	EndedAt  time.Time `json:"ended_at"`
}

// Store persists runs and stage rows. RecordRun and RecordStage are upserts
// keyed by run ID and (run ID, stage).
type Store interface {
	RecordRun(ctx context.Context, r Run) error
	RecordStage(ctx context.Context, s StageRow) error
	Runs(ctx context.Context) ([]Run, error)
	Stages(ctx context.Context, runID string) ([]StageRow, error)
	Close() error
}

// Open picks the backend: Postgres when LEDGER_PG_DSN is set, the JSON file
// store under dir otherwise.
func Open(ctx context.Context, dir string) (Store, error) {
	if dsn := os.Getenv("LEDGER_PG_DSN"); dsn != "" {
		return NewPGStore(ctx, dsn)
	}
	return NewFileStore(dir)
}
