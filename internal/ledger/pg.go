package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id     TEXT PRIMARY KEY,
	context    TEXT NOT NULL DEFAULT '',
	project    TEXT NOT NULL DEFAULT '',
	procedure  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	ended_at   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS pipeline_stages (
	run_id   TEXT NOT NULL,
	stage    INTEGER NOT NULL,
	task     TEXT NOT NULL DEFAULT '',
	status   TEXT NOT NULL DEFAULT '',
	qa_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	error    TEXT NOT NULL DEFAULT '',
	ended_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, stage)
);`

// PGStore is the Postgres backend, via the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

// NewPGStore connects and applies the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) RecordRun(ctx context.Context, r Run) error {
	if r.RunID == "" {
		return fmt.Errorf("ledger: run without id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, context, project, procedure, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at`,
		r.RunID, r.Context, r.Project, r.Procedure, r.Status, r.StartedAt, r.EndedAt)
	return err
}

func (s *PGStore) RecordStage(ctx context.Context, row StageRow) error {
	if row.RunID == "" {
		return fmt.Errorf("ledger: stage row without run id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_stages (run_id, stage, task, status, qa_score, failures, error, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, stage) DO UPDATE SET
			task = EXCLUDED.task,
			status = EXCLUDED.status,
			qa_score = EXCLUDED.qa_score,
			failures = EXCLUDED.failures,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at`,
		row.RunID, row.Stage, row.Task, row.Status, row.QAScore, row.Failures, row.Error, row.EndedAt)
	return err
}

func (s *PGStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, context, project, procedure, status,
		       COALESCE(started_at, 'epoch'), COALESCE(ended_at, 'epoch')
		FROM pipeline_runs ORDER BY started_at DESC NULLS LAST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Context, &r.Project, &r.Procedure, &r.Status, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Stages(ctx context.Context, runID string) ([]StageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, stage, task, status, qa_score, failures, error, COALESCE(ended_at, 'epoch')
		FROM pipeline_stages WHERE run_id = $1 ORDER BY stage`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StageRow
	for rows.Next() {
		var row StageRow
		if err := rows.Scan(&row.RunID, &row.Stage, &row.Task, &row.Status, &row.QAScore, &row.Failures, &row.Error, &row.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PGStore) Close() error { return s.db.Close() }

var _ Store = (*PGStore)(nil)
