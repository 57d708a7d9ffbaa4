// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history keeps a SQLite ledger of pdfraster runs: one row per
// invocation and one row per document outcome. It lets an operator find
// which documents failed in earlier runs without keeping every error log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pdfraster/pkg/types"
)

const defaultListLimit = 20

// Store manages the run ledger database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			parent_dir TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			dpi INTEGER,
			workers INTEGER,
			documents INTEGER,
			succeeded INTEGER,
			skipped INTEGER,
			failed INTEGER,
			error_log TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			pages INTEGER,
			duration_ms INTEGER,
			reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_path ON outcomes(path)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores a run and its outcomes in one transaction. An empty
// summary ID is replaced with a new UUID; the stored ID is returned.
func (s *Store) Record(ctx context.Context, run types.RunSummary, outcomes []types.Outcome) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, mode, parent_dir, started_at, finished_at, dpi, workers,
			documents, succeeded, skipped, failed, error_log)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Mode), run.ParentDir,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.DPI, run.Workers, run.Documents, run.Succeeded, run.Skipped, run.Failed, run.ErrorLog,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (run_id, path, status, pages, duration_ms, reason) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, run.ID, o.Path, string(o.Status), o.Pages, o.Duration.Milliseconds(), o.Reason); err != nil {
			return "", fmt.Errorf("inserting outcome for %s: %w", o.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return run.ID, nil
}

// Runs returns the most recent runs, newest first. A limit of zero or less
// uses the default of 20.
func (s *Store) Runs(ctx context.Context, limit int) ([]types.RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, parent_dir, started_at, finished_at, dpi, workers,
			documents, succeeded, skipped, failed, COALESCE(error_log, '')
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns a single run by ID, or sql.ErrNoRows wrapped when absent.
func (s *Store) Run(ctx context.Context, id string) (types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, parent_dir, started_at, finished_at, dpi, workers,
			documents, succeeded, skipped, failed, COALESCE(error_log, '')
		 FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return types.RunSummary{}, fmt.Errorf("run %s: %w", id, err)
	}
	return r, nil
}

// Outcomes returns the outcomes recorded for a run in insertion order.
// With failedOnly set, only failures are returned.
func (s *Store) Outcomes(ctx context.Context, runID string, failedOnly bool) ([]types.Outcome, error) {
	query := `SELECT path, status, COALESCE(pages, 0), COALESCE(duration_ms, 0), COALESCE(reason, '')
		FROM outcomes WHERE run_id = ?`
	args := []any{runID}
	if failedOnly {
		query += ` AND status = ?`
		args = append(args, string(types.OutcomeFailure))
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []types.Outcome
	for rows.Next() {
		var (
			o      types.Outcome
			status string
			ms     int64
		)
		if err := rows.Scan(&o.Path, &status, &o.Pages, &ms, &o.Reason); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Status = types.OutcomeStatus(status)
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (types.RunSummary, error) {
	var (
		r                   types.RunSummary
		mode, start, finish string
	)
	if err := sc.Scan(&r.ID, &mode, &r.ParentDir, &start, &finish, &r.DPI, &r.Workers,
		&r.Documents, &r.Succeeded, &r.Skipped, &r.Failed, &r.ErrorLog); err != nil {
		return r, err
	}
	r.Mode = types.RunMode(mode)
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, start)
	r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finish)
	r.Elapsed = r.FinishedAt.Sub(r.StartedAt)
	return r, nil
}
