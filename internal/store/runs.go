package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Run is one directory-scan invocation.
type Run struct {
	ID               int64      `json:"id"`
	OperationID      string     `json:"operation_id"`
	TriggeredBy      string     `json:"triggered_by"`
	Roots            []string   `json:"roots"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	FilesProcessed   int        `json:"files_processed"`
	FilesDuplicate   int        `json:"files_duplicate"`
	FilesError       int        `json:"files_error"`
	FilesInterrupted int        `json:"files_interrupted"`
	EntitiesFound    int        `json:"entities_found"`
	BytesProcessed   int64      `json:"bytes_processed"`
}

// StartRun inserts a running scan_runs row and returns its ID.
func (s *Store) StartRun(ctx context.Context, operationID, triggeredBy string, roots []string, startedAt time.Time) (int64, error) {
	rootsJSON, err := json.Marshal(roots)
	if err != nil {
		return 0, fmt.Errorf("marshal roots: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (operation_id, triggered_by, roots, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		operationID, triggeredBy, string(rootsJSON), RunRunning, startedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert scan run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun writes the final status and tallies of run r.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	finished := time.Now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET status            = ?,
		    finished_at       = ?,
		    files_processed   = ?,
		    files_duplicate   = ?,
		    files_error       = ?,
		    files_interrupted = ?,
		    entities_found    = ?,
		    bytes_processed   = ?
		WHERE id = ?`,
		r.Status, finished.Unix(),
		r.FilesProcessed, r.FilesDuplicate, r.FilesError, r.FilesInterrupted,
		r.EntitiesFound, r.BytesProcessed,
		r.ID)
	if err != nil {
		return fmt.Errorf("finish scan run %d: %w", r.ID, err)
	}
	return nil
}

const runColumns = `
	id, operation_id, triggered_by, roots, status, started_at, finished_at,
	files_processed, files_duplicate, files_error, files_interrupted,
	entities_found, bytes_processed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		roots    string
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.OperationID, &r.TriggeredBy, &roots, &r.Status, &started, &finished,
		&r.FilesProcessed, &r.FilesDuplicate, &r.FilesError, &r.FilesInterrupted,
		&r.EntitiesFound, &r.BytesProcessed); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(roots), &r.Roots); err != nil {
		return Run{}, fmt.Errorf("decode roots of run %d: %w", r.ID, err)
	}
	r.StartedAt = time.Unix(started, 0)
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		r.FinishedAt = &t
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run, or nil when none exist.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// MarkStaleRunsFailed marks any runs still 'running' as 'failed'. Call once
// at startup in case a previous process died mid-run.
func (s *Store) MarkStaleRunsFailed(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET status = ?, finished_at = ?
		WHERE status = ?`,
		RunFailed, time.Now().Unix(), RunRunning)
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scan runs as failed", "count", n)
	}
	return nil
}

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("scan run not found")

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan run %d: %w", id, err)
	}
	return &r, nil
}
