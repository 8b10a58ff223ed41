// Package store persists per-file scan results, entity details and run
// records in the state database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eargollo/piiscan/internal/detect"
)

// FileResult is one row per scanned file.
type FileResult struct {
	ID            int64                     `json:"id"`
	RunID         int64                     `json:"run_id,omitempty"`
	Path          string                    `json:"path"`
	Hash16        string                    `json:"hash16"`
	Size          int64                     `json:"size"`
	MTime         time.Time                 `json:"mtime"`
	Strategy      string                    `json:"strategy"`
	Total         int                       `json:"total"`
	Controlled    int                       `json:"controlled"`
	NonControlled int                       `json:"noncontrolled"`
	TypeCounts    map[detect.EntityType]int `json:"type_counts"`
	ChunksFailed  int                       `json:"chunks_failed"`
	Resumed       bool                      `json:"resumed"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
}

// Store wraps the state database.
type Store struct {
	db *sql.DB
}

// New returns a Store over db, which must have migrations applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveFileResult inserts r and returns its row ID.
func (s *Store) SaveFileResult(ctx context.Context, r FileResult) (int64, error) {
	counts, err := json.Marshal(r.TypeCounts)
	if err != nil {
		return 0, fmt.Errorf("marshal type counts: %w", err)
	}
	var runID any
	if r.RunID > 0 {
		runID = r.RunID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_results
			(run_id, path, hash16, size, mtime, strategy,
			 total, controlled, noncontrolled, type_counts,
			 chunks_failed, resumed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Path, r.Hash16, r.Size, r.MTime.Unix(), r.Strategy,
		r.Total, r.Controlled, r.NonControlled, string(counts),
		r.ChunksFailed, r.Resumed, r.StartedAt.Unix(), r.FinishedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert file result: %w", err)
	}
	return res.LastInsertId()
}

// detailBatchSize is the number of entity rows written per transaction.
const detailBatchSize = 500

// SaveDetails appends entity detail rows addressed by hash16.
func (s *Store) SaveDetails(ctx context.Context, hash16 string, hits []detect.EntityHit) error {
	for start := 0; start < len(hits); start += detailBatchSize {
		batch := hits[start:min(start+detailBatchSize, len(hits))]
		if err := s.saveDetailBatch(ctx, hash16, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveDetailBatch(ctx context.Context, hash16 string, hits []detect.EntityHit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_details
			(hash16, entity_type, value, start_offset, end_offset,
			 confidence, label, context_left, context_right)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, h := range hits {
		if _, err := stmt.ExecContext(ctx, hash16, string(h.Type), h.Value, h.Start, h.End,
			h.Confidence, string(h.Label), h.ContextLeft, h.ContextRight); err != nil {
			return fmt.Errorf("insert entity detail: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteDetails removes detail rows for hash16, used before a file is
// rescanned from the start.
func (s *Store) DeleteDetails(ctx context.Context, hash16 string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_details WHERE hash16 = ?`, hash16); err != nil {
		return fmt.Errorf("delete entity details: %w", err)
	}
	return nil
}

// Details returns the detail rows for hash16 ordered by offset.
func (s *Store) Details(ctx context.Context, hash16 string) ([]detect.EntityHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, value, start_offset, end_offset, confidence, label, context_left, context_right
		FROM entity_details WHERE hash16 = ? ORDER BY start_offset`, hash16)
	if err != nil {
		return nil, fmt.Errorf("query entity details: %w", err)
	}
	defer rows.Close()

	var out []detect.EntityHit
	for rows.Next() {
		var h detect.EntityHit
		var typ, label string
		if err := rows.Scan(&typ, &h.Value, &h.Start, &h.End, &h.Confidence, &label, &h.ContextLeft, &h.ContextRight); err != nil {
			return nil, err
		}
		h.Type, h.Label = detect.EntityType(typ), detect.Label(label)
		out = append(out, h)
	}
	return out, rows.Err()
}

// FileFilter narrows ListFiles.
type FileFilter struct {
	PathPrefix string
	MinTotal   int
	Limit      int
	Offset     int
}

// ListFiles returns results newest first plus the total matching count.
func (s *Store) ListFiles(ctx context.Context, f FileFilter) ([]FileResult, int, error) {
	var (
		where []string
		args  []any
	)
	if f.PathPrefix != "" {
		where = append(where, "path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.PathPrefix)+"%")
	}
	if f.MinTotal > 0 {
		where = append(where, "total >= ?")
		args = append(args, f.MinTotal)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_results `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count file results: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(run_id, 0), path, hash16, size, mtime, strategy,
		       total, controlled, noncontrolled, type_counts,
		       chunks_failed, resumed, started_at, finished_at
		FROM file_results `+clause+`
		ORDER BY finished_at DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query file results: %w", err)
	}
	defer rows.Close()

	var out []FileResult
	for rows.Next() {
		var (
			r                    FileResult
			mtime, start, finish int64
			counts               string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Path, &r.Hash16, &r.Size, &mtime, &r.Strategy,
			&r.Total, &r.Controlled, &r.NonControlled, &counts,
			&r.ChunksFailed, &r.Resumed, &start, &finish); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(counts), &r.TypeCounts); err != nil {
			return nil, 0, fmt.Errorf("decode type counts for %q: %w", r.Path, err)
		}
		r.MTime, r.StartedAt, r.FinishedAt = time.Unix(mtime, 0), time.Unix(start, 0), time.Unix(finish, 0)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
