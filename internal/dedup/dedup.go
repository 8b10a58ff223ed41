// Package dedup remembers which files have been fully scanned so unchanged
// files are skipped on later runs.
package dedup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// caseInsensitive reports whether the default filesystem of this platform
// folds case.
var caseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

func normalize(p string) string {
	if caseInsensitive {
		return strings.ToLower(p)
	}
	return p
}

// FileState is the identity of a file at one instant: its canonical key and
// signature, derived from a single stat.
type FileState struct {
	Key       string
	Signature string
	Size      int64
	MTime     time.Time
}

// Snapshot stats path once and derives its key and signature. When the file
// cannot be stat'ed the returned state carries the path-only key and the
// error is returned.
func Snapshot(path string) (FileState, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return FileState{Key: normalize(abs)}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return FileState{Key: normalize(resolved)}, err
	}
	return FileState{
		Key:       fmt.Sprintf("%s|%d|%d", normalize(resolved), info.Size(), info.ModTime().UnixNano()),
		Signature: fmt.Sprintf("%d:%d", info.Size(), info.ModTime().Unix()),
		Size:      info.Size(),
		MTime:     info.ModTime(),
	}, nil
}

// Changed reports whether s and o describe different file contents.
func (s FileState) Changed(o FileState) bool {
	return s.Key != o.Key || s.Signature != o.Signature
}

// CanonicalKey returns resolved_path|size|mtime_ns for path. When the file
// cannot be resolved or stat'ed it falls back to the absolute path alone.
func CanonicalKey(path string) string {
	st, _ := Snapshot(path)
	return st.Key
}

// Signature returns size:mtime_seconds for path.
func Signature(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().Unix()), nil
}

// Hash16 returns the first 16 hex characters of the SHA-256 of key.
func Hash16(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func signaturePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return normalize(path)
	}
	return normalize(abs)
}

// Index is the processed-set and path-signature store. Writes are
// serialised by the database's single connection.
type Index struct {
	db *sql.DB
}

// New returns an Index over db, which must have migrations applied.
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// IsDuplicate reports whether path is unchanged since it was last processed:
// either its current signature equals the one recorded for the same path, or
// its canonical key is in the processed set. Lookup failures count as
// "not a duplicate".
func (x *Index) IsDuplicate(ctx context.Context, path string) bool {
	if sig, err := Signature(path); err == nil {
		var stored string
		err := x.db.QueryRowContext(ctx,
			`SELECT signature FROM path_signatures WHERE path = ?`, signaturePath(path)).Scan(&stored)
		switch {
		case err == nil && stored == sig:
			return true
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			slog.Warn("dedup: signature lookup failed", "path", path, "error", err)
		}
	}

	var one int
	err := x.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_keys WHERE canonical_key = ?`, CanonicalKey(path)).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Warn("dedup: key lookup failed", "path", path, "error", err)
	}
	return err == nil
}

// AddProcessed records st as the processed state of path: its key joins the
// processed set and its signature is stored for the path, in one transaction.
// st should be taken before the file was read so that later writes are seen
// as changes.
func (x *Index) AddProcessed(ctx context.Context, path string, st FileState) error {
	now := time.Now().Unix()
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO processed_keys (canonical_key, hash16, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(canonical_key) DO UPDATE SET processed_at = excluded.processed_at`,
		st.Key, Hash16(st.Key), now); err != nil {
		return fmt.Errorf("insert processed key: %w", err)
	}

	if st.Signature != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO path_signatures (path, signature, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET signature = excluded.signature, updated_at = excluded.updated_at`,
			signaturePath(path), st.Signature, now); err != nil {
			return fmt.Errorf("upsert signature: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the size of the processed set.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processed keys: %w", err)
	}
	return n, nil
}
