// Package checkpoint persists per-file scan progress so interrupted scans
// resume, and holds the per-output-directory scan lock.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// Dir is the checkpoint directory under the output directory.
	Dir = ".resume"
	// Version is the checkpoint format version; other versions are discarded.
	Version = 1

	lockName   = "scan.lock"
	filePrefix = "checkpoint_"
	fileSuffix = ".json"

	// lockAttempts bounds retries when the sentinel is replaced under us.
	lockAttempts = 3
)

// Checkpoint is one persisted progress record.
type Checkpoint struct {
	FilePath    string    `json:"file_path"`
	Fingerprint string    `json:"fingerprint"`
	SaveTime    time.Time `json:"save_time"`
	Progress    Progress  `json:"progress"`
	Version     int       `json:"version"`
}

// Options configures a Manager.
type Options struct {
	StaleAfter time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Manager owns the checkpoint directory and the scan lock of one output
// directory. Its methods are safe for concurrent use.
type Manager struct {
	dir  string
	opts Options

	mu   sync.Mutex // serialises checkpoint writes and lock state
	lock *flock.Flock
	held bool
}

// New creates the checkpoint directory under outputDir and returns a Manager.
func New(outputDir string, opts Options) (*Manager, error) {
	dir := filepath.Join(outputDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		dir:  dir,
		opts: opts,
		lock: flock.New(filepath.Join(dir, lockName)),
	}, nil
}

// Fingerprint returns the first 16 hex characters of the SHA-256 of
// path:size:mtime_seconds.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return FingerprintOf(path, info.Size(), info.ModTime()), nil
}

// FingerprintOf returns the fingerprint of path as it was when it had size
// and mtime.
func FingerprintOf(path string, size int64, mtime time.Time) string {
	raw := fmt.Sprintf("%s:%d:%d", path, size, mtime.Unix())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

func (m *Manager) fileFor(fingerprint string) string {
	return filepath.Join(m.dir, filePrefix+fingerprint+fileSuffix)
}

// Save writes the checkpoint for path atomically (temp file, then rename).
func (m *Manager) Save(path string, p Progress) error {
	fp, err := Fingerprint(path)
	if err != nil {
		return fmt.Errorf("fingerprint %q: %w", path, err)
	}
	return m.SaveFor(path, fp, p)
}

// SaveFor writes the checkpoint for path under fingerprint fp, the identity
// of the file when its scan started. If the file has changed since, the
// checkpoint never matches it and is discarded on the next Load or
// ListPending.
func (m *Manager) SaveFor(path, fp string, p Progress) error {
	data, err := json.MarshalIndent(Checkpoint{
		FilePath:    path,
		Fingerprint: fp,
		SaveTime:    m.opts.Now(),
		Progress:    p,
		Version:     Version,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return atomicWrite(m.fileFor(fp), data)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	tmp = nil
	return nil
}

// Load returns the checkpoint for path if one exists, matches the file's
// current fingerprint and is not stale. Any other checkpoint found for the
// path is deleted and Load returns nil.
func (m *Manager) Load(path string) (*Checkpoint, error) {
	fp, err := Fingerprint(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %q: %w", path, err)
	}
	return m.LoadFor(path, fp)
}

// LoadFor is Load for a fingerprint the caller already holds.
func (m *Manager) LoadFor(path, fp string) (*Checkpoint, error) {
	file := m.fileFor(fp)
	cp, err := m.read(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("checkpoint: discarding unreadable checkpoint", "file", file, "error", err)
		m.remove(file)
		return nil, nil
	}
	if reason := m.invalid(cp); reason != "" {
		slog.Info("checkpoint: discarding", "path", path, "reason", reason)
		m.remove(file)
		return nil, nil
	}
	return cp, nil
}

func (m *Manager) read(file string) (*Checkpoint, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &cp, nil
}

// invalid returns why cp cannot be resumed, or "" if it can.
func (m *Manager) invalid(cp *Checkpoint) string {
	if cp.Version != Version {
		return fmt.Sprintf("version %d", cp.Version)
	}
	fp, err := Fingerprint(cp.FilePath)
	if err != nil {
		return "target missing"
	}
	if fp != cp.Fingerprint {
		return "target changed"
	}
	if m.opts.Now().Sub(cp.SaveTime) > m.opts.StaleAfter {
		return "stale"
	}
	return ""
}

func (m *Manager) remove(file string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("checkpoint: remove failed", "file", file, "error", err)
	}
}

// Clear deletes the checkpoint for path, if any.
func (m *Manager) Clear(path string) error {
	fp, err := Fingerprint(path)
	if err != nil {
		return fmt.Errorf("fingerprint %q: %w", path, err)
	}
	return m.ClearFor(fp)
}

// ClearFor deletes the checkpoint stored under fingerprint fp, if any.
func (m *Manager) ClearFor(fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.fileFor(fp)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (m *Manager) files() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			out = append(out, filepath.Join(m.dir, name))
		}
	}
	return out, nil
}

// ListPending returns every resumable checkpoint, newest first. Corrupt,
// orphaned, changed or stale checkpoints are deleted along the way.
func (m *Manager) ListPending() ([]Checkpoint, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	var out []Checkpoint
	for _, file := range files {
		cp, err := m.read(file)
		if err != nil {
			slog.Warn("checkpoint: deleting unreadable checkpoint", "file", file, "error", err)
			m.remove(file)
			continue
		}
		if reason := m.invalid(cp); reason != "" {
			slog.Info("checkpoint: deleting", "path", cp.FilePath, "reason", reason)
			m.remove(file)
			continue
		}
		out = append(out, *cp)
	}
	slices.SortFunc(out, func(a, b Checkpoint) int { return b.SaveTime.Compare(a.SaveTime) })
	return out, nil
}

// CleanupOlderThan deletes checkpoints saved more than age ago, and
// unreadable ones whose file is that old, returning how many were removed.
func (m *Manager) CleanupOlderThan(age time.Duration) (int, error) {
	files, err := m.files()
	if err != nil {
		return 0, err
	}
	cutoff := m.opts.Now().Add(-age)
	removed := 0
	for _, file := range files {
		saved := time.Time{}
		if cp, err := m.read(file); err == nil {
			saved = cp.SaveTime
		} else if info, err := os.Stat(file); err == nil {
			saved = info.ModTime()
		}
		if saved.Before(cutoff) {
			m.remove(file)
			removed++
		}
	}
	return removed, nil
}

// LockInfo describes the holder of the scan lock.
type LockInfo struct {
	OperationID string    `json:"operation_id"`
	PID         int       `json:"pid"`
	Host        string    `json:"host"`
	StartTime   time.Time `json:"start_time"`
}

// AcquireLock takes the exclusive scan lock without blocking and records
// operationID in the sentinel. It returns false when the lock is held
// elsewhere, including by an earlier call on this Manager.
func (m *Manager) AcquireLock(operationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return false, nil
	}
	for attempt := 1; ; attempt++ {
		ok, err := m.lock.TryLock()
		if err != nil {
			return false, fmt.Errorf("try lock %s: %w", m.lock.Path(), err)
		}
		if !ok {
			return false, nil
		}
		if lockedCurrentFile(m.lock) {
			break
		}
		// The sentinel was replaced between open and lock, so the locked
		// handle no longer guards the path.
		if err := m.lock.Unlock(); err != nil {
			return false, fmt.Errorf("unlock %s: %w", m.lock.Path(), err)
		}
		if attempt == lockAttempts {
			slog.Warn("scan lock: sentinel keeps changing, giving up", "path", m.lock.Path())
			return false, nil
		}
	}
	m.held = true

	host, _ := os.Hostname()
	data, err := json.Marshal(LockInfo{
		OperationID: operationID,
		PID:         os.Getpid(),
		Host:        host,
		StartTime:   m.opts.Now(),
	})
	if err == nil {
		err = os.WriteFile(m.lock.Path(), data, 0o644)
	}
	if err != nil {
		slog.Warn("scan lock: writing holder info failed", "error", err)
	}
	return true, nil
}

// ReleaseLock empties the sentinel and releases the lock. It is a no-op when
// the lock is not held. The file is kept so every contender locks the same
// inode.
func (m *Manager) ReleaseLock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return nil
	}
	m.held = false
	if err := os.Truncate(m.lock.Path(), 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("scan lock: clear sentinel failed", "error", err)
	}
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", m.lock.Path(), err)
	}
	return nil
}

// lockedCurrentFile reports whether the handle held by l is still the file
// at l.Path().
func lockedCurrentFile(l *flock.Flock) bool {
	held, err := l.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(l.Path())
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

// LockHolder returns the recorded holder of the scan lock, or nil when no
// holder is recorded. A holder whose process is gone is still reported;
// breaking the lock is left to the operator.
func (m *Manager) LockHolder() (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, lockName))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock sentinel: %w", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode lock sentinel: %w", err)
	}
	return &info, nil
}
