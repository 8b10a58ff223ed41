package scan

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FileInfo is an eligible file emitted by the walker.
type FileInfo struct {
	Path  string
	Size  int64
	MTime time.Time
}

// WalkOptions selects which files the walker emits.
type WalkOptions struct {
	// Extensions is the lower-case allow-list (".txt"); empty allows all.
	Extensions []string
	// SkipDirs are directory base names never descended into.
	SkipDirs []string
	Workers  int
}

// dirQueue is an unbounded, concurrency-safe queue of directory paths with a
// pending counter so Walk knows when all work is done.
//
// Termination protocol:
//   - pending is incremented BEFORE Push.
//   - Done decrements pending after all children of a directory have been
//     pushed. At zero the queue closes and waiters are released.
//   - Close releases waiters early (cancellation).
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when closed; items left behind by Close are dropped.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.closed && q.pending.Load() > 0 || q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.Close()
	}
}

func (q *dirQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Walk traverses roots concurrently and sends every eligible regular file to
// out, closing out when done. A root that is itself a file is emitted as is.
// Symlinks are never followed. Unreadable directories are logged and skipped.
func Walk(ctx context.Context, roots []string, opts WalkOptions, out chan<- FileInfo) {
	defer close(out)

	allow := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		allow[strings.ToLower(e)] = true
	}
	skip := make(map[string]bool, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		skip[d] = true
	}
	eligible := func(path string) bool {
		return len(allow) == 0 || allow[strings.ToLower(filepath.Ext(path))]
	}

	q := newDirQueue()
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			slog.Warn("walk: root unavailable", "path", root, "error", err)
			continue
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() && eligible(root) {
				select {
				case out <- FileInfo{Path: root, Size: info.Size(), MTime: info.ModTime()}:
				case <-ctx.Done():
					return
				}
			}
			continue
		}
		q.pending.Add(1)
		q.Push(root)
	}
	if q.pending.Load() == 0 {
		return
	}

	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	var wg sync.WaitGroup
	for range max(opts.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, q, skip, eligible, out)
		}()
	}
	wg.Wait()
}

func walkerWorker(ctx context.Context, q *dirQueue, skip map[string]bool, eligible func(string) bool, out chan<- FileInfo) {
	for {
		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("walk: read dir failed", "path", dir, "error", err)
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				if skip[entry.Name()] {
					continue
				}
				q.pending.Add(1)
				q.Push(path)
				continue
			}
			if entry.Type()&fs.ModeSymlink != 0 || !entry.Type().IsRegular() || !eligible(path) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				slog.Warn("walk: stat failed", "path", path, "error", err)
				continue
			}

			select {
			case <-ctx.Done():
				q.Done()
				return
			case out <- FileInfo{Path: path, Size: info.Size(), MTime: info.ModTime()}:
			}
		}

		q.Done()
	}
}
