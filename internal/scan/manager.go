package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eargollo/piiscan/internal/progress"
	"github.com/eargollo/piiscan/internal/store"
)

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	RunID       int64             `json:"run_id"`
	OperationID string            `json:"operation_id"`
	StartedAt   time.Time         `json:"started_at"`
	TriggeredBy string            `json:"triggered_by"`
	Roots       []string          `json:"roots"`
	Tracker     *progress.Tracker `json:"-"`

	done chan struct{}
}

// Done is closed when the scan has finished and its lock is released.
func (a *ActiveScan) Done() <-chan struct{} { return a.done }

// Manager enforces a single active run per process and exposes start/cancel
// for the scheduler and the HTTP API. Across processes the Runner's lock
// applies. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	runner *Runner
	roots  []string
	opts   RunOptions

	active   *ActiveScan
	cancelFn context.CancelFunc
	last     *RunSummary
}

// NewManager creates a Manager that scans roots with opts on every Start.
func NewManager(runner *Runner, roots []string, opts RunOptions) *Manager {
	return &Manager{runner: runner, roots: roots, opts: opts}
}

// Roots returns the configured scan roots.
func (m *Manager) Roots() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.roots...)
}

// Start launches an asynchronous run. It returns ErrAlreadyRunning when a
// run is active in this process or another process holds the lock.
// Cancelling parentCtx cancels the run.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	opts := m.opts
	opts.TriggeredBy = triggeredBy
	// Begin runs synchronously so the run ID is available immediately and a
	// held lock surfaces to the caller.
	run, err := m.runner.Begin(parentCtx, m.roots, opts)
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithCancel(parentCtx)
	sum := run.Summary()
	active := &ActiveScan{
		RunID:       sum.RunID,
		OperationID: sum.OperationID,
		StartedAt:   sum.StartedAt,
		TriggeredBy: triggeredBy,
		Roots:       append([]string(nil), m.roots...),
		Tracker:     run.Tracker(),
		done:        make(chan struct{}),
	}
	m.active = active
	m.cancelFn = cancel

	go func() {
		defer close(active.done)
		defer cancel()
		final := run.Execute(scanCtx)

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.last = &final
		m.mu.Unlock()
		if final.Status != store.RunCompleted {
			slog.Warn("scan run ended early", "run_id", final.RunID, "status", final.Status)
		}
	}()

	snap := *active
	return &snap, nil
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// LastSummary returns the summary of the most recent finished run, or nil.
func (m *Manager) LastSummary() *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	s := *m.last
	return &s
}
