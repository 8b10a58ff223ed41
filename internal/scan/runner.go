package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/config"
	"github.com/eargollo/piiscan/internal/dedup"
	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/progress"
	"github.com/eargollo/piiscan/internal/store"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// RunOptions tunes one directory run.
type RunOptions struct {
	// ChunkSize > 0 overrides the configured and per-file chunk size.
	ChunkSize int
	// Overlap <= 0 uses the configured overlap.
	Overlap     int
	TriggeredBy string
}

// RunSummary is the audit record of one directory run.
type RunSummary struct {
	RunID            int64              `json:"run_id"`
	OperationID      string             `json:"operation_id"`
	Status           string             `json:"status"`
	Processed        int                `json:"processed"`
	SkippedDuplicate int                `json:"skipped_duplicate"`
	SkippedError     int                `json:"skipped_error"`
	Interrupted      int                `json:"interrupted"`
	Entities         detect.FileSummary `json:"entities"`
	BytesProcessed   int64              `json:"bytes_processed"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
}

// Runner scans directory trees under the output directory's exclusive lock.
type Runner struct {
	cfg         *config.Config
	orch        *Orchestrator
	index       *dedup.Index
	checkpoints *checkpoint.Manager
	store       *store.Store

	// Render draws progress; nil disables the reporter.
	Render   progress.RenderFunc
	Interval time.Duration
}

// NewRunner returns a Runner. The orchestrator's collaborators are reused for
// the run-level stages.
func NewRunner(cfg *config.Config, orch *Orchestrator) *Runner {
	return &Runner{
		cfg:         cfg,
		orch:        orch,
		index:       orch.deps.Index,
		checkpoints: orch.deps.Checkpoints,
		store:       orch.deps.Store,
		Interval:    time.Second,
	}
}

// Run is a lock-holding directory scan in progress. It is created by Begin
// and consumed by Execute.
type Run struct {
	r       *Runner
	roots   []string
	opts    RunOptions
	summary RunSummary
	tracker *progress.Tracker
}

// Tracker returns the live progress of the run.
func (run *Run) Tracker() *progress.Tracker { return run.tracker }

// Summary returns the identifiers of the run; tallies are only final after
// Execute returns.
func (run *Run) Summary() RunSummary { return run.summary }

// Begin acquires the scan lock and opens the run record. It fails with
// ErrAlreadyRunning, without side effects, when the lock is held.
func (r *Runner) Begin(ctx context.Context, roots []string, opts RunOptions) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("operation id: %w", err)
	}
	opID := id.String()

	ok, err := r.checkpoints.AcquireLock(opID)
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !ok {
		if holder, _ := r.checkpoints.LockHolder(); holder != nil {
			return nil, fmt.Errorf("%w: operation %s (pid %d on %s) since %s",
				ErrAlreadyRunning, holder.OperationID, holder.PID, holder.Host, holder.StartTime.Format(time.RFC3339))
		}
		return nil, ErrAlreadyRunning
	}

	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}
	started := time.Now()
	runID, err := r.store.StartRun(ctx, opID, opts.TriggeredBy, roots, started)
	if err != nil {
		if relErr := r.checkpoints.ReleaseLock(); relErr != nil {
			slog.Warn("release scan lock", "error", relErr)
		}
		return nil, fmt.Errorf("create run record: %w", err)
	}

	return &Run{
		r:     r,
		roots: roots,
		opts:  opts,
		summary: RunSummary{
			RunID:       runID,
			OperationID: opID,
			Status:      store.RunRunning,
			StartedAt:   started,
		},
		tracker: progress.New(),
	}, nil
}

// Run scans roots once. Per-file failures are tallied in the summary; only
// lock contention and setup failures are returned as errors. A cancelled
// context ends the run early with status cancelled.
func (r *Runner) Run(ctx context.Context, roots []string, opts RunOptions) (RunSummary, error) {
	run, err := r.Begin(ctx, roots, opts)
	if err != nil {
		return RunSummary{}, err
	}
	return run.Execute(ctx), nil
}

// Execute walks the roots, scans each eligible file and finalises the run
// record. The scan lock is released before Execute returns.
func (run *Run) Execute(ctx context.Context) RunSummary {
	r := run.r
	defer func() {
		if err := r.checkpoints.ReleaseLock(); err != nil {
			slog.Warn("release scan lock", "error", err)
		}
	}()

	sum := &run.summary
	slog.Info("scan run started", "run_id", sum.RunID, "operation_id", sum.OperationID,
		"roots", run.roots, "triggered_by", run.opts.TriggeredBy)

	if r.Render != nil {
		rep := &progress.Reporter{Tracker: run.tracker, Interval: r.Interval, Render: r.Render}
		rep.Start(ctx)
		defer rep.Stop()
	}

	orch := r.orch.ForRun(sum.RunID, sum.OperationID).WithTracker(run.tracker)

	// Stages stop on scanCtx so an early return never leaves them blocked.
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	const bufSize = 256
	walkOut := make(chan FileInfo, bufSize)
	fresh := make(chan FileInfo, bufSize)
	dups := make(chan FileInfo, bufSize)
	ordered := make(chan FileInfo)

	go Walk(scanCtx, run.roots, WalkOptions{
		Extensions: r.cfg.Extensions,
		SkipDirs:   r.cfg.SkipDirs,
		Workers:    r.cfg.Workers.Walkers,
	}, walkOut)
	RunDedupCheck(scanCtx, r.index, walkOut, fresh, dups)
	RunPriorityQueue(scanCtx, fresh, ordered)

	for ordered != nil || dups != nil {
		select {
		case _, ok := <-dups:
			if !ok {
				dups = nil
				continue
			}
			sum.SkippedDuplicate++
			run.tracker.IncrementFiles()
		case fi, ok := <-ordered:
			if !ok {
				ordered = nil
				continue
			}
			if ctx.Err() != nil {
				ordered, dups = nil, nil
				continue
			}
			res, err := orch.Scan(ctx, fi.Path, run.opts.ChunkSize, run.opts.Overlap)
			run.tally(res, err)
		}
	}

	sum.FinishedAt = time.Now()
	sum.Status = store.RunCompleted
	if ctx.Err() != nil {
		sum.Status = store.RunCancelled
	}

	finished := sum.FinishedAt
	if err := r.store.FinishRun(context.WithoutCancel(ctx), store.Run{
		ID:               sum.RunID,
		Status:           sum.Status,
		FinishedAt:       &finished,
		FilesProcessed:   sum.Processed,
		FilesDuplicate:   sum.SkippedDuplicate,
		FilesError:       sum.SkippedError,
		FilesInterrupted: sum.Interrupted,
		EntitiesFound:    sum.Entities.Total,
		BytesProcessed:   sum.BytesProcessed,
	}); err != nil {
		slog.Error("finalise run record", "run_id", sum.RunID, "error", err)
	}

	slog.Info("scan run finished", "run_id", sum.RunID, "status", sum.Status,
		"processed", sum.Processed, "skipped_duplicate", sum.SkippedDuplicate,
		"skipped_error", sum.SkippedError, "interrupted", sum.Interrupted,
		"entities", sum.Entities.Total, "controlled", sum.Entities.Controlled,
		"noncontrolled", sum.Entities.NonControlled,
		"elapsed", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	return *sum
}

func (run *Run) tally(res Result, err error) {
	sum := &run.summary
	switch res.Status {
	case StatusProcessed:
		sum.Processed++
		sum.Entities.Merge(res.Summary)
		sum.BytesProcessed += res.Profile.SizeBytes
	case StatusSkippedDuplicate:
		sum.SkippedDuplicate++
		run.tracker.IncrementFiles()
	case StatusSkippedError:
		sum.SkippedError++
		run.tracker.IncrementFiles()
	case StatusInterrupted:
		sum.Interrupted++
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("file interrupted", "path", res.Path, "error", err)
		}
	}
}
