package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/config"
	"github.com/eargollo/piiscan/internal/dedup"
	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/extract"
	"github.com/eargollo/piiscan/internal/memory"
	"github.com/eargollo/piiscan/internal/progress"
	"github.com/eargollo/piiscan/internal/store"
	"github.com/eargollo/piiscan/internal/strategy"
)

// Status is the outcome of scanning one file.
type Status string

const (
	StatusProcessed        Status = "processed"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusSkippedError     Status = "skipped_error"
	StatusInterrupted      Status = "interrupted"
)

// Result describes one file scan.
type Result struct {
	Path         string             `json:"path"`
	Status       Status             `json:"status"`
	Summary      detect.FileSummary `json:"summary"`
	Profile      strategy.Profile   `json:"profile"`
	Reason       string             `json:"reason,omitempty"`
	Hash16       string             `json:"hash16,omitempty"`
	Resumed      bool               `json:"resumed"`
	ChunksFailed int                `json:"chunks_failed"`
	Chunks       int                `json:"chunks"`
	// PeakInFlight is the most chunks dispatched but not yet folded at once.
	PeakInFlight int `json:"peak_in_flight"`
}

// maxWorkers caps the per-file pool regardless of configuration.
const maxWorkers = 8

// Deps are the collaborators an Orchestrator writes through.
type Deps struct {
	Memory      *memory.Monitor
	Selector    *strategy.Selector
	Detector    *detect.Detector
	Index       *dedup.Index
	Checkpoints *checkpoint.Manager
	Store       *store.Store
	// Tracker is optional; a private one is used when nil.
	Tracker *progress.Tracker
}

// Orchestrator scans single files: it picks a strategy, streams chunks
// through a bounded worker pool and folds the hits into a FileSummary,
// checkpointing along the way.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	runID int64
	opID  string
}

// NewOrchestrator returns an Orchestrator using cfg and deps.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Selector == nil {
		deps.Selector = strategy.NewSelector(deps.Memory)
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.New()
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// ForRun returns a copy of o that tags results with runID and checkpoints
// with operationID.
func (o *Orchestrator) ForRun(runID int64, operationID string) *Orchestrator {
	c := *o
	c.runID = runID
	c.opID = operationID
	return &c
}

// WithTracker returns a copy of o reporting to t.
func (o *Orchestrator) WithTracker(t *progress.Tracker) *Orchestrator {
	c := *o
	c.deps.Tracker = t
	return &c
}

// Tracker returns the tracker o reports to.
func (o *Orchestrator) Tracker() *progress.Tracker { return o.deps.Tracker }

// Workers returns the pool size used per file.
func (o *Orchestrator) Workers() int {
	n := min(o.deps.Memory.OptimalWorkers(), maxWorkers)
	if o.cfg.Workers.MaxWorkers > 0 {
		n = min(n, o.cfg.Workers.MaxWorkers)
	}
	return max(n, 1)
}

// target is the file being scanned, identified as it was when its scan
// started. Dedup records, checkpoints and detail rows all use this identity.
type target struct {
	path   string
	state  dedup.FileState
	fp     string
	hash16 string
}

func newTarget(path string) (target, error) {
	st, err := dedup.Snapshot(path)
	if err != nil {
		return target{path: path}, err
	}
	return target{
		path:   path,
		state:  st,
		fp:     checkpoint.FingerprintOf(path, st.Size, st.MTime),
		hash16: dedup.Hash16(st.Key),
	}, nil
}

type chunkResult struct {
	index int
	bytes int64
	hits  []detect.EntityHit
	err   error
}

// Scan processes path. chunkSize > 0 overrides the selected chunk size and
// chunkSize <= 0 uses the configured one, if set; overlap <= 0 uses the
// configured overlap. Per-file problems are reported
// through Result.Status; the returned error is non-nil only for skipped_error
// (the cause) and interrupted (the context or extraction error).
func (o *Orchestrator) Scan(ctx context.Context, path string, chunkSize, overlap int) (Result, error) {
	res := Result{Path: path}
	started := time.Now()

	if o.deps.Index.IsDuplicate(ctx, path) {
		res.Status = StatusSkippedDuplicate
		slog.Debug("skipping unchanged file", "path", path)
		return res, nil
	}

	t, err := newTarget(path)
	if err != nil {
		return o.skip(res, err)
	}
	res.Hash16 = t.hash16

	profile, err := o.deps.Selector.Select(path)
	if err != nil {
		return o.skip(res, err)
	}
	if chunkSize <= 0 {
		chunkSize = o.cfg.ChunkSize
	}
	if chunkSize > 0 {
		profile.ChunkSize = chunkSize
	}
	if overlap <= 0 {
		overlap = o.cfg.Overlap
	}
	res.Profile = profile

	src, err := extract.Open(path, extract.Options{
		Strategy:  profile.Strategy,
		ChunkSize: profile.ChunkSize,
		Overlap:   overlap,
	})
	if err != nil {
		return o.skip(res, err)
	}
	opts := src.Options()

	prog := o.resume(t, opts)
	res.Resumed = prog.ChunksDone() > 0
	if !res.Resumed && o.cfg.StoreDetails {
		if err := o.deps.Store.DeleteDetails(ctx, res.Hash16); err != nil {
			slog.Warn("clear entity details failed", "path", path, "error", err)
		}
	}

	tracker := o.deps.Tracker
	estimate := int64(max(profile.EstimatedChunks, prog.ChunksDone()))
	tracker.AddTotal(estimate)
	if res.Resumed {
		tracker.Update(progress.Delta{
			Items:         int64(prog.ChunksDone()),
			Entities:      int64(prog.Summary.Total),
			Controlled:    int64(prog.Summary.Controlled),
			NonControlled: int64(prog.Summary.NonControlled),
			Bytes:         prog.BytesProcessed,
		})
	}

	slog.Info("scanning file", "path", path, "strategy", opts.Strategy,
		"chunk_size", opts.ChunkSize, "overlap", opts.Overlap,
		"size", profile.SizeBytes, "resumed", res.Resumed)

	stats, runErr := o.dispatch(ctx, t, src, &prog)
	chunks := stats.seen

	res.Summary = prog.Summary
	res.ChunksFailed = prog.ChunksFailed
	res.Chunks = chunks
	res.PeakInFlight = stats.peak

	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		if err := o.deps.Checkpoints.SaveFor(path, t.fp, prog); err != nil {
			slog.Error("save checkpoint on interrupt", "path", path, "error", err)
		}
		res.Status = StatusInterrupted
		res.Reason = runErr.Error()
		slog.Warn("file scan interrupted", "path", path, "chunks_done", prog.ChunksDone(), "reason", runErr)
		return res, runErr
	}

	// Replace the estimate with the real count now it is known.
	tracker.AddTotal(int64(chunks) - estimate)
	tracker.IncrementFiles()

	o.complete(context.WithoutCancel(ctx), t, res, prog, started)
	res.Status = StatusProcessed
	return res, nil
}

// resume loads a compatible checkpoint for path or starts fresh progress.
func (o *Orchestrator) resume(t target, opts extract.Options) checkpoint.Progress {
	path := t.path
	fresh := checkpoint.Progress{
		OperationID: o.opID,
		Strategy:    opts.Strategy,
		ChunkSize:   opts.ChunkSize,
		Overlap:     opts.Overlap,
	}
	cp, err := o.deps.Checkpoints.LoadFor(path, t.fp)
	if err != nil {
		slog.Warn("load checkpoint failed", "path", path, "error", err)
		return fresh
	}
	if cp == nil {
		return fresh
	}
	if !cp.Progress.Compatible(opts.Strategy, opts.ChunkSize, opts.Overlap) {
		slog.Info("checkpoint parameters differ, rescanning from start", "path", path,
			"checkpoint_strategy", cp.Progress.Strategy, "strategy", opts.Strategy)
		if err := o.deps.Checkpoints.ClearFor(t.fp); err != nil {
			slog.Warn("clear checkpoint failed", "path", path, "error", err)
		}
		return fresh
	}
	p := cp.Progress.Clone()
	if o.opID != "" {
		p.OperationID = o.opID
	}
	slog.Info("resuming from checkpoint", "path", path, "chunks_done", p.ChunksDone())
	return p
}

type dispatchStats struct {
	seen int // chunks read from the source, including resumed ones
	peak int // most chunks in flight at once
}

// dispatch feeds chunks to the worker pool and folds results into prog. At
// most workers*InFlightFactor chunks are dispatched and not yet folded. It
// returns the first extraction error.
func (o *Orchestrator) dispatch(ctx context.Context, t target, src *extract.Source, prog *checkpoint.Progress) (dispatchStats, error) {
	path := t.path
	workers := o.Workers()
	capacity := workers * prog.Strategy.InFlightFactor()

	jobs := make(chan extract.Chunk)
	results := make(chan chunkResult, capacity)

	// In-flight chunks finish even after cancellation so their work is kept.
	workCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				results <- o.work(workCtx, path, c)
			}
		}()
	}

	every := max(o.cfg.Checkpoint.Every, 1)
	sinceSave := 0
	inflight := 0
	fold := func(r chunkResult) {
		inflight--
		o.fold(ctx, t, prog, r)
		sinceSave++
		if sinceSave >= every {
			sinceSave = 0
			if err := o.deps.Checkpoints.SaveFor(path, t.fp, *prog); err != nil {
				slog.Warn("periodic checkpoint failed", "path", path, "error", err)
			}
			o.deps.Memory.CleanupIfNeeded()
		}
	}

	var streamErr error
	var stats dispatchStats
chunks:
	for c, err := range src.Chunks(ctx) {
		if err != nil {
			streamErr = err
			break
		}
		stats.seen = c.Index + 1
		if prog.Done(c.Index) {
			continue
		}
		for inflight >= capacity {
			fold(<-results)
		}
		for sent := false; !sent; {
			select {
			case jobs <- c:
				inflight++
				stats.peak = max(stats.peak, inflight)
				sent = true
			case r := <-results:
				fold(r)
			case <-ctx.Done():
				streamErr = ctx.Err()
				break chunks
			}
		}
	}

	close(jobs)
	for inflight > 0 {
		fold(<-results)
	}
	wg.Wait()

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) && !errors.Is(streamErr, context.DeadlineExceeded) {
		streamErr = fmt.Errorf("extract %q: %w", path, streamErr)
	}
	return stats, streamErr
}

// work runs detection on one chunk. Hits outside the chunk's owned range are
// dropped and the rest are re-based to document offsets.
func (o *Orchestrator) work(ctx context.Context, path string, c extract.Chunk) (r chunkResult) {
	r.index = c.Index
	r.bytes = c.Bytes
	defer func() {
		if p := recover(); p != nil {
			r.hits = nil
			r.err = fmt.Errorf("detector panic: %v", p)
			slog.Error("detector panic", "path", path, "chunk", c.Index, "panic", p, "stack", string(debug.Stack()))
		}
	}()

	hits, err := o.deps.Detector.Detect(ctx, c.Text)
	if err != nil {
		r.err = err
		return r
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Start < c.Lead || h.Start >= c.Owned {
			continue
		}
		h.Start += int(c.Offset)
		h.End += int(c.Offset)
		kept = append(kept, h)
	}
	r.hits = kept
	return r
}

func (o *Orchestrator) fold(ctx context.Context, t target, prog *checkpoint.Progress, r chunkResult) {
	path := t.path
	prog.MarkDone(r.index)
	prog.BytesProcessed += r.bytes
	d := progress.Delta{Items: 1, Bytes: r.bytes}

	if r.err != nil {
		prog.ChunksFailed++
		slog.Warn("chunk detection failed", "path", path, "chunk", r.index, "error", r.err)
		o.deps.Tracker.Update(d)
		return
	}

	for _, h := range r.hits {
		prog.Summary.Add(h)
		if h.Label == detect.Controlled {
			d.Controlled++
		} else {
			d.NonControlled++
		}
	}
	d.Entities = int64(len(r.hits))
	o.deps.Tracker.Update(d)

	if o.cfg.StoreDetails && len(r.hits) > 0 {
		if err := o.deps.Store.SaveDetails(context.WithoutCancel(ctx), t.hash16, r.hits); err != nil {
			slog.Warn("save entity details failed", "path", path, "chunk", r.index, "error", err)
		}
	}
}

// complete persists the summary and marks the file processed. A file that
// changed while it was read is not recorded in the dedup index, so the next
// run scans it again. Failures are logged; the file still counts as
// processed for this run.
func (o *Orchestrator) complete(ctx context.Context, t target, res Result, prog checkpoint.Progress, started time.Time) {
	path := t.path
	if _, err := o.deps.Store.SaveFileResult(ctx, store.FileResult{
		RunID:         o.runID,
		Path:          path,
		Hash16:        res.Hash16,
		Size:          t.state.Size,
		MTime:         t.state.MTime,
		Strategy:      prog.Strategy.String(),
		Total:         prog.Summary.Total,
		Controlled:    prog.Summary.Controlled,
		NonControlled: prog.Summary.NonControlled,
		TypeCounts:    prog.Summary.TypeCounts,
		ChunksFailed:  prog.ChunksFailed,
		Resumed:       res.Resumed,
		StartedAt:     started,
		FinishedAt:    time.Now(),
	}); err != nil {
		slog.Error("save file result", "path", path, "error", err)
	}

	if now, err := dedup.Snapshot(path); err != nil || t.state.Changed(now) {
		slog.Warn("file changed during scan, it will be rescanned", "path", path)
	} else if err := o.deps.Index.AddProcessed(ctx, path, t.state); err != nil {
		slog.Warn("dedup: record processed failed", "path", path, "error", err)
	}
	if err := o.deps.Checkpoints.ClearFor(t.fp); err != nil {
		slog.Warn("clear checkpoint failed", "path", path, "error", err)
	}
	slog.Info("file scanned", "path", path, "entities", prog.Summary.Total,
		"controlled", prog.Summary.Controlled, "noncontrolled", prog.Summary.NonControlled,
		"chunks_failed", prog.ChunksFailed, "elapsed", time.Since(started).Round(time.Millisecond))
}

func (o *Orchestrator) skip(res Result, err error) (Result, error) {
	res.Status = StatusSkippedError
	switch {
	case errors.Is(err, extract.ErrUnsupported):
		res.Reason = "unsupported file type"
	case errors.Is(err, extract.ErrEncrypted):
		res.Reason = "encrypted document"
	case errors.Is(err, fs.ErrNotExist):
		res.Reason = "file not found"
	default:
		res.Reason = err.Error()
	}
	slog.Warn("skipping file", "path", res.Path, "reason", res.Reason, "error", err)
	return res, err
}
