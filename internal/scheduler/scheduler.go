// Package scheduler drives periodic rescans for watch mode.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/piiscan/internal/scan"
)

// Starter launches an asynchronous run; *scan.Manager implements it.
type Starter interface {
	Start(ctx context.Context, triggeredBy string) (*scan.ActiveScan, error)
}

// Scheduler wraps robfig/cron and tracks the next scheduled run.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{
		c: cron.New(),
	}
}

// Every returns the cron expression for a fixed poll interval in seconds.
func Every(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}

// SetJob replaces the current scan job with the given expression and callback.
// If the scheduler is already running, the new job takes effect immediately.
func (s *Scheduler) SetJob(expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}

	id, err := s.c.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("scheduler: job set", "cron", expr)
	return nil
}

// AddJob adds a background job that fires on the given cron expression.
// Unlike SetJob, this does not replace the tracked scan job.
func (s *Scheduler) AddJob(expr string, fn func()) error {
	_, err := s.c.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	slog.Info("scheduler: background job added", "cron", expr)
	return nil
}

// Watch sets the scan job to start a run every pollSeconds. A tick that
// finds a run in progress does nothing.
func (s *Scheduler) Watch(ctx context.Context, starter Starter, pollSeconds int) error {
	return s.SetJob(Every(pollSeconds), ScanJob(ctx, starter))
}

// ScanJob returns a cron callback that starts a scheduled run.
func ScanJob(ctx context.Context, starter Starter) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		active, err := starter.Start(ctx, "schedule")
		switch {
		case errors.Is(err, scan.ErrAlreadyRunning):
			slog.Debug("scheduler: scan still running, skipping tick")
		case err != nil:
			slog.Error("scheduler: start scan", "error", err)
		default:
			slog.Info("scheduler: scan started", "run_id", active.RunID, "operation_id", active.OperationID)
		}
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled time, or nil if no job is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}
