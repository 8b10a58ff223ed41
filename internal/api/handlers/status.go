package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/progress"
	"github.com/eargollo/piiscan/internal/scan"
	"github.com/eargollo/piiscan/internal/scheduler"
	"github.com/eargollo/piiscan/internal/store"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Store       *store.Store
	Manager     *scan.Manager
	Checkpoints *checkpoint.Manager
	Sched       *scheduler.Scheduler
	Version     string
}

type statusResponse struct {
	Version     string               `json:"version"`
	ActiveScan  *activeScanInfo      `json:"active_scan"`
	LockHolder  *checkpoint.LockInfo `json:"lock_holder"`
	Schedule    scheduleInfo         `json:"schedule"`
	LastRun     *store.Run           `json:"last_run"`
	LastSummary *scan.RunSummary     `json:"last_summary,omitempty"`
}

type activeScanInfo struct {
	RunID       int64          `json:"run_id"`
	OperationID string         `json:"operation_id"`
	StartedAt   time.Time      `json:"started_at"`
	TriggeredBy string         `json:"triggered_by"`
	Roots       []string       `json:"roots"`
	Progress    progress.Stats `json:"progress"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Version: h.Version}

	if h.Manager != nil {
		if a := h.Manager.ActiveScan(); a != nil {
			resp.ActiveScan = &activeScanInfo{
				RunID:       a.RunID,
				OperationID: a.OperationID,
				StartedAt:   a.StartedAt.UTC(),
				TriggeredBy: a.TriggeredBy,
				Roots:       a.Roots,
				Progress:    a.Tracker.Stats(),
			}
		}
		resp.LastSummary = h.Manager.LastSummary()
	}
	if h.Sched != nil {
		resp.Schedule = scheduleInfo{Cron: h.Sched.CronExpr(), NextRunAt: h.Sched.NextRunAt()}
	}
	if h.Checkpoints != nil {
		holder, err := h.Checkpoints.LockHolder()
		if err != nil {
			slog.Warn("status: read lock holder", "error", err)
		}
		resp.LockHolder = holder
	}
	if h.Store != nil {
		last, err := h.Store.LastRun(r.Context())
		if err != nil {
			slog.Error("status: query last run", "error", err)
		}
		resp.LastRun = last
	}
	writeJSON(w, http.StatusOK, resp)
}
