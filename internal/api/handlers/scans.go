package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/piiscan/internal/scan"
	"github.com/eargollo/piiscan/internal/store"
)

// ScansHandler handles scan-related API endpoints.
type ScansHandler struct {
	Store   *store.Store
	Manager *scan.Manager
	// BaseCtx parents started runs; cancelling it stops them. Defaults to
	// context.Background.
	BaseCtx context.Context
}

// Create handles POST /api/scans, triggering a manual run.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	base := h.BaseCtx
	if base == nil {
		base = context.Background()
	}
	active, err := h.Manager.Start(base, "api")
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", err.Error())
			return
		}
		slog.Error("scans: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.RunID,
		"operation_id": active.OperationID,
		"status":       store.RunRunning,
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/scans/current.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           snap.RunID,
		"operation_id": snap.OperationID,
		"status":       "cancelling",
		"started_at":   snap.StartedAt.UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/scans, returning runs newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePagination(r)
	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("scans list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, ListResponse[store.Run]{
		Items: runs,
		Total: len(runs),
		Limit: limit,
	})
}

// Get handles GET /api/scans/{id}.
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid scan ID")
		return
	}
	run, err := h.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "scan not found")
		return
	}
	if err != nil {
		slog.Error("scans get: query", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
