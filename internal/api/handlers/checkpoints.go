package handlers

import (
	"log/slog"
	"net/http"

	"github.com/eargollo/piiscan/internal/checkpoint"
)

// CheckpointsHandler handles GET /api/checkpoints.
type CheckpointsHandler struct {
	Checkpoints *checkpoint.Manager
}

type pendingItem struct {
	FilePath       string `json:"file_path"`
	SavedAt        string `json:"saved_at"`
	Strategy       string `json:"strategy"`
	ChunksDone     int    `json:"chunks_done"`
	EntitiesSoFar  int    `json:"entities_so_far"`
	BytesProcessed int64  `json:"bytes_processed"`
	OperationID    string `json:"operation_id,omitempty"`
}

// ServeHTTP lists resumable checkpoints, newest first. Invalid checkpoints
// are removed as a side effect.
func (h *CheckpointsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cps, err := h.Checkpoints.ListPending()
	if err != nil {
		slog.Error("checkpoints: list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	items := make([]pendingItem, 0, len(cps))
	for _, cp := range cps {
		items = append(items, pendingItem{
			FilePath:       cp.FilePath,
			SavedAt:        cp.SaveTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Strategy:       cp.Progress.Strategy.String(),
			ChunksDone:     cp.Progress.ChunksDone(),
			EntitiesSoFar:  cp.Progress.Summary.Total,
			BytesProcessed: cp.Progress.BytesProcessed,
			OperationID:    cp.Progress.OperationID,
		})
	}
	writeJSON(w, http.StatusOK, ListResponse[pendingItem]{Items: items, Total: len(items), Limit: len(items)})
}
