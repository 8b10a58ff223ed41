package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/store"
)

// FilesHandler handles per-file result endpoints.
type FilesHandler struct {
	Store *store.Store
}

// List handles GET /api/files?prefix=&min_total=&limit=&offset=.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	f := store.FileFilter{
		PathPrefix: r.URL.Query().Get("prefix"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := r.URL.Query().Get("min_total"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "min_total must be a non-negative integer")
			return
		}
		f.MinTotal = n
	}

	files, total, err := h.Store.ListFiles(r.Context(), f)
	if err != nil {
		slog.Error("files list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if files == nil {
		files = []store.FileResult{}
	}
	writeJSON(w, http.StatusOK, ListResponse[store.FileResult]{
		Items:  files,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Details handles GET /api/files/{hash16}/entities. Rows exist only when
// store_details is enabled.
func (h *FilesHandler) Details(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash16")
	if len(hash) != 16 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "hash16 must be 16 hex characters")
		return
	}
	hits, err := h.Store.Details(r.Context(), hash)
	if err != nil {
		slog.Error("files details: query", "hash16", hash, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if hits == nil {
		hits = []detect.EntityHit{}
	}
	writeJSON(w, http.StatusOK, ListResponse[detect.EntityHit]{Items: hits, Total: len(hits), Limit: len(hits)})
}
