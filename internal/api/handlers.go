// Package api implements the read-only package REST API using chi.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pkgsnap/internal/apperr"
	"github.com/starford/pkgsnap/internal/packageservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *packageservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *packageservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListPackages handles GET /api/packages?q=&tag=&limit=&offset=.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListPackages(r.Context(), q.Get("q"), q.Get("tag"), limit, offset)
	if err != nil {
		slog.Error("list packages failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, PackageListResponse{
		Packages: packageservice.FromTrackedList(items),
		Total:    total,
	})
}

// GetPackage handles GET /api/packages/{id}.
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.svc.GetPackage(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("package not found"))
			return
		}
		slog.Error("get package failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, packageservice.FromTracked(*p))
}

// Changes handles GET /api/changes?since=RFC3339.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}

	items, effective, err := h.svc.Changes(r.Context(), since)
	if err != nil {
		slog.Error("list changes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	resp := ChangesResponse{Packages: packageservice.FromTrackedList(items)}
	if !effective.IsZero() {
		ts := effective.UTC()
		resp.Since = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}
