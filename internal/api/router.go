package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pkgsnap/internal/packageservice"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *packageservice.Service, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	r.Get("/packages", h.ListPackages)
	r.Get("/packages/{id}", h.GetPackage)
	r.Get("/changes", h.Changes)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
