package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/eduops/internal/view"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(reg *view.Registry, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(reg)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/views", h.ListViews)
	r.Route("/views/{view}", func(r chi.Router) {
		r.Get("/", h.QueryView)
		r.Post("/refresh", h.RefreshView)
		r.Get("/export", h.ExportView)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
