package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/sourceservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events; it alone also accepts
// the token as a query parameter.
func NewRouter(runs *pipeline.Service, sources *sourceservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(runs, sources)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		// Runs.
		r.Post("/save", h.Save)
		r.Post("/check", h.Check)
		r.Get("/status", h.Status)
		r.Get("/decks", h.Decks)

		// Source files.
		r.Get("/sources", h.ListSources)
		r.Post("/sources", h.CreateSource)
		r.Get("/sources/*", h.GetSource)
		r.Put("/sources/*", h.UpdateSource)
		r.Delete("/sources/*", h.DeleteSource)
	})

	if sseHandler != nil {
		r.With(StreamAuthMiddleware(authEnabled, token)).Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
