// Package resticrest is the downstream HTTP glue: it exposes the Restic
// REST backend verbs on github.com/go-chi/chi/v5 routes and translates
// them to resticrepo.Surface calls. No business logic lives here — only
// request parsing (Range headers, body limits) and error-to-status
// mapping.
package resticrest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tonimelisma/restic-pan123-backend/internal/resticrepo"
)

// MaxUploadBytes is the Restic REST body limit: 1 GiB.
const MaxUploadBytes = 1 << 30

// NewRouter builds the full Restic REST backend router over surface.
func NewRouter(surface *resticrepo.Surface, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{surface: surface, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))

	r.Post("/", h.handleInitOrReject)
	r.Delete("/", h.handleRootDelete)

	r.Route("/config", func(r chi.Router) {
		r.Head("/", h.handleConfigHead)
		r.Get("/", h.handleConfigGet)
		r.Post("/", h.handleConfigPost)
	})

	r.Route("/{type}", func(r chi.Router) {
		r.Get("/", h.handleList)

		r.Route("/{name}", func(r chi.Router) {
			r.Head("/", h.handleHead)
			r.Get("/", h.handleGet)
			r.Post("/", h.handlePost)
			r.Delete("/", h.handleDelete)
		})
	})

	return r
}

// requestIDMiddleware stamps every request with a correlation id, logged
// alongside the upstream's own request-id equivalents.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request received", slog.String("method", r.Method), slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
