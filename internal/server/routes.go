package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maauso/contentcraft-pipeline/internal/auth"
)

// EventsTokenHeader carries the shared secret for POST /events.
const EventsTokenHeader = "X-Events-Token"

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Authenticator resolves the caller on /jobs and /admin routes.
	Authenticator auth.Authenticator
	// Admins gates the /admin routes.
	Admins auth.Authorizer
	// EventsToken, when set, must match the X-Events-Token header on /events.
	EventsToken string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		Authenticator:  auth.NewBearerAuthenticator(""),
		Admins:         auth.NewAllowList(nil),
	}
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/health", h.Health)

	r.With(RequireToken(EventsTokenHeader, cfg.EventsToken)).Post("/events", h.IngestEvents)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.Authenticator, logger))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.SubmitJob)
			r.Get("/", h.ListJobs)
			r.Get("/{id}", h.GetJob)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(cfg.Admins))
			r.Get("/jobs", h.AdminListJobs)
			r.Get("/overview", h.Overview)
			r.Post("/drain", h.Drain)
		})
	})

	return r
}
