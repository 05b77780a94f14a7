package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/thread-relay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/thread-relay/internal/http/middleware"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	SlackEvents    *handlers.SlackEventsHandler
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/", handlers.Root)
	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.SlackEvents != nil {
		r.Post("/events", cfg.SlackEvents.Handle)
		r.Post("/slack/events", cfg.SlackEvents.Handle)
	}

	return r
}
