// Package api provides the REST API router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/metrics"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	// Metrics enables per-request instrumentation when set.
	Metrics *metrics.Metrics
	// MetricsHandler serves the Prometheus exposition when set.
	MetricsHandler http.Handler
	// MetricsPath is the exposition path. Defaults to /metrics.
	MetricsPath string
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler, logger zerolog.Logger) *chi.Mux {
	return NewRouterWithConfig(handler, logger, RouterConfig{})
}

// NewRouterWithConfig creates a new API router with configuration.
func NewRouterWithConfig(handler *Handler, logger zerolog.Logger, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if config.Metrics != nil {
		r.Use(NewMetricsMiddleware(config.Metrics))
	}

	r.Get("/health", handler.HealthCheck)

	if config.MetricsHandler != nil {
		path := config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, config.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", handler.SubmitJob)
			r.Get("/", handler.ListJobs)
			r.Get("/{id}", handler.GetJob)
		})

		r.Get("/stats", handler.Stats)
		r.Post("/queue/sweep", handler.Sweep)

		r.Route("/deadletters", func(r chi.Router) {
			r.Get("/", handler.ListDeadLetters)
			r.Delete("/", handler.ClearDeadLetters)
			r.Get("/triage", handler.TriageDeadLetters)
			r.Post("/{id}/retry", handler.RetryDeadLetter)
			r.Delete("/{id}", handler.DeleteDeadLetter)
		})

		r.Route("/breakers", func(r chi.Router) {
			r.Get("/", handler.ListBreakers)
			r.Post("/reset", handler.ResetAllBreakers)
			r.Post("/{target}/reset", handler.ResetBreaker)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", handler.ListApprovals)
			r.Post("/{ticket}/resolve", handler.ResolveApproval)
		})
	})

	return r
}
