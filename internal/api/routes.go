package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a Chi router with the ops routes
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/healthz", h.HandleHealth)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	// Run status
	r.Get("/runs/latest", h.HandleLatestRuns)

	return r
}
