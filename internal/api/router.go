/**
 * @description
 * This file sets up the HTTP router for the subscription-tracker using go-chi/chi.
 * It applies logging, recovery, timeout, CORS and metrics middleware and maps
 * the subscription, internal and operational routes to their handlers.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/transfa/subscription-tracker/internal/metrics"
)

// RouterConfig carries the optional security settings of the router.
type RouterConfig struct {
	// ClerkJWKSURL enables bearer authentication on /subscriptions when set.
	ClerkJWKSURL string
	// InternalAPIKey guards /internal routes. They are not mounted when empty.
	InternalAPIKey string
}

// NewRouter creates a new Chi router and registers the subscription-tracker routes.
func NewRouter(h *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(MetricsMiddleware(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.InternalAPIKey != "" {
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
			r.Post("/sweep", h.handleRunSweep)
		})
	}

	r.Route("/subscriptions", func(r chi.Router) {
		if cfg.ClerkJWKSURL != "" {
			r.Use(ClerkAuthMiddleware(cfg.ClerkJWKSURL))
		}

		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Post("/{id}/renew", h.handleRenew)
		r.Get("/{id}/status", h.handleStatus)
	})

	return r
}
