// Package api assembles the HTTP surface of the offline cache.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hszk-dev/offlinecache/internal/api/handler"
	"github.com/hszk-dev/offlinecache/internal/api/middleware"
)

// RouterConfig holds the pieces mounted by NewRouter.
type RouterConfig struct {
	Logger    *slog.Logger
	JWTSecret []byte
	Offline   *handler.OfflineHandler
	Health    *handler.HealthHandler
}

// NewRouter returns the API router. Everything under /v1 requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Identity(cfg.JWTSecret))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		cfg.Offline.Routes(r)
	})

	return r
}
