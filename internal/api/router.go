// Package api exposes the ops HTTP surface: probes and stats.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vportnov/linkpost/internal/api/handler"
	mw "github.com/vportnov/linkpost/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured. An
// empty apiKey leaves the stats endpoint open.
func NewRouter(healthHandler *handler.HealthHandler, apiKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(middleware.Timeout(time.Minute))

	// Probes stay unauthenticated.
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(mw.APIKeyAuth(apiKey))
		}
		r.Get("/stats", healthHandler.Stats)
	})

	return r
}
