package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	incidentapi "github.com/mitigateops/platform/internal/incident/api"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/shared/auth"
	"github.com/mitigateops/platform/internal/shared/metrics"
	secmiddleware "github.com/mitigateops/platform/internal/shared/middleware"
)

const maxBodyBytes = 1 << 20

func newRouter(app *App) http.Handler {
	cfg := app.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(app.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(secmiddleware.BodyLimit(maxBodyBytes))
		if cfg.Auth.Required {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/incidents", incidentapi.NewHandler(app.Service).Routes())

		r.Group(func(r chi.Router) {
			if cfg.Auth.Required {
				r.Use(auth.RequireRoles(auth.RoleAdmin, auth.RoleDispatcher))
			}
			r.Mount("/organizations", oncall.NewHandler(app.OnCall, app.Bus, app.Logger.Named("oncall")).Routes())
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := app.Bus.Health(); err != nil {
			checks["events"] = "not ready: " + err.Error()
		} else {
			checks["events"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		stats := app.Dispatcher.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks":        checks,
			"notifications": stats,
		})
	}
}
