// Package httpapi exposes the authentication engine over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/labelforge/authcore"
	"github.com/labelforge/authcore/middleware"
)

// Config carries the optional pieces of the router.
type Config struct {
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// TrustProxyHeaders takes the client IP from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// NewRouter creates a chi router with all auth routes registered.
func NewRouter(engine *authcore.Engine, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(requestContext)
	r.Use(Recovery(logger))
	r.Use(RequestLogging(logger))

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", readiness(engine))
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	h := &AuthHandler{engine: engine, logger: logger}
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/logout-all", h.LogoutAll)
		r.Post("/password-reset/request", h.RequestPasswordReset)
		r.Post("/password-reset/confirm", h.ConfirmPasswordReset)
	})
	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(middleware.Guard(engine))
		r.Get("/", h.Me)
	})

	return r
}

func readiness(engine *authcore.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := engine.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
