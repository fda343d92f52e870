// Package http wires the session endpoints behind the fixed check
// pipeline: Origin -> CSRF -> rate limit -> authentication. The first
// failing check short-circuits the rest, so a rejection never reveals
// whether later checks would have passed.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plazadir/gatekeeper/internal/config"
	"github.com/plazadir/gatekeeper/internal/http/features/session"
	"github.com/plazadir/gatekeeper/internal/http/middleware"
	"github.com/plazadir/gatekeeper/internal/httputil"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger         *slog.Logger
	Sessions       *auth.SessionService
	Limiter        *auth.RateLimiter
	Origin         middleware.OriginPolicy
	Cookies        httputil.CookieConfig
	RateLimits     RateLimits
	Security       config.SecurityHeadersConfig
	MaxBodySize    int64
	ThrottlePerMin int
}

// RateLimits holds the per-operation limiter policies the router applies.
type RateLimits struct {
	Enabled  bool
	Exchange domain.RateLimitConfig
	Restore  domain.RateLimitConfig
	CSRF     domain.RateLimitConfig
}

// NewRouter creates the HTTP router with all session routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.Security))
	if cfg.MaxBodySize > 0 {
		r.Use(middleware.RequestSizeLimit(cfg.MaxBodySize))
	}
	r.Use(middleware.Throttle(cfg.ThrottlePerMin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	limit := func(operation string, policy domain.RateLimitConfig) func(http.Handler) http.Handler {
		if !cfg.RateLimits.Enabled {
			return middleware.NoRateLimit()
		}
		return middleware.RateLimit(cfg.Limiter, operation, policy, middleware.KeyByIP, cfg.Logger)
	}

	handler := session.NewHandler(cfg.Logger, cfg.Sessions, cfg.Limiter, cfg.RateLimits.Exchange, cfg.Cookies)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Origin(cfg.Origin, cfg.Logger))

		// CSRF issuance and the two session-establishing calls run
		// before a cookie/header pairing can exist, so the double-submit
		// check starts at logout and everything after it.
		r.Group(func(r chi.Router) {
			r.Use(limit("csrf", cfg.RateLimits.CSRF))
			r.Get("/csrf", handler.CSRFToken)
			r.Post("/csrf", handler.CSRFToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(limit("exchange", cfg.RateLimits.Exchange))
			r.Post("/session/exchange", handler.Exchange)
		})

		r.Group(func(r chi.Router) {
			r.Use(limit("restore", cfg.RateLimits.Restore))
			r.Get("/session/restore", handler.Restore)
			r.Post("/session/restore", handler.Restore)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.CSRF())
			r.Post("/session/logout", handler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.CSRF())
			r.Use(middleware.Auth(cfg.Sessions, cfg.Cookies))
			r.Post("/session/logout-all", handler.LogoutAll)
			r.Get("/session/list", handler.List)
		})
	})

	return r
}

// Pipeline returns the shared middleware chain application endpoints
// mount in front of business logic, in the binding order.
func Pipeline(cfg RouterConfig, operation string, policy domain.RateLimitConfig) []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		middleware.Origin(cfg.Origin, cfg.Logger),
		middleware.CSRF(),
	}
	if cfg.RateLimits.Enabled {
		chain = append(chain, middleware.RateLimit(cfg.Limiter, operation, policy, middleware.KeyByIP, cfg.Logger))
	}
	chain = append(chain, middleware.Auth(cfg.Sessions, cfg.Cookies))
	return chain
}
