package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/plazadir/gatekeeper/internal/httputil"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

// KeyFunc derives the caller identity part of a rate-limit key.
type KeyFunc func(r *http.Request) string

// KeyByIP keys the limiter by client IP.
func KeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit enforces the store-backed per-operation limiter. Rejections
// carry a reset_at hint; block responses additionally explain that the
// caller is temporarily blocked. Store faults fail open inside the
// limiter, so this middleware only ever sees admit or reject.
func RateLimit(limiter *auth.RateLimiter, operation string, cfg domain.RateLimitConfig, keyFn KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = KeyByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := auth.Key(operation, keyFn(r))
			err := limiter.Check(r.Context(), key, cfg)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var rateErr *domain.RateLimitError
			if !errors.As(err, &rateErr) {
				next.ServeHTTP(w, r)
				return
			}

			if logger != nil {
				logger.Warn("rate limit rejection",
					"key", key,
					"blocked", rateErr.Blocked,
					"reset_at", rateErr.ResetAt,
					"path", r.URL.Path,
				)
			}

			message := "rate limit exceeded, please try again later"
			if rateErr.Blocked {
				message = "temporarily blocked after repeated failures"
			}
			httputil.RateLimited(w, message, rateErr.ResetAt.Format(time.RFC3339))
		})
	}
}

// NoRateLimit returns a no-op middleware for deployments that disable
// rate limiting.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// Throttle is a coarse in-process per-IP request cap in front of the
// store-backed limiter. It bounds bursts before they reach the store;
// the persistent limiter remains the authoritative cross-instance
// control.
func Throttle(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return NoRateLimit()
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httputil.Error(w, http.StatusTooManyRequests, "too many requests")
		}),
	)
}
