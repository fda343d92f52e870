package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// Default per-operation policies. These are configuration defaults, not
// constants of the design; deployments override them per environment.
var (
	PolicyLogin         = domain.RateLimitConfig{Window: 5 * time.Minute, MaxRequests: 10, MaxFailures: 5, BlockFor: 15 * time.Minute}
	PolicyPasswordReset = domain.RateLimitConfig{Window: time.Hour, MaxRequests: 3, MaxFailures: 5, BlockFor: 30 * time.Minute}
	PolicyContactForm   = domain.RateLimitConfig{Window: time.Minute, MaxRequests: 3}
	PolicyAdminBulk     = domain.RateLimitConfig{Window: time.Hour, MaxRequests: 5}
)

// RateLimiter is the abuse guard: a sliding-window counter plus a
// failure-triggered temporary block, both backed by a store with atomic
// per-key updates so the limit holds across server instances.
//
// The limiter is defense in depth, not the sole control: on store faults
// it fails open and logs the anomaly rather than denying service.
type RateLimiter struct {
	store  domain.RateLimitStore
	logger *slog.Logger
}

func NewRateLimiter(store domain.RateLimitStore, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{store: store, logger: logger}
}

// Key builds the composite limiter key for an operation and caller
// identity (IP, email, or user id).
func Key(operation, caller string) string {
	return operation + ":" + caller
}

// Check admits or rejects one request for key under cfg. A *domain.
// RateLimitError is returned on rejection; any other error means the
// caller should treat the request as admitted.
func (l *RateLimiter) Check(ctx context.Context, key string, cfg domain.RateLimitConfig) error {
	now := time.Now()
	record, err := l.store.Increment(ctx, key, now, cfg.Window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open", "key", key, "error", err)
		return nil
	}

	if record.BlockedUntil != nil && now.Before(*record.BlockedUntil) {
		return &domain.RateLimitError{
			ResetAt: *record.BlockedUntil,
			Blocked: true,
			Reason:  "too many failed attempts",
		}
	}

	if record.Count > cfg.MaxRequests {
		return &domain.RateLimitError{ResetAt: record.WindowStart.Add(cfg.Window)}
	}
	return nil
}

// RecordFailure notes one security-sensitive failure for key, arming the
// block once cfg.MaxFailures consecutive failures accumulate. Generic
// rate-limited rejections are not failures and must not be recorded.
func (l *RateLimiter) RecordFailure(ctx context.Context, key string, cfg domain.RateLimitConfig) error {
	if cfg.MaxFailures <= 0 {
		return nil
	}
	record, err := l.store.RecordFailure(ctx, key, time.Now(), cfg.MaxFailures, cfg.BlockFor)
	if err != nil {
		l.logger.Warn("rate limit store unavailable recording failure", "key", key, "error", err)
		return fmt.Errorf("record failure: %w", err)
	}
	if record.BlockedUntil != nil {
		l.logger.Warn("caller blocked after repeated failures",
			"key", key,
			"failed_attempts", record.FailedAttempts,
			"blocked_until", *record.BlockedUntil,
		)
	}
	return nil
}

// ClearFailures resets the failure counter after a verified success so a
// caller who eventually succeeds is not punished.
func (l *RateLimiter) ClearFailures(ctx context.Context, key string) error {
	if err := l.store.ClearFailures(ctx, key); err != nil {
		l.logger.Warn("rate limit store unavailable clearing failures", "key", key, "error", err)
		return fmt.Errorf("clear failures: %w", err)
	}
	return nil
}
