package domain

import (
	"context"
	"time"
)

// RateLimitRecord is the per-key counter row backing the rate limiter.
// The counting window and the failure-triggered block are independent:
// BlockedUntil can outlive several window resets.
type RateLimitRecord struct {
	Key            string
	Count          int
	WindowStart    time.Time
	FailedAttempts int
	BlockedUntil   *time.Time
}

// RateLimitConfig is the per-operation limiter policy. MaxFailures and
// BlockFor are only consulted by RecordFailure; a zero MaxFailures
// disables blocking for the key.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
	MaxFailures int
	BlockFor    time.Duration
}

// RateLimitStore provides atomic per-key counter operations. Increment
// must be linearizable with respect to concurrent callers for the same
// key: two racing requests must observe distinct counts.
type RateLimitStore interface {
	// Increment bumps the counter for key within the current window,
	// opening a fresh window (count=1) when the stored one has lapsed.
	// It returns the resulting record including block state.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (*RateLimitRecord, error)

	// RecordFailure bumps the consecutive-failure counter and sets
	// BlockedUntil once maxFailures is reached.
	RecordFailure(ctx context.Context, key string, now time.Time, maxFailures int, blockFor time.Duration) (*RateLimitRecord, error)

	// ClearFailures resets the failure counter and lifts any block.
	ClearFailures(ctx context.Context, key string) error
}
