package domain

import (
	"errors"
	"fmt"
	"time"
)

// Authentication and pipeline errors. Handlers map these to generic
// responses; the concrete cause is never exposed to the caller.
var (
	ErrInvalidOrigin    = errors.New("invalid origin")
	ErrCSRFMismatch     = errors.New("csrf token mismatch")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrInvalidToken     = errors.New("invalid token")
	ErrForbidden        = errors.New("forbidden")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// RateLimitError is returned when a request is rejected by the rate
// limiter. ResetAt tells the client when to retry; Blocked marks a
// failure-threshold block rather than an exceeded window.
type RateLimitError struct {
	ResetAt time.Time
	Blocked bool
	Reason  string
}

func (e *RateLimitError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("temporarily blocked until %s: %s", e.ResetAt.Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}
