package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is a first-party cookie session minted in exchange for a
// provider-issued bearer token. The cookie value is opaque and only its
// hash is stored; the same goes for the remember-me refresh token when
// one is present.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	TokenHash        string
	CSRFToken        string
	RefreshTokenHash string
	RememberMe       bool
	UserAgent        string
	IP               string
	Identity         Identity
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time
	LastActivityAt   time.Time
}

// Expired reports whether the session cookie is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RefreshExpired reports whether the remember-me credential is past its
// expiry. Sessions without one are always refresh-expired.
func (s *Session) RefreshExpired(now time.Time) bool {
	if s.RefreshTokenHash == "" || s.RefreshExpiresAt == nil {
		return true
	}
	return !now.Before(*s.RefreshExpiresAt)
}

// SessionStore is the persistent backing for active sessions. Every
// mutation is a single-row operation keyed by token hash or id, so the
// store's native row atomicity is the only coordination required.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error

	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	GetByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*Session, error)

	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Session, error)

	// Touch slides the session forward after a successful validation.
	// Concurrent touches of the same row are last-write-wins.
	Touch(ctx context.Context, id uuid.UUID, lastActivityAt, expiresAt time.Time) error

	UpdateCSRFToken(ctx context.Context, id uuid.UUID, csrfToken string) error

	Delete(ctx context.Context, id uuid.UUID) error

	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
