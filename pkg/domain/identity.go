package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated principal resolved from either a
// first-party session or a raw bearer token. It is a snapshot of the
// claims known at authentication time, not a live view of the user.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Name   string    `json:"name,omitempty"`
	Roles  []string  `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair is a provider-issued bearer access/refresh token pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RequestMeta captures per-request client context recorded on the
// session row for audit. It is never used for authorization decisions.
type RequestMeta struct {
	IP        string
	UserAgent string
}
