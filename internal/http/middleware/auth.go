package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plazadir/gatekeeper/internal/httputil"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

type contextKey string

const (
	// IdentityKey is the context key for the authenticated identity.
	IdentityKey contextKey = "identity"
	// AuthSourceKey is the context key for the mechanism that
	// authenticated the request.
	AuthSourceKey contextKey = "auth_source"
)

// Auth resolves the request identity: the first-party session cookie
// when present, else the Authorization bearer header checked directly
// against the identity provider. The bearer fallback authenticates the
// single request only and never creates a session. On the cookie path
// the session and csrf cookies are re-issued to slide their lifetime.
func Auth(sessions *auth.SessionService, cookies httputil.CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionToken, _ := httputil.SessionToken(r)
			bearer := bearerToken(r)

			identity, source, err := sessions.Authenticate(r.Context(), sessionToken, bearer)
			if err != nil {
				if errors.Is(err, domain.ErrSessionExpired) {
					httputil.ClearAllCookies(w, cookies)
				}
				httputil.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if source == auth.SourceSession {
				refreshSessionCookies(w, r, sessions.SessionTTL(), cookies)
			}

			ctx := context.WithValue(r.Context(), IdentityKey, *identity)
			ctx = context.WithValue(ctx, AuthSourceKey, source)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers lacking the given role.
// Must run after Auth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !identity.HasRole(role) {
				httputil.Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentity extracts the authenticated identity from the context.
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(domain.Identity)
	return identity, ok
}

// GetUserID extracts the authenticated user id from the context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	identity, ok := GetIdentity(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return identity.UserID, true
}

// GetAuthSource extracts the authentication mechanism from the context.
func GetAuthSource(ctx context.Context) (auth.AuthSource, bool) {
	source, ok := ctx.Value(AuthSourceKey).(auth.AuthSource)
	return source, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func refreshSessionCookies(w http.ResponseWriter, r *http.Request, ttl time.Duration, cookies httputil.CookieConfig) {
	sessionToken, ok := httputil.SessionToken(r)
	if !ok {
		return
	}
	if csrfToken, ok := httputil.CSRFToken(r); ok {
		httputil.SetSessionCookies(w, sessionToken, csrfToken, ttl, cookies)
		return
	}
	httputil.SetSessionCookie(w, sessionToken, ttl, cookies)
}
