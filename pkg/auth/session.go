package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

const (
	// DefaultSessionTTL is the sliding expiry of the session cookie.
	DefaultSessionTTL = 30 * time.Minute
	// DefaultRefreshTTL is the fixed validity of the remember-me credential.
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// AuthSource tells which mechanism authenticated a request.
type AuthSource int

const (
	SourceNone AuthSource = iota
	// SourceSession means the first-party session cookie was used.
	SourceSession
	// SourceBearer means a raw provider bearer token was used. This path
	// authenticates the single request only and never creates a session.
	SourceBearer
)

// SessionConfig holds session service configuration.
type SessionConfig struct {
	SessionTTL time.Duration
	RefreshTTL time.Duration
}

// SessionService owns the first-party session lifecycle: minting a
// session in exchange for a provider bearer token, validating the
// session cookie on every request, and tearing sessions down.
type SessionService struct {
	config   SessionConfig
	store    domain.SessionStore
	provider IdentityProvider
	logger   *slog.Logger
}

func NewSessionService(config SessionConfig, store domain.SessionStore, provider IdentityProvider, logger *slog.Logger) *SessionService {
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.RefreshTTL == 0 {
		config.RefreshTTL = DefaultRefreshTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{config: config, store: store, provider: provider, logger: logger}
}

// SessionTTL returns the sliding session cookie lifetime.
func (s *SessionService) SessionTTL() time.Duration {
	return s.config.SessionTTL
}

// RefreshTTL returns the remember-me credential lifetime.
func (s *SessionService) RefreshTTL() time.Duration {
	return s.config.RefreshTTL
}

// IssuedSession carries the plaintext cookie values for a freshly minted
// session. The store only ever sees their hashes.
type IssuedSession struct {
	Token            string
	CSRFToken        string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// Exchange verifies a provider-issued access token and mints a new
// session plus CSRF token for it. Each call creates a distinct session
// row; concurrent sign-ins from the same user are independent sessions.
func (s *SessionService) Exchange(ctx context.Context, accessToken, refreshToken string, rememberMe bool, meta domain.RequestMeta) (*domain.Identity, *IssuedSession, error) {
	identity, err := s.provider.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	issued, err := s.createSession(ctx, *identity, refreshToken, rememberMe, meta)
	if err != nil {
		return nil, nil, err
	}
	return identity, issued, nil
}

func (s *SessionService) createSession(ctx context.Context, identity domain.Identity, refreshToken string, rememberMe bool, meta domain.RequestMeta) (*IssuedSession, error) {
	token, err := GenerateToken(sessionTokenLen)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	csrfToken, err := NewCSRFToken()
	if err != nil {
		return nil, fmt.Errorf("generate csrf token: %w", err)
	}

	now := time.Now()
	session := &domain.Session{
		ID:             uuid.New(),
		UserID:         identity.UserID,
		TokenHash:      HashToken(token),
		CSRFToken:      csrfToken,
		RememberMe:     rememberMe,
		UserAgent:      meta.UserAgent,
		IP:             meta.IP,
		Identity:       identity,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.config.SessionTTL),
		LastActivityAt: now,
	}

	issued := &IssuedSession{
		Token:     token,
		CSRFToken: csrfToken,
		ExpiresAt: session.ExpiresAt,
	}

	if rememberMe && refreshToken != "" {
		refreshExpiry := now.Add(s.config.RefreshTTL)
		session.RefreshTokenHash = HashToken(refreshToken)
		session.RefreshExpiresAt = &refreshExpiry
		issued.RefreshToken = refreshToken
		issued.RefreshExpiresAt = refreshExpiry
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return issued, nil
}

// Validate looks up a session by its cookie token. Expired rows are
// deleted on discovery; live ones get their activity and expiry slid
// forward. Store faults fail closed: availability never overrides
// identity correctness.
func (s *SessionService) Validate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	session, err := s.store.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		s.logger.Error("session lookup failed", "error", err)
		return nil, domain.ErrUnauthenticated
	}

	now := time.Now()
	if session.Expired(now) {
		if err := s.store.Delete(ctx, session.ID); err != nil {
			s.logger.Warn("delete expired session", "error", err)
		}
		return nil, domain.ErrSessionExpired
	}

	session.LastActivityAt = now
	session.ExpiresAt = now.Add(s.config.SessionTTL)
	if err := s.store.Touch(ctx, session.ID, session.LastActivityAt, session.ExpiresAt); err != nil {
		// Advisory only; the lookup already proved the session.
		s.logger.Warn("touch session", "error", err)
	}
	return session, nil
}

// Authenticate resolves a request's identity: the first-party session
// cookie when present and valid, otherwise a raw bearer token checked
// directly against the provider. The bearer path authenticates the one
// request and does not mint a session.
func (s *SessionService) Authenticate(ctx context.Context, sessionToken, bearerToken string) (*domain.Identity, AuthSource, error) {
	if sessionToken != "" {
		session, err := s.Validate(ctx, sessionToken)
		if err == nil {
			identity := session.Identity
			return &identity, SourceSession, nil
		}
		if bearerToken == "" {
			return nil, SourceNone, err
		}
	}

	if bearerToken != "" {
		identity, err := s.provider.VerifyAccessToken(ctx, bearerToken)
		if err != nil {
			return nil, SourceNone, domain.ErrUnauthenticated
		}
		return identity, SourceBearer, nil
	}

	return nil, SourceNone, domain.ErrUnauthenticated
}

// RotateCSRF issues a fresh CSRF token for an existing session and
// records it on the row.
func (s *SessionService) RotateCSRF(ctx context.Context, sessionToken string) (string, error) {
	session, err := s.Validate(ctx, sessionToken)
	if err != nil {
		return "", err
	}
	csrfToken, err := NewCSRFToken()
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	if err := s.store.UpdateCSRFToken(ctx, session.ID, csrfToken); err != nil {
		return "", fmt.Errorf("rotate csrf token: %w", err)
	}
	return csrfToken, nil
}

// Restore re-mints a provider bearer pair and a fresh session from the
// long-lived remember-me cookie. The old session row is deleted and both
// the refresh credential and CSRF token are rotated.
func (s *SessionService) Restore(ctx context.Context, refreshCookie string, meta domain.RequestMeta) (*domain.Identity, *domain.TokenPair, *IssuedSession, error) {
	if refreshCookie == "" {
		return nil, nil, nil, domain.ErrUnauthenticated
	}

	session, err := s.store.GetByRefreshTokenHash(ctx, HashToken(refreshCookie))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, nil, domain.ErrUnauthenticated
		}
		s.logger.Error("refresh lookup failed", "error", err)
		return nil, nil, nil, domain.ErrUnauthenticated
	}

	now := time.Now()
	if session.RefreshExpired(now) {
		if err := s.store.Delete(ctx, session.ID); err != nil {
			s.logger.Warn("delete expired refresh session", "error", err)
		}
		return nil, nil, nil, domain.ErrSessionExpired
	}

	identity, pair, err := s.provider.Refresh(ctx, refreshCookie)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return nil, nil, nil, domain.ErrUnauthenticated
		}
		return nil, nil, nil, fmt.Errorf("provider refresh: %w", err)
	}

	if err := s.store.Delete(ctx, session.ID); err != nil {
		s.logger.Warn("delete rotated session", "error", err)
	}

	issued, err := s.createSession(ctx, *identity, pair.RefreshToken, true, meta)
	if err != nil {
		return nil, nil, nil, err
	}
	return identity, pair, issued, nil
}

// Logout deletes the session for a cookie token. Deleting a session that
// does not exist is not an error; logout is idempotent.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteByTokenHash(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LogoutAll deletes every session for a user ("sign out everywhere").
func (s *SessionService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.DeleteAllByUserID(ctx, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// Sessions lists a user's active sessions.
func (s *SessionService) Sessions(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	return s.store.GetByUserID(ctx, userID)
}

// SweepExpired deletes rows past both their session and refresh expiry.
// Expired rows are also removed lazily on discovery; this is the
// periodic backstop.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now())
}
