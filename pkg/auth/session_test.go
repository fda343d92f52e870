package auth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/plazadir/gatekeeper/internal/inmem"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

type stubProvider struct {
	identity    domain.Identity
	validToken  string
	refreshPair *domain.TokenPair
	refreshErr  error
}

func (p *stubProvider) VerifyAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error) {
	if accessToken != p.validToken {
		return nil, domain.ErrInvalidToken
	}
	identity := p.identity
	return &identity, nil
}

func (p *stubProvider) Refresh(ctx context.Context, refreshToken string) (*domain.Identity, *domain.TokenPair, error) {
	if p.refreshErr != nil {
		return nil, nil, p.refreshErr
	}
	identity := p.identity
	return &identity, p.refreshPair, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, cfg SessionConfig) (*SessionService, *inmem.SessionStore, *stubProvider) {
	t.Helper()
	store := inmem.NewSessionStore()
	provider := &stubProvider{
		identity: domain.Identity{
			UserID: uuid.New(),
			Email:  "reviewer@plaza.example",
			Roles:  []string{"member"},
		},
		validToken:  "valid-access-token",
		refreshPair: &domain.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"},
	}
	return NewSessionService(cfg, store, provider, testLogger()), store, provider
}

func TestExchange_MintsSession(t *testing.T) {
	svc, store, provider := newTestService(t, SessionConfig{})
	ctx := context.Background()

	identity, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if identity.UserID != provider.identity.UserID {
		t.Errorf("Exchange() user = %v, want %v", identity.UserID, provider.identity.UserID)
	}
	if issued.Token == "" || issued.CSRFToken == "" {
		t.Error("Exchange() issued empty tokens")
	}
	if issued.RefreshToken != "" {
		t.Errorf("Exchange() without remember-me issued refresh token %q", issued.RefreshToken)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d sessions, want 1", store.Len())
	}

	session, err := svc.Validate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if session.UserID != provider.identity.UserID {
		t.Errorf("Validate() user = %v, want %v", session.UserID, provider.identity.UserID)
	}
	if session.Identity.Email != "reviewer@plaza.example" {
		t.Errorf("Validate() identity email = %q", session.Identity.Email)
	}
}

func TestExchange_InvalidToken(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{})

	_, _, err := svc.Exchange(context.Background(), "forged", "", false, domain.RequestMeta{})
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("Exchange() error = %v, want ErrInvalidToken", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d sessions after failed exchange, want 0", store.Len())
	}
}

func TestExchange_RememberMe(t *testing.T) {
	svc, _, _ := newTestService(t, SessionConfig{})

	_, issued, err := svc.Exchange(context.Background(), "valid-access-token", "provider-refresh", true, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if issued.RefreshToken != "provider-refresh" {
		t.Errorf("Exchange() refresh token = %q, want %q", issued.RefreshToken, "provider-refresh")
	}
	if issued.RefreshExpiresAt.IsZero() {
		t.Error("Exchange() remember-me issued zero refresh expiry")
	}
}

func TestExchange_ConcurrentSignInsCreateDistinctSessions(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{})
	ctx := context.Background()

	_, first, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	_, second, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if first.Token == second.Token {
		t.Error("two exchanges issued the same session token")
	}
	if store.Len() != 2 {
		t.Errorf("store has %d sessions, want 2", store.Len())
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t, SessionConfig{})

	_, err := svc.Validate(context.Background(), "never-issued")
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Validate() error = %v, want ErrUnauthenticated", err)
	}
}

func TestValidate_ExpiredSessionDeleted(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{SessionTTL: time.Millisecond})
	ctx := context.Background()

	_, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Validate(ctx, issued.Token)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("Validate() error = %v, want ErrSessionExpired", err)
	}
	if store.Len() != 0 {
		t.Errorf("expired session not deleted on discovery, store has %d rows", store.Len())
	}

	// A second validation of the same token now fails as unauthenticated.
	_, err = svc.Validate(ctx, issued.Token)
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Validate() after deletion error = %v, want ErrUnauthenticated", err)
	}
}

func TestValidate_SlidesActivityAndExpiry(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{})
	ctx := context.Background()

	_, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	before, err := store.GetByTokenHash(ctx, HashToken(issued.Token))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := svc.Validate(ctx, issued.Token); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	after, err := store.GetByTokenHash(ctx, HashToken(issued.Token))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Error("Validate() did not refresh last activity")
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Error("Validate() did not slide expiry forward")
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	svc, _, _ := newTestService(t, SessionConfig{})
	ctx := context.Background()

	_, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if err := svc.Logout(ctx, issued.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Validate(ctx, issued.Token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Validate() after logout error = %v, want ErrUnauthenticated", err)
	}

	// Logout is idempotent.
	if err := svc.Logout(ctx, issued.Token); err != nil {
		t.Errorf("repeat Logout() error = %v", err)
	}
}

func TestLogoutAll_DeletesEverySession(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{})
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		_, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
		if err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
		tokens = append(tokens, issued.Token)
	}

	if err := svc.LogoutAll(ctx, mustUserID(t, svc, tokens[0])); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d sessions after LogoutAll, want 0", store.Len())
	}
	for _, token := range tokens {
		if _, err := svc.Validate(ctx, token); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Errorf("Validate(%q) error = %v, want ErrUnauthenticated", token, err)
		}
	}
}

func mustUserID(t *testing.T, svc *SessionService, token string) uuid.UUID {
	t.Helper()
	session, err := svc.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return session.UserID
}

func TestAuthenticate_PrefersSessionCookie(t *testing.T) {
	svc, _, provider := newTestService(t, SessionConfig{})
	ctx := context.Background()

	_, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	identity, source, err := svc.Authenticate(ctx, issued.Token, "valid-access-token")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if source != SourceSession {
		t.Errorf("Authenticate() source = %v, want SourceSession", source)
	}
	if identity.UserID != provider.identity.UserID {
		t.Errorf("Authenticate() user = %v, want %v", identity.UserID, provider.identity.UserID)
	}
}

func TestAuthenticate_BearerFallback(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{})
	ctx := context.Background()

	identity, source, err := svc.Authenticate(ctx, "", "valid-access-token")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if source != SourceBearer {
		t.Errorf("Authenticate() source = %v, want SourceBearer", source)
	}
	if identity == nil {
		t.Fatal("Authenticate() returned nil identity")
	}
	// The fallback authenticates the single request only.
	if store.Len() != 0 {
		t.Errorf("bearer fallback created %d sessions, want 0", store.Len())
	}
}

func TestAuthenticate_InvalidEverything(t *testing.T) {
	svc, _, _ := newTestService(t, SessionConfig{})

	tests := []struct {
		name         string
		sessionToken string
		bearerToken  string
	}{
		{name: "nothing supplied"},
		{name: "bad cookie only", sessionToken: "bogus"},
		{name: "bad bearer only", bearerToken: "bogus"},
		{name: "bad cookie and bad bearer", sessionToken: "bogus", bearerToken: "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Authenticate(context.Background(), tt.sessionToken, tt.bearerToken)
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Errorf("Authenticate() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestRotateCSRF(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{})
	ctx := context.Background()

	_, issued, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	rotated, err := svc.RotateCSRF(ctx, issued.Token)
	if err != nil {
		t.Fatalf("RotateCSRF() error = %v", err)
	}
	if rotated == issued.CSRFToken {
		t.Error("RotateCSRF() returned the previous token")
	}

	session, err := store.GetByTokenHash(ctx, HashToken(issued.Token))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	if session.CSRFToken != rotated {
		t.Errorf("stored csrf token = %q, want %q", session.CSRFToken, rotated)
	}
}

func TestRestore_RotatesSessionAndRefreshToken(t *testing.T) {
	svc, store, provider := newTestService(t, SessionConfig{})
	ctx := context.Background()

	_, issued, err := svc.Exchange(ctx, "valid-access-token", "original-refresh", true, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	identity, pair, restored, err := svc.Restore(ctx, issued.RefreshToken, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if identity.UserID != provider.identity.UserID {
		t.Errorf("Restore() user = %v, want %v", identity.UserID, provider.identity.UserID)
	}
	if pair.AccessToken != "new-access" || pair.RefreshToken != "new-refresh" {
		t.Errorf("Restore() pair = %+v, want new provider pair", pair)
	}
	if restored.Token == issued.Token {
		t.Error("Restore() reused the old session token")
	}
	if restored.RefreshToken != "new-refresh" {
		t.Errorf("Restore() refresh token = %q, want rotated value", restored.RefreshToken)
	}

	// Old session row is gone; old refresh token no longer restores.
	if store.Len() != 1 {
		t.Errorf("store has %d sessions after restore, want 1", store.Len())
	}
	if _, _, _, err := svc.Restore(ctx, issued.RefreshToken, domain.RequestMeta{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Restore() with rotated-out token error = %v, want ErrUnauthenticated", err)
	}
}

func TestRestore_MissingOrUnknownCookie(t *testing.T) {
	svc, _, _ := newTestService(t, SessionConfig{})

	if _, _, _, err := svc.Restore(context.Background(), "", domain.RequestMeta{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Restore(\"\") error = %v, want ErrUnauthenticated", err)
	}
	if _, _, _, err := svc.Restore(context.Background(), "unknown", domain.RequestMeta{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Restore(unknown) error = %v, want ErrUnauthenticated", err)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, store, _ := newTestService(t, SessionConfig{SessionTTL: time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Exchange(ctx, "valid-access-token", "", false, domain.RequestMeta{}); err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
	}

	time.Sleep(5 * time.Millisecond)

	deleted, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("SweepExpired() deleted = %d, want 3", deleted)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d sessions after sweep, want 0", store.Len())
	}
}
