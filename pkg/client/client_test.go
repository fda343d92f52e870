package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	gatehttp "github.com/plazadir/gatekeeper/internal/http"
	"github.com/plazadir/gatekeeper/internal/http/middleware"
	"github.com/plazadir/gatekeeper/internal/httputil"
	"github.com/plazadir/gatekeeper/internal/inmem"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

type stubProvider struct {
	identity    domain.Identity
	validToken  string
	refreshPair *domain.TokenPair
}

func (p *stubProvider) VerifyAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error) {
	if accessToken != p.validToken {
		return nil, domain.ErrInvalidToken
	}
	identity := p.identity
	return &identity, nil
}

func (p *stubProvider) Refresh(ctx context.Context, refreshToken string) (*domain.Identity, *domain.TokenPair, error) {
	identity := p.identity
	return &identity, p.refreshPair, nil
}

// newTestServer stands up the full gatekeeper router on an httptest
// server so the client is exercised over real HTTP with a real cookie
// jar.
func newTestServer(t *testing.T) (*httptest.Server, *inmem.SessionStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	provider := &stubProvider{
		identity: domain.Identity{
			UserID: uuid.New(),
			Email:  "reviewer@plaza.example",
			Roles:  []string{"member"},
		},
		validToken:  "valid-access-token",
		refreshPair: &domain.TokenPair{AccessToken: "rotated-access", RefreshToken: "rotated-refresh"},
	}
	store := inmem.NewSessionStore()
	sessions := auth.NewSessionService(auth.SessionConfig{}, store, provider, logger)
	limiter := auth.NewRateLimiter(inmem.NewRateLimitStore(), logger)

	router := gatehttp.NewRouter(gatehttp.RouterConfig{
		Logger:   logger,
		Sessions: sessions,
		Limiter:  limiter,
		Origin:   middleware.OriginPolicy{Origins: []string{"https://plaza.example"}},
		Cookies:  httputil.DefaultCookieConfig(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, store
}

func TestClient_ExchangeAndLogout(t *testing.T) {
	server, store := newTestServer(t)
	c, err := New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	identity, err := c.Exchange(ctx, domain.TokenPair{AccessToken: "valid-access-token"}, false)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if identity.Email != "reviewer@plaza.example" {
		t.Errorf("identity email = %q", identity.Email)
	}
	if !c.SignedIn() {
		t.Error("SignedIn() = false after exchange")
	}
	if c.CSRFToken() == "" {
		t.Error("CSRFToken() empty after exchange")
	}
	if store.Len() != 1 {
		t.Errorf("server has %d sessions, want 1", store.Len())
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if c.SignedIn() {
		t.Error("SignedIn() = true after logout")
	}
	if store.Len() != 0 {
		t.Errorf("server has %d sessions after logout, want 0", store.Len())
	}
}

func TestClient_ExchangeInvalidToken(t *testing.T) {
	server, _ := newTestServer(t)
	c, err := New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Exchange(context.Background(), domain.TokenPair{AccessToken: "forged"}, false)
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Exchange() error = %v, want ErrUnauthenticated", err)
	}
	if c.SignedIn() {
		t.Error("SignedIn() = true after failed exchange")
	}
}

func TestClient_ExchangeInFlightGuard(t *testing.T) {
	server, _ := newTestServer(t)
	c, err := New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Exchange(context.Background(), domain.TokenPair{AccessToken: "valid-access-token"}, false)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrExchangeInFlight):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded < 1 {
		t.Error("no exchange succeeded")
	}
	if succeeded+rejected != callers {
		t.Errorf("succeeded %d + rejected %d != %d callers", succeeded, rejected, callers)
	}
}

func TestClient_RestoreAfterSessionLoss(t *testing.T) {
	server, _ := newTestServer(t)
	c, err := New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if _, err := c.Exchange(ctx, domain.TokenPair{
		AccessToken:  "valid-access-token",
		RefreshToken: "provider-refresh",
	}, true); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	identity, pair, err := c.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if identity.Email != "reviewer@plaza.example" {
		t.Errorf("restored identity email = %q", identity.Email)
	}
	if pair.AccessToken != "rotated-access" || pair.RefreshToken != "rotated-refresh" {
		t.Errorf("restored pair = %+v, want rotated provider pair", pair)
	}
}

func TestClient_RestoreWithoutRememberMe(t *testing.T) {
	server, _ := newTestServer(t)
	c, err := New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if _, err := c.Exchange(ctx, domain.TokenPair{AccessToken: "valid-access-token"}, false); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	// Drop all cookies, as a browser restart without remember-me would.
	fresh, err := New(server.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, _, err := fresh.Restore(ctx); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Restore() error = %v, want ErrUnauthenticated", err)
	}
}

func TestClient_DoAttachesCSRFHeader(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-CSRF-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	c, err := New(upstream.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.mu.Lock()
	c.csrfToken = "tok-123"
	c.mu.Unlock()

	post, _ := http.NewRequest(http.MethodPost, upstream.URL+"/widgets", nil)
	if _, err := c.Do(post); err != nil {
		t.Fatalf("Do(POST) error = %v", err)
	}
	if gotHeader != "tok-123" {
		t.Errorf("POST csrf header = %q, want tok-123", gotHeader)
	}

	get, _ := http.NewRequest(http.MethodGet, upstream.URL+"/widgets", nil)
	if _, err := c.Do(get); err != nil {
		t.Fatalf("Do(GET) error = %v", err)
	}
	if gotHeader != "" {
		t.Errorf("GET csrf header = %q, want empty", gotHeader)
	}
}
