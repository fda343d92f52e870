// Package client is the calling-application side of the gatekeeper: it
// performs the token-for-cookie exchange, echoes the CSRF token on
// state-changing requests, and runs the inactivity monitor that signs
// the user out after an idle period.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// ErrExchangeInFlight is returned when an exchange is already running.
// Duplicate exchanges are wasteful, not unsafe; the guard is hygiene
// against token-refresh storms firing several at once.
var ErrExchangeInFlight = errors.New("session exchange already in progress")

// ErrNotSignedIn is returned by calls that require an established session.
var ErrNotSignedIn = errors.New("not signed in")

// Client holds the session cookies and identity state for one
// application instance (one browser tab's worth of state).
type Client struct {
	baseURL string
	http    *http.Client

	mu         sync.Mutex
	exchanging bool
	csrfToken  string
	identity   *domain.Identity
}

// New creates a client with its own cookie jar.
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar},
	}, nil
}

// NewWithHTTPClient creates a client reusing an existing HTTP client.
// The client must carry a cookie jar.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

type exchangeRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RememberMe   bool   `json:"remember_me,omitempty"`
}

type exchangeResponse struct {
	User      domain.Identity `json:"user"`
	CSRFToken string          `json:"csrf_token"`
}

// Exchange trades a provider bearer pair for first-party session
// cookies. At most one exchange runs at a time; concurrent calls for the
// same login event get ErrExchangeInFlight instead of minting redundant
// sessions.
func (c *Client) Exchange(ctx context.Context, pair domain.TokenPair, rememberMe bool) (*domain.Identity, error) {
	c.mu.Lock()
	if c.exchanging {
		c.mu.Unlock()
		return nil, ErrExchangeInFlight
	}
	c.exchanging = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.exchanging = false
		c.mu.Unlock()
	}()

	body := exchangeRequest{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		RememberMe:   rememberMe,
	}
	var resp exchangeResponse
	if err := c.postJSON(ctx, "/v1/session/exchange", body, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.csrfToken = resp.CSRFToken
	identity := resp.User
	c.identity = &identity
	c.mu.Unlock()

	return &identity, nil
}

type restoreResponse struct {
	User         domain.Identity `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

// Restore re-establishes a session from the remember-me cookie, e.g.
// after a browser restart dropped the session cookie. It returns the
// fresh provider bearer pair for the application to use.
func (c *Client) Restore(ctx context.Context) (*domain.Identity, *domain.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/session/restore", nil)
	if err != nil {
		return nil, nil, err
	}

	var resp restoreResponse
	if err := c.do(req, &resp); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	identity := resp.User
	c.identity = &identity
	c.mu.Unlock()

	pair := &domain.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	return &identity, pair, nil
}

// Logout tears the session down and clears local identity state.
func (c *Client) Logout(ctx context.Context) error {
	err := c.postJSON(ctx, "/v1/session/logout", struct{}{}, nil)

	c.mu.Lock()
	c.identity = nil
	c.csrfToken = ""
	c.mu.Unlock()

	return err
}

// SignedIn reports whether an identity is currently established.
func (c *Client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != nil
}

// Identity returns the current identity, if any.
func (c *Client) Identity() (*domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil, false
	}
	identity := *c.identity
	return &identity, true
}

// CSRFToken returns the token to echo in the X-CSRF-Token header.
func (c *Client) CSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken
}

// Do performs an application request through the session, attaching the
// CSRF header on state-changing methods.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		if token := c.CSRFToken(); token != "" {
			req.Header.Set("X-CSRF-Token", token)
		}
	}
	return c.http.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.CSRFToken(); token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthenticated
	default:
		return fmt.Errorf("%s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
