// Package session implements the session lifecycle endpoints: CSRF token
// issuance, bearer-token-for-cookie exchange, remember-me restore, and
// logout.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/plazadir/gatekeeper/internal/httputil"
	"github.com/plazadir/gatekeeper/internal/http/middleware"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

// Handler handles session endpoints.
type Handler struct {
	logger       *slog.Logger
	sessions     *auth.SessionService
	limiter      *auth.RateLimiter
	exchangeCfg  domain.RateLimitConfig
	cookieConfig httputil.CookieConfig
}

func NewHandler(logger *slog.Logger, sessions *auth.SessionService, limiter *auth.RateLimiter, exchangeCfg domain.RateLimitConfig, cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		logger:       logger,
		sessions:     sessions,
		limiter:      limiter,
		exchangeCfg:  exchangeCfg,
		cookieConfig: cookieConfig,
	}
}

// ExchangeRequest is the token-for-cookie exchange input.
type ExchangeRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RememberMe   bool   `json:"remember_me,omitempty"`
}

// ExchangeResponse returns the identity plus the CSRF token the client
// must echo in the X-CSRF-Token header on state-changing requests.
type ExchangeResponse struct {
	User      domain.Identity `json:"user"`
	CSRFToken string          `json:"csrf_token"`
}

// RestoreResponse returns a fresh provider bearer pair minted from the
// remember-me cookie.
type RestoreResponse struct {
	User         domain.Identity `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

// CSRFToken issues a fresh CSRF token for the current session.
// GET|POST /v1/csrf
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionToken, ok := httputil.SessionToken(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	csrfToken, err := h.sessions.RotateCSRF(r.Context(), sessionToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) || errors.Is(err, domain.ErrSessionExpired) {
			httputil.ClearAllCookies(w, h.cookieConfig)
			httputil.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		h.logger.Error("csrf rotation failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	httputil.SetCSRFCookie(w, csrfToken, h.sessions.SessionTTL(), h.cookieConfig)
	httputil.JSON(w, http.StatusOK, map[string]string{"csrf_token": csrfToken})
}

// Exchange mints a first-party session from a provider bearer token.
// POST /v1/session/exchange
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" {
		httputil.Error(w, http.StatusBadRequest, "access_token is required")
		return
	}

	meta := domain.RequestMeta{IP: middleware.KeyByIP(r), UserAgent: r.UserAgent()}
	identity, issued, err := h.sessions.Exchange(r.Context(), req.AccessToken, req.RefreshToken, req.RememberMe, meta)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			// A forged or expired bearer token is a security-sensitive
			// failure; enough of them blocks the caller.
			_ = h.limiter.RecordFailure(r.Context(), auth.Key("exchange", meta.IP), h.exchangeCfg)
			httputil.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}
		h.logger.Error("exchange failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	_ = h.limiter.ClearFailures(r.Context(), auth.Key("exchange", meta.IP))

	h.setCookies(w, issued, req.RememberMe)
	httputil.JSON(w, http.StatusOK, ExchangeResponse{User: *identity, CSRFToken: issued.CSRFToken})
}

// Restore re-mints a provider session from the remember-me cookie.
// GET|POST /v1/session/restore
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := httputil.RefreshToken(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	meta := domain.RequestMeta{IP: middleware.KeyByIP(r), UserAgent: r.UserAgent()}
	identity, pair, issued, err := h.sessions.Restore(r.Context(), refreshToken, meta)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) || errors.Is(err, domain.ErrSessionExpired) {
			httputil.ClearAllCookies(w, h.cookieConfig)
			httputil.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		h.logger.Error("session restore failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.setCookies(w, issued, true)
	httputil.JSON(w, http.StatusOK, RestoreResponse{
		User:         *identity,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Logout deletes the session row and clears all cookies. Always 200,
// even when no session existed.
// POST /v1/session/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionToken, ok := httputil.SessionToken(r); ok {
		if err := h.sessions.Logout(r.Context(), sessionToken); err != nil {
			h.logger.Warn("logout delete failed", "error", err)
		}
	}
	httputil.ClearAllCookies(w, h.cookieConfig)
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// LogoutAll deletes every session for the authenticated user.
// POST /v1/session/logout-all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.sessions.LogoutAll(r.Context(), userID); err != nil {
		h.logger.Error("logout all failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httputil.ClearAllCookies(w, h.cookieConfig)
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "signed out everywhere"})
}

// SessionInfo is one row of the session listing.
type SessionInfo struct {
	ID             string    `json:"id"`
	UserAgent      string    `json:"user_agent,omitempty"`
	IP             string    `json:"ip,omitempty"`
	RememberMe     bool      `json:"remember_me"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// List returns the authenticated user's active sessions.
// GET /v1/session/list
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessions, err := h.sessions.Sessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("session listing failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			ID:             s.ID.String(),
			UserAgent:      s.UserAgent,
			IP:             s.IP,
			RememberMe:     s.RememberMe,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
		})
	}
	httputil.JSON(w, http.StatusOK, map[string][]SessionInfo{"sessions": infos})
}

// setCookies writes the cookie trio for a fresh session. Without
// remember-me the refresh cookie is actively cleared.
func (h *Handler) setCookies(w http.ResponseWriter, issued *auth.IssuedSession, rememberMe bool) {
	httputil.SetSessionCookies(w, issued.Token, issued.CSRFToken, h.sessions.SessionTTL(), h.cookieConfig)
	if rememberMe && issued.RefreshToken != "" {
		httputil.SetRefreshCookie(w, issued.RefreshToken, h.sessions.RefreshTTL(), h.cookieConfig)
	} else {
		httputil.ClearRefreshCookie(w, h.cookieConfig)
	}
}
