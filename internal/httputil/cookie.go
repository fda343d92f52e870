package httputil

import (
	"net/http"
	"time"
)

// Cookie names. The csrf-token cookie pairs with the X-CSRF-Token header
// for the double-submit check.
const (
	SessionCookie = "session"
	CSRFCookie    = "csrf-token"
	RefreshCookie = "refresh-token"

	CSRFHeader = "X-CSRF-Token"
)

// CookieConfig holds cookie attributes shared by the trio.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool // true in production (HTTPS)
	SameSite http.SameSite
}

// DefaultCookieConfig returns development cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cfg CookieConfig) set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// SetSessionCookies sets the session and csrf-token cookies. Both carry
// the session lifetime.
func SetSessionCookies(w http.ResponseWriter, sessionToken, csrfToken string, ttl time.Duration, cfg CookieConfig) {
	cfg.set(w, SessionCookie, sessionToken, int(ttl.Seconds()))
	cfg.set(w, CSRFCookie, csrfToken, int(ttl.Seconds()))
}

// SetSessionCookie re-issues only the session cookie.
func SetSessionCookie(w http.ResponseWriter, sessionToken string, ttl time.Duration, cfg CookieConfig) {
	cfg.set(w, SessionCookie, sessionToken, int(ttl.Seconds()))
}

// SetCSRFCookie re-issues only the csrf-token cookie.
func SetCSRFCookie(w http.ResponseWriter, csrfToken string, ttl time.Duration, cfg CookieConfig) {
	cfg.set(w, CSRFCookie, csrfToken, int(ttl.Seconds()))
}

// SetRefreshCookie sets the long-lived remember-me cookie.
func SetRefreshCookie(w http.ResponseWriter, refreshToken string, ttl time.Duration, cfg CookieConfig) {
	cfg.set(w, RefreshCookie, refreshToken, int(ttl.Seconds()))
}

// ClearRefreshCookie expires the remember-me cookie (Max-Age=0 per the
// cookie contract; net/http emits Max-Age=0 for -1).
func ClearRefreshCookie(w http.ResponseWriter, cfg CookieConfig) {
	cfg.set(w, RefreshCookie, "", -1)
}

// ClearAllCookies expires the whole trio (logout).
func ClearAllCookies(w http.ResponseWriter, cfg CookieConfig) {
	cfg.set(w, SessionCookie, "", -1)
	cfg.set(w, CSRFCookie, "", -1)
	cfg.set(w, RefreshCookie, "", -1)
}

// SessionToken extracts the session cookie value.
func SessionToken(r *http.Request) (string, bool) {
	return cookieValue(r, SessionCookie)
}

// CSRFToken extracts the csrf-token cookie value.
func CSRFToken(r *http.Request) (string, bool) {
	return cookieValue(r, CSRFCookie)
}

// RefreshToken extracts the remember-me cookie value.
func RefreshToken(r *http.Request) (string, bool) {
	return cookieValue(r, RefreshCookie)
}

func cookieValue(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
