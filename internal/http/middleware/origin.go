package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/plazadir/gatekeeper/internal/httputil"
)

// OriginPolicy is the trusted-origin allowlist. An origin passes if it
// exactly equals an allowlist entry or its host is a subdomain of a
// trusted parent domain. Matching is suffix-on-labels, never substring.
type OriginPolicy struct {
	// Origins are exact allowed origins, e.g. "https://plaza.example".
	Origins []string
	// Parents are trusted parent domains; any subdomain is accepted,
	// e.g. "plaza.example" admits "https://admin.plaza.example".
	Parents []string
}

// Allowed is a pure predicate over a declared origin value.
func (p OriginPolicy) Allowed(origin string) bool {
	for _, allowed := range p.Origins {
		if origin == allowed {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	for _, parent := range p.Parents {
		if host == parent || strings.HasSuffix(host, "."+parent) {
			return true
		}
	}
	return false
}

// requestOrigin returns the declared origin: the Origin header, or an
// origin derived from Referer when Origin is absent. Empty means the
// request declared nothing.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return referer // unparseable referer still gets checked, and fails
	}
	return u.Scheme + "://" + u.Host
}

// Origin rejects requests whose declared origin is not on the allowlist.
// Requests declaring neither Origin nor Referer pass: same-origin
// requests do not always carry these headers. The response never says
// which pattern failed.
func Origin(policy OriginPolicy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := requestOrigin(r)
			if origin == "" || policy.Allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			if logger != nil {
				logger.Warn("rejected request from untrusted origin",
					"origin", origin,
					"path", r.URL.Path,
					"ip", r.RemoteAddr,
				)
			}
			httputil.Error(w, http.StatusForbidden, "invalid origin")
		})
	}
}
