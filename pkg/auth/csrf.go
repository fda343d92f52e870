package auth

import "crypto/subtle"

// NewCSRFToken generates a fresh double-submit token. A new value is
// issued every time a session is established or re-established; there is
// no long-lived CSRF secret.
func NewCSRFToken() (string, error) {
	return GenerateToken(csrfTokenLen)
}

// CSRFTokensMatch compares the cookie-held and header-held tokens in
// constant time. Both must be present and equal.
func CSRFTokensMatch(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) == 1
}
