package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth checks a shared bearer token.
type TokenAuth struct {
	token string
}

// NewTokenAuth creates a token checker. An empty token admits every request.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// Enabled reports whether a token is configured.
func (a *TokenAuth) Enabled() bool {
	return a.token != ""
}

// Verify compares presented with the configured token in constant time.
func (a *TokenAuth) Verify(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.token), []byte(presented)) == 1
}

// Authorize checks the Authorization header, falling back to the token query
// parameter for EventSource and WebSocket clients that cannot set headers.
func (a *TokenAuth) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	presented := ""
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return false
		}
		presented = strings.TrimSpace(value)
	} else {
		presented = r.URL.Query().Get("token")
	}
	if presented == "" {
		return false
	}
	return a.Verify(presented)
}
