package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenAuth(t *testing.T) {
	t.Run("should admit everything without a token", func(t *testing.T) {
		auth := NewTokenAuth("")
		assert.False(t, auth.Enabled())
		assert.True(t, auth.Authorize(httptest.NewRequest(http.MethodGet, "/v1/agents", nil)))
	})

	t.Run("should verify bearer tokens", func(t *testing.T) {
		auth := NewTokenAuth("secret")

		req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
		assert.False(t, auth.Authorize(req))

		req.Header.Set("Authorization", "Bearer secret")
		assert.True(t, auth.Authorize(req))

		req.Header.Set("Authorization", "bearer secret")
		assert.True(t, auth.Authorize(req))

		req.Header.Set("Authorization", "Bearer wrong")
		assert.False(t, auth.Authorize(req))

		req.Header.Set("Authorization", "Basic secret")
		assert.False(t, auth.Authorize(req))
	})

	t.Run("should accept the query token when no header is sent", func(t *testing.T) {
		auth := NewTokenAuth("secret")
		assert.True(t, auth.Authorize(httptest.NewRequest(http.MethodGet, "/v1/ws/conversations/c1?token=secret", nil)))
		assert.False(t, auth.Authorize(httptest.NewRequest(http.MethodGet, "/v1/ws/conversations/c1?token=nope", nil)))
	})
}
