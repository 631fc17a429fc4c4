package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiter(10, 5)

		for i := 0; i < 5; i++ {
			allowed, reason := limiter.Acquire()
			assert.True(t, allowed)
			assert.Empty(t, reason)
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(100, 3)

		for i := 0; i < 3; i++ {
			limiter.Acquire()
		}

		allowed, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, "too many concurrent requests", reason)

		limiter.Release()
		allowed, _ = limiter.Acquire()
		assert.True(t, allowed)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(5, 10)

		for i := 0; i < 5; i++ {
			limiter.Acquire()
			limiter.Release()
		}

		allowed, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, "rate limit exceeded", reason)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		now := time.Now()
		limiter := NewClientRateLimiter(2, 10)
		limiter.now = func() time.Time { return now }

		limiter.Acquire()
		limiter.Release()
		limiter.Acquire()
		limiter.Release()

		allowed, _ := limiter.Acquire()
		assert.False(t, allowed)

		now = now.Add(time.Minute + time.Second)
		allowed, _ = limiter.Acquire()
		assert.True(t, allowed)
	})

	t.Run("should not count rejected requests", func(t *testing.T) {
		limiter := NewClientRateLimiter(1, 10)
		limiter.Acquire()
		limiter.Release()
		limiter.Acquire()

		requests, concurrent := limiter.Stats()
		assert.Equal(t, 1, requests)
		assert.Equal(t, 0, concurrent)
	})
}

func TestRateLimiters(t *testing.T) {
	t.Run("should keep one limiter per client", func(t *testing.T) {
		limiters := NewRateLimiters(1, 0)

		allowed, _ := limiters.For("10.0.0.1").Acquire()
		assert.True(t, allowed)
		allowed, _ = limiters.For("10.0.0.1").Acquire()
		assert.False(t, allowed)
		allowed, _ = limiters.For("10.0.0.2").Acquire()
		assert.True(t, allowed)
		assert.Equal(t, 2, limiters.Len())
	})

	t.Run("should prune idle clients", func(t *testing.T) {
		limiters := NewRateLimiters(10, 0)
		now := time.Now()
		idle := limiters.For("idle")
		idle.now = func() time.Time { return now }
		idle.Acquire()
		idle.Release()

		busy := limiters.For("busy")
		busy.Acquire()

		now = now.Add(2 * time.Minute)
		assert.Equal(t, 1, limiters.Prune())
		assert.Equal(t, 1, limiters.Len())
	})
}
