package gateway

import (
	"sync"
	"time"
)

const (
	rateWindow = time.Minute
	// table size at which idle limiters are dropped
	pruneThreshold = 1024
)

// ClientRateLimiter implements sliding window rate limiting for one client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a rate limiter with the given limits. A maxConcurrent of 0
// leaves concurrency unlimited.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		requests:          make([]time.Time, 0),
		now:               time.Now,
	}
}

// prune drops requests older than the window. Callers hold mu.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	kept := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests = kept
}

// Acquire admits a request and counts it as started, or returns the reason it was refused.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	if r.maxConcurrent > 0 && r.concurrentRequests >= r.maxConcurrent {
		return false, "too many concurrent requests"
	}
	if len(r.requests) >= r.requestsPerMinute {
		return false, "rate limit exceeded"
	}

	r.requests = append(r.requests, now)
	r.concurrentRequests++
	return true, ""
}

// Release marks an admitted request as finished.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// Stats returns the requests in the current window and the requests still running.
func (r *ClientRateLimiter) Stats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.concurrentRequests
}

func (r *ClientRateLimiter) idle() bool {
	requests, concurrent := r.Stats()
	return requests == 0 && concurrent == 0
}

// RateLimiters keeps one ClientRateLimiter per client key.
type RateLimiters struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	clients           map[string]*ClientRateLimiter
}

// NewRateLimiters creates an empty limiter table.
func NewRateLimiters(requestsPerMinute, maxConcurrent int) *RateLimiters {
	return &RateLimiters{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		clients:           make(map[string]*ClientRateLimiter),
	}
}

// For returns the limiter for key, creating it on first use.
func (l *RateLimiters) For(key string) *ClientRateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.clients[key]; ok {
		return limiter
	}
	if len(l.clients) >= pruneThreshold {
		l.pruneLocked()
	}
	limiter := NewClientRateLimiter(l.requestsPerMinute, l.maxConcurrent)
	l.clients[key] = limiter
	return limiter
}

// Prune drops limiters with no recent or running requests and returns how many were removed.
func (l *RateLimiters) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *RateLimiters) pruneLocked() int {
	removed := 0
	for key, limiter := range l.clients {
		if limiter.idle() {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *RateLimiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
