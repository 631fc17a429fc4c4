package gateway

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/harun/agentflow/internal/tracing"
)

// statusWriter records the response status. It passes Flush and Hijack through so
// SSE and WebSocket handlers keep working behind it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withMiddleware wraps next with request tracing, shutdown gating, authentication,
// rate limiting and access logging.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := tracing.NewRequestContext(r.Context())
		r = r.WithContext(ctx)
		w.Header().Set("X-Trace-ID", tracing.GetTraceID(ctx))

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		api := strings.HasPrefix(r.URL.Path, "/v1/")
		if api && !s.auth.Authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if api && s.limiters != nil {
			limiter := s.limiters.For(clientKey(r))
			if ok, reason := limiter.Acquire(); !ok {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, reason)
				return
			}
			defer limiter.Release()
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		event := logger.Debug()
		if sw.status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
