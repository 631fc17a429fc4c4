package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxConcurrent   = 16
	maxRequestBody         = 1 << 20
)

// Server is the HTTP gateway in front of the agent runner and the event streams.
type Server struct {
	addr            string
	readTimeout     time.Duration
	shutdownTimeout time.Duration

	runner   *agent.Runner
	agents   *agent.Registry
	streams  *stream.Registry
	store    session.Store
	auth     *TokenAuth
	limiters *RateLimiters
	upgrader websocket.Upgrader
	handler  http.Handler
	logger   zerolog.Logger

	server         *http.Server
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup

	// ends event subscriptions on shutdown
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// Config holds server configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	AuthToken       string
	RateLimit       int // requests per minute per client address, 0 disables
	MaxConcurrent   int // concurrent requests per client address
	Runner          *agent.Runner
	Agents          *agent.Registry
	Streams         *stream.Registry
	Store           session.Store // nil disables the conversation routes
	Logger          zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Streams == nil {
		return nil, fmt.Errorf("stream registry is required")
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("invalid rate limit: %d", cfg.RateLimit)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	s := &Server{
		addr:            cfg.Addr,
		readTimeout:     cfg.ReadTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		runner:          cfg.Runner,
		agents:          cfg.Agents,
		streams:         cfg.Streams,
		store:           cfg.Store,
		auth:            NewTokenAuth(cfg.AuthToken),
		logger:          cfg.Logger.With().Str("component", "gateway").Logger(),
		baseCtx:         baseCtx,
		cancelBase:      cancelBase,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if cfg.RateLimit > 0 {
		s.limiters = NewRateLimiters(cfg.RateLimit, cfg.MaxConcurrent)
	}
	s.handler = otelhttp.NewHandler(s.withMiddleware(s.routes()), "agentflow.gateway")

	return s, nil
}

func (s *Server) routes() *httprouter.Router {
	router := httprouter.New()

	router.POST("/v1/messages", s.handlePostMessage)
	router.POST("/v1/conversations/:id/messages", s.handlePostMessage)
	router.GET("/v1/conversations/:id/events", s.handleEvents)
	router.GET("/v1/ws/conversations/:id", s.handleWebSocket)
	router.POST("/v1/conversations/:id/kill", s.handleKill)

	router.GET("/v1/conversations", s.handleListConversations)
	router.GET("/v1/conversations/:id", s.handleGetConversation)
	router.DELETE("/v1/conversations/:id", s.handleDeleteConversation)

	router.GET("/v1/agents", s.handleListAgents)
	router.POST("/v1/agents/:name/model", s.handleSetModel)

	router.GET("/healthz", s.handleHealth)
	router.Handler(http.MethodGet, "/metrics", observability.MetricsHandler())

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.logger.Error().Str("path", r.URL.Path).Interface("panic", v).Msg("Handler panicked")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return router
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the configured address and serves until ctx ends or the listener fails.
// Cancelling ctx shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.readTimeout,
		ReadTimeout:       s.readTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.shutdownMu.Lock()
	s.server = srv
	s.shutdownMu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway server error: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop rejects new requests, ends event subscriptions, waits for in-flight requests
// and closes the listener.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}
