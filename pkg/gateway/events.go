package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/julienschmidt/httprouter"
)

const wsWriteTimeout = 10 * time.Second

// ClientCommand is a control frame sent by a WebSocket subscriber.
type ClientCommand struct {
	Type string `json:"type"` // "kill"
}

// subscriptionContext ends when the request ends or the server shuts down.
func (s *Server) subscriptionContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.baseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// writeSSE frames one event. Keepalives become comment frames.
func writeSSE(w io.Writer, ev stream.Event) error {
	if ev.Type == stream.EventKeepalive {
		_, err := io.WriteString(w, ": keepalive\n\n")
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	conversationID := ps.ByName("id")
	if err := session.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := s.subscriptionContext(r)
	defer cancel()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("conversation_id", conversationID).Logger()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Debug().Msg("SSE subscriber attached")
	for ev := range s.streams.Subscribe(ctx, conversationID) {
		if err := writeSSE(w, ev); err != nil {
			logger.Debug().Err(err).Msg("SSE write failed")
			return
		}
		flusher.Flush()
	}
	logger.Debug().Msg("SSE subscriber detached")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	conversationID := ps.ByName("id")
	if err := session.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	ctx, cancel := s.subscriptionContext(r)
	defer cancel()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("conversation_id", conversationID).Logger()

	// reader: control frames in, disconnect detection
	go func() {
		defer cancel()
		for {
			var cmd ClientCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Type {
			case "kill":
				s.runner.Kill(context.WithoutCancel(ctx), conversationID)
			default:
				logger.Debug().Str("type", cmd.Type).Msg("Unknown client command")
			}
		}
	}()

	logger.Debug().Msg("WebSocket subscriber attached")
	for ev := range s.streams.Subscribe(ctx, conversationID) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
	logger.Debug().Msg("WebSocket subscriber detached")
}
