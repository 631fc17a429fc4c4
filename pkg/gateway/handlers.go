package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/commandqueue"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/julienschmidt/httprouter"
)

const auditActor = "gateway"

// MessageRequest is the body of a message post.
type MessageRequest struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// MessageResponse reports a finished run.
type MessageResponse struct {
	ConversationID string        `json:"conversation_id"`
	Agent          string        `json:"agent"`
	Content        string        `json:"content"`
	Outcome        agent.Outcome `json:"outcome"`
	Usage          stream.Usage  `json:"usage"`
	Iterations     int           `json:"iterations"`
}

// ModelRequest switches an agent's provider and model.
type ModelRequest struct {
	Provider string `json:"model_type"`
	Model    string `json:"model_name"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidConversationID),
		errors.Is(err, agent.ErrUnknownProvider),
		errors.Is(err, agent.ErrUnknownAgentClass),
		errors.Is(err, toolexecutor.ErrToolNotFound):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrAgentNotFound),
		errors.Is(err, session.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, agent.ErrProviderUnavailable),
		errors.Is(err, commandqueue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	conversationID := ps.ByName("id")
	if conversationID != "" {
		if err := session.ValidateConversationID(conversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var req MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Agent == "" {
		req.Agent = s.storedAgent(r.Context(), conversationID)
	}
	if req.Agent == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}

	result, err := s.runner.Run(r.Context(), agent.RunParams{
		ConversationID: conversationID,
		AgentName:      strings.ToLower(req.Agent),
		Message:        req.Message,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		ConversationID: result.ConversationID,
		Agent:          result.AgentName,
		Content:        result.Content,
		Outcome:        result.Outcome,
		Usage:          result.Usage,
		Iterations:     result.Iterations,
	})
}

// storedAgent returns the agent a saved conversation was held with.
func (s *Server) storedAgent(ctx context.Context, conversationID string) string {
	if s.store == nil || conversationID == "" {
		return ""
	}
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return ""
	}
	return conv.Metadata.AgentName
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	conversationID := ps.ByName("id")
	if err := session.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	killed := s.runner.Kill(r.Context(), conversationID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"killed":          killed,
	})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation storage is disabled")
		return false
	}
	return true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.requireStore(w) {
		return
	}
	summaries, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": summaries})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.requireStore(w) {
		return
	}
	conv, err := s.store.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.requireStore(w) {
		return
	}
	conversationID := ps.ByName("id")
	if s.runner.IsRunning(conversationID) {
		writeError(w, http.StatusConflict, "conversation has a run in progress")
		return
	}
	err := s.store.Delete(r.Context(), conversationID)
	status := "success"
	if err != nil {
		status = "failure"
	}
	observability.RecordConversationAudit(r.Context(), "delete", conversationID, auditActor, status)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":    s.agents.List(),
		"providers": s.agents.Factory().Available(),
	})
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := strings.ToLower(ps.ByName("name"))

	var req ModelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "model_type and model_name are required")
		return
	}

	if err := s.agents.SetModel(name, req.Provider, req.Model); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	def, err := s.agents.Get(name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	observability.RecordAgentAudit(r.Context(), "set_model", name, auditActor, map[string]interface{}{
		"model_type": def.Provider,
		"model_name": def.Model,
	})
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"agents":  len(s.agents.List()),
		"streams": s.streams.Len(),
	})
}
