package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey        ContextKey = "trace_id"
	RunIDKey          ContextKey = "run_id"
	AgentKey          ContextKey = "agent"
	ConversationIDKey ContextKey = "conversation_id"
	DelegationKey     ContextKey = "delegation"
)

// TraceContext holds the identifiers attached to one request or run.
type TraceContext struct {
	TraceID        string
	RunID          string
	Agent          string
	ConversationID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string        { return stringValue(ctx, TraceIDKey) }
func GetRunID(ctx context.Context) string          { return stringValue(ctx, RunIDKey) }
func GetAgent(ctx context.Context) string          { return stringValue(ctx, AgentKey) }
func GetConversationID(ctx context.Context) string { return stringValue(ctx, ConversationIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:        GetTraceID(ctx),
		RunID:          GetRunID(ctx),
		Agent:          GetAgent(ctx),
		ConversationID: GetConversationID(ctx),
	}
}

// NewRequestContext attaches a fresh trace ID unless one is already present.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext tags ctx for one agent run on a conversation.
func NewRunContext(ctx context.Context, agent, conversationID string) context.Context {
	ctx = NewRequestContext(ctx)
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgent(ctx, agent)
	return WithConversationID(ctx, conversationID)
}
