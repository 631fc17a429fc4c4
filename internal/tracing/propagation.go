package tracing

import (
	"context"
	"slices"

	"github.com/rs/zerolog"
)

// DelegationChain lists the agents of the current run and the runs that
// delegated to it, outermost first.
func DelegationChain(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if chain, ok := ctx.Value(DelegationKey).([]string); ok {
		return chain
	}
	if agent := GetAgent(ctx); agent != "" {
		return []string{agent}
	}
	return nil
}

// PropagateToDelegate prepares ctx for a nested agent run: the trace ID is kept,
// the run gets a new ID and the delegate's own conversation. The delegate is
// appended to the delegation chain.
func PropagateToDelegate(ctx context.Context, agent, conversationID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}
	chain := append(slices.Clone(DelegationChain(ctx)), agent)
	ctx = context.WithValue(ctx, DelegationKey, chain)
	ctx = WithTraceID(ctx, traceID)
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgent(ctx, agent)
	return WithConversationID(ctx, conversationID)
}

// LoggerFromContext adds tracing fields from ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.Agent != "" {
		lc = lc.Str("agent", tc.Agent)
	}
	if tc.ConversationID != "" {
		lc = lc.Str("conversation_id", tc.ConversationID)
	}
	return lc.Logger()
}
