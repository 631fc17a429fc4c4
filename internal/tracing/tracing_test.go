package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunContext(t *testing.T) {
	t.Run("should attach all identifiers", func(t *testing.T) {
		ctx := NewRunContext(context.Background(), "math", "conv-1")
		tc := FromContext(ctx)
		assert.NotEmpty(t, tc.TraceID)
		assert.NotEmpty(t, tc.RunID)
		assert.Equal(t, "math", tc.Agent)
		assert.Equal(t, "conv-1", tc.ConversationID)
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = NewRunContext(ctx, "math", "conv-1")
		assert.Equal(t, "trace-1", GetTraceID(ctx))
	})

	t.Run("should return empty values for a bare context", func(t *testing.T) {
		assert.Equal(t, TraceContext{}, FromContext(context.Background()))
	})
}

func TestPropagateToDelegate(t *testing.T) {
	parent := NewRunContext(context.Background(), "router", "conv-1")
	child := PropagateToDelegate(parent, "math", "conv-2")

	assert.Equal(t, GetTraceID(parent), GetTraceID(child))
	assert.NotEqual(t, GetRunID(parent), GetRunID(child))
	assert.Equal(t, "math", GetAgent(child))
	assert.Equal(t, "conv-2", GetConversationID(child))
}

func TestDelegationChain(t *testing.T) {
	t.Run("should start from the run's agent", func(t *testing.T) {
		ctx := NewRunContext(context.Background(), "router", "conv-1")
		assert.Equal(t, []string{"router"}, DelegationChain(ctx))
	})

	t.Run("should grow with each delegate without touching the parent", func(t *testing.T) {
		parent := NewRunContext(context.Background(), "router", "conv-1")
		child := PropagateToDelegate(parent, "math", "conv-2")
		grandchild := PropagateToDelegate(child, "units", "conv-3")

		assert.Equal(t, []string{"router", "math"}, DelegationChain(child))
		assert.Equal(t, []string{"router", "math", "units"}, DelegationChain(grandchild))
		assert.Equal(t, []string{"router"}, DelegationChain(parent))
	})

	t.Run("should be empty for a bare context", func(t *testing.T) {
		assert.Empty(t, DelegationChain(context.Background()))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := WithConversationID(WithTraceID(context.Background(), "trace-1"), "conv-1")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "conv-1", entry["conversation_id"])
	assert.NotContains(t, entry, "run_id")
}

func TestStartSpan(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("agentflow-test"))
	ctx, span := StartSpan(context.Background(), "agentflow.test", "test.span")
	defer span.End()
	assert.NotEmpty(t, GetTraceID(ctx))
}
