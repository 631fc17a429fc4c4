package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

// Executor runs batches of tool calls against a catalog and reports their lifecycle.
type Executor struct {
	catalog   *Catalog
	publisher stream.Publisher
	logger    zerolog.Logger
	agentName string
}

// NewExecutor creates an executor. A nil publisher discards events.
func NewExecutor(catalog *Catalog, publisher stream.Publisher, logger zerolog.Logger) *Executor {
	observability.EnsureRegistered()
	if publisher == nil {
		publisher = stream.NopPublisher{}
	}
	return &Executor{
		catalog:   catalog,
		publisher: publisher,
		logger:    logger.With().Str("component", "tool_executor").Logger(),
	}
}

// ForAgent returns a copy of the executor that tags calls with agentName.
func (e *Executor) ForAgent(agentName string) *Executor {
	cp := *e
	cp.agentName = agentName
	return &cp
}

// Catalog returns the catalog the executor resolves against.
func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// Execute runs requests under policy and returns one result per request, in request order.
func (e *Executor) Execute(ctx context.Context, conversationID string, requests []conversation.ToolCallRequest, policy Policy) []conversation.ToolCallResult {
	results := make([]conversation.ToolCallResult, len(requests))
	if len(requests) == 0 {
		return results
	}
	if err := policy.Validate(); err != nil {
		e.logger.Warn().Err(err).Msg("Invalid execution policy, running sequentially")
		policy = SequentialPolicy()
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)

	if !policy.parallelFor(len(requests)) {
		logger.Debug().Int("calls", len(requests)).Msg("Executing tool calls sequentially")
		for i, req := range requests {
			results[i] = e.executeSlot(ctx, conversationID, req, policy.timeout())
		}
		return results
	}

	logger.Debug().
		Int("calls", len(requests)).
		Int("max_concurrency", policy.MaxConcurrency).
		Msg("Executing tool calls in parallel")

	p := pool.New().WithMaxGoroutines(policy.MaxConcurrency)
	for i, req := range requests {
		p.Go(func() {
			results[i] = e.executeSlot(ctx, conversationID, req, policy.timeout())
		})
	}
	p.Wait()

	return results
}

// executeSlot converts any fault escaping executeOne into a failed result.
func (e *Executor) executeSlot(ctx context.Context, conversationID string, req conversation.ToolCallRequest, timeout time.Duration) (result conversation.ToolCallResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("tool", req.Name).
				Str("tool_call_id", req.ID).
				Interface("panic", r).
				Msg("Tool executor fault")
			result = newResult(req, Failure("executor fault: %v", r), 0)
		}
	}()
	return e.executeOne(ctx, conversationID, req, timeout)
}

func (e *Executor) executeOne(ctx context.Context, conversationID string, req conversation.ToolCallRequest, timeout time.Duration) conversation.ToolCallResult {
	ctx, span := tracing.StartSpan(
		ctx,
		"agentflow.toolexecutor",
		"toolexecutor.execute",
		attribute.String("tool.name", req.Name),
		attribute.String("tool.call_id", req.ID),
	)
	logger := tracing.LoggerFromContext(ctx, e.logger).With().
		Str("tool", req.Name).
		Str("tool_call_id", req.ID).
		Logger()

	e.publish(conversationID, stream.ToolExecutionStart(req.ID, req.Name))
	start := time.Now()

	outcome, err := e.invoke(ctx, conversationID, req, timeout)
	duration := time.Since(start)
	if err != nil {
		outcome = ToolOutcome{Error: err.Error()}
	}
	if !outcome.Succeeded && outcome.Error == "" {
		outcome.Error = "tool reported failure without a message"
	}
	result := newResult(req, outcome, duration)

	if result.Succeeded {
		e.publish(conversationID, stream.ToolExecutionComplete(req.ID, req.Name, result.Output, duration))
		logger.Debug().Dur("duration", duration).Msg("Tool executed")
	} else {
		e.publish(conversationID, stream.ToolExecutionError(req.ID, req.Name, result.Error, duration))
		logger.Warn().Dur("duration", duration).Str("error", result.Error).Msg("Tool failed")
	}
	observability.RecordToolExecution(req.Name, duration, result.Succeeded)

	var spanErr error
	if !result.Succeeded {
		spanErr = errors.New(result.Error)
	}
	tracing.EndSpan(span, spanErr)
	return result
}

// invoke resolves, validates and runs one capability under timeout. Panics inside the
// capability are recovered and reported as ErrToolExecution.
func (e *Executor) invoke(ctx context.Context, conversationID string, req conversation.ToolCallRequest, timeout time.Duration) (ToolOutcome, error) {
	capability, err := e.catalog.Resolve(req.Name)
	if err != nil {
		return ToolOutcome{}, err
	}
	if err := e.catalog.Validate(req.Name, req.Args); err != nil {
		return ToolOutcome{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx = ContextWithExecContext(callCtx, &ExecutionContext{
		ConversationID: conversationID,
		AgentName:      e.agentName,
		ToolCallID:     req.ID,
		ToolName:       req.Name,
	})

	type invocation struct {
		outcome ToolOutcome
		err     error
	}
	done := make(chan invocation, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().
					Str("tool", req.Name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Tool panicked")
				done <- invocation{err: fmt.Errorf("%w: panic: %v", ErrToolExecution, r)}
			}
		}()
		args := req.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		outcome, err := capability.Invoke(callCtx, args)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrToolExecution, err)
		}
		done <- invocation{outcome: outcome, err: err}
	}()

	select {
	case inv := <-done:
		return inv.outcome, inv.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ToolOutcome{}, fmt.Errorf("%w: timed out after %s", ErrToolExecution, timeout)
		}
		return ToolOutcome{}, fmt.Errorf("%w: %v", ErrToolExecution, callCtx.Err())
	}
}

// publish never lets a publisher fault reach the tool call.
func (e *Executor) publish(conversationID string, ev stream.Event) {
	if conversationID == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug().Interface("panic", r).Str("event", string(ev.Type)).Msg("Event publish failed")
		}
	}()
	e.publisher.Publish(conversationID, ev)
}

func newResult(req conversation.ToolCallRequest, outcome ToolOutcome, duration time.Duration) conversation.ToolCallResult {
	result := conversation.ToolCallResult{
		RequestID: req.ID,
		ToolName:  req.Name,
		Args:      req.Args,
		Succeeded: outcome.Succeeded,
		Duration:  duration,
	}
	if outcome.Succeeded {
		result.Output = outcome.Output
	} else {
		result.Error = outcome.Error
	}
	result.DisplayText = DisplayText(req.Name, outcome)
	return result
}
