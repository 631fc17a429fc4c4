package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/commandqueue"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Runner drives the model orchestration loop for agent runs.
type Runner struct {
	registry     *Registry
	streams      *stream.Registry
	store        session.Store
	queue        *commandqueue.Queue
	logger       zerolog.Logger
	persist      session.PersistPolicy
	toolTimeout  time.Duration
	modelTimeout time.Duration
	estimator    *UsageEstimator

	// cancel functions of in-flight runs, by conversation id
	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
}

// RunnerConfig holds runner dependencies. Store may be nil to disable persistence.
type RunnerConfig struct {
	Registry     *Registry
	Streams      *stream.Registry
	Store        session.Store
	Queue        *commandqueue.Queue
	Logger       zerolog.Logger
	Persist      session.PersistPolicy
	ToolTimeout  time.Duration
	ModelTimeout time.Duration
	Estimator    *UsageEstimator
}

// NewRunner creates a runner and installs it as the registry's delegate runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Streams == nil {
		return nil, fmt.Errorf("stream registry is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Persist == "" {
		cfg.Persist = session.PersistOnExit
	}

	r := &Runner{
		registry:     cfg.Registry,
		streams:      cfg.Streams,
		store:        cfg.Store,
		queue:        cfg.Queue,
		logger:       cfg.Logger.With().Str("component", "runner").Logger(),
		persist:      cfg.Persist,
		toolTimeout:  cfg.ToolTimeout,
		modelTimeout: cfg.ModelTimeout,
		estimator:    cfg.Estimator,
		activeRuns:   make(map[string]context.CancelFunc),
	}
	cfg.Registry.SetAsker(r)
	return r, nil
}

// Run executes one user message on a conversation. An empty ConversationID starts a new one.
// Runs on the same conversation are serialized.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	return r.run(ctx, params, true)
}

// Ask runs agentName on a fresh, unsaved conversation and returns its answer.
// Asking an agent already in the delegation chain fails with ErrDelegationCycle.
func (r *Runner) Ask(ctx context.Context, agentName, message string) (string, error) {
	chain := tracing.DelegationChain(ctx)
	if slices.Contains(chain, agentName) {
		return "", fmt.Errorf("%w: %s -> %s", ErrDelegationCycle, strings.Join(chain, " -> "), agentName)
	}
	if len(chain) > MaxDelegationDepth {
		return "", fmt.Errorf("%w: limit is %d", ErrDelegationDepth, MaxDelegationDepth)
	}

	id := session.NewConversationID()
	ctx = tracing.PropagateToDelegate(ctx, agentName, id)
	result, err := r.run(ctx, RunParams{ConversationID: id, AgentName: agentName, Message: message}, false)
	if err != nil {
		return "", err
	}
	if result.Outcome == OutcomeCancelled {
		return "", context.Canceled
	}
	return result.Content, nil
}

func (r *Runner) run(ctx context.Context, params RunParams, save bool) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.AgentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if params.ConversationID == "" {
		params.ConversationID = session.NewConversationID()
	}
	if err := session.ValidateConversationID(params.ConversationID); err != nil {
		return nil, err
	}
	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx, params.AgentName, params.ConversationID)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"agentflow.agent",
		"agent.run",
		attribute.String("agent.name", params.AgentName),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	out, err := r.queue.Enqueue(ctx, commandqueue.ConversationLane(params.ConversationID), func(taskCtx context.Context) (interface{}, error) {
		return r.execute(taskCtx, params, save)
	})
	tracing.EndSpan(span, err)
	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		return nil, err
	}
	return out.(*RunResult), nil
}

// Abort cancels the in-flight run on a conversation and reports whether one existed.
func (r *Runner) Abort(conversationID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	cancel, ok := r.activeRuns[conversationID]
	if !ok {
		return false
	}
	r.logger.Info().Str("conversation_id", conversationID).Msg("Aborting agent run")
	cancel()
	delete(r.activeRuns, conversationID)
	return true
}

// IsRunning reports whether a run is in flight on the conversation.
func (r *Runner) IsRunning(conversationID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	_, ok := r.activeRuns[conversationID]
	return ok
}

// Kill terminates the conversation's event stream and aborts its run.
func (r *Runner) Kill(ctx context.Context, conversationID string) bool {
	killed := r.streams.Kill(conversationID)
	aborted := r.Abort(conversationID)
	observability.RecordConversationAudit(ctx, "kill", conversationID, "", statusOf(killed || aborted))
	return killed || aborted
}

func statusOf(ok bool) string {
	if ok {
		return "success"
	}
	return "not_found"
}

func (r *Runner) track(conversationID string, cancel context.CancelFunc) func() {
	r.runsMu.Lock()
	r.activeRuns[conversationID] = cancel
	r.runsMu.Unlock()
	return func() {
		r.runsMu.Lock()
		delete(r.activeRuns, conversationID)
		r.runsMu.Unlock()
	}
}

func (r *Runner) execute(ctx context.Context, params RunParams, save bool) (*RunResult, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	id := params.ConversationID

	ag, err := r.registry.Build(params.AgentName)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.track(id, cancel)()

	r.streams.GetOrCreate(id)

	var history []conversation.Turn
	if r.store != nil && save {
		history, err = r.store.Load(runCtx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	}

	state := conversation.NewState(history)
	closeInterrupted(state)
	state.EnsureSystemPrompt(ag.Definition().SystemPrompt)
	if err := state.Append(conversation.Turn{Role: conversation.RoleUser, Content: params.Message}); err != nil {
		return nil, err
	}

	meta := session.Metadata{
		AgentName: ag.Name(),
		ModelType: ag.Provider().Name(),
		ModelName: ag.Definition().Model,
	}
	persist := func(final bool) error {
		if r.store == nil || !save {
			return nil
		}
		if !final && r.persist != session.PersistEachRound {
			return nil
		}
		return r.store.Save(context.WithoutCancel(ctx), id, state.Snapshot(), meta)
	}

	result := &RunResult{ConversationID: id, AgentName: ag.Name()}
	start := time.Now()

	loopErr := r.loop(runCtx, ag, state, result, persist)

	result.Turns = state.Snapshot()
	if err := persist(true); err != nil {
		logger.Error().Err(err).Msg("Failed to save conversation")
		loopErr = errors.Join(loopErr, fmt.Errorf("failed to save conversation: %w", err))
	}

	outcome := string(result.Outcome)
	if loopErr != nil {
		outcome = "error"
	}
	observability.RecordAgentRun(ag.Provider().Name(), outcome, time.Since(start))
	observability.RecordConversationAudit(ctx, "run", id, ag.Name(), outcome)

	logger.Info().
		Str("outcome", outcome).
		Int("iterations", result.Iterations).
		Int("total_tokens", result.Usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("Agent run finished")

	if loopErr != nil {
		return nil, loopErr
	}
	return result, nil
}

// closeInterrupted answers tool calls left unanswered by an earlier run that stopped mid-round.
func closeInterrupted(state *conversation.State) {
	pending := make(map[string]bool)
	for _, id := range state.PendingToolCalls() {
		pending[id] = true
	}
	for _, call := range state.LastAssistantToolCalls() {
		if !pending[call.ID] {
			continue
		}
		outcome := toolexecutor.Failure("interrupted before completion")
		_ = state.Append(conversation.Turn{
			Role:       conversation.RoleTool,
			Content:    toolexecutor.DisplayText(call.Name, outcome),
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
}

func (r *Runner) loop(ctx context.Context, ag *Agent, state *conversation.State, result *RunResult, persist func(final bool) error) error {
	id := result.ConversationID
	provider := ag.Provider()
	executor := toolexecutor.NewExecutor(ag.Catalog(), r.streams, r.logger).ForAgent(ag.Name())
	policy := ag.Policy(r.toolTimeout)
	maxIterations := ag.MaxIterations()

	schemas := ag.Catalog().Schemas()
	useTools := len(schemas) > 0 && provider.SupportsTools()

	for {
		if ctx.Err() != nil || r.streams.Killed(id) {
			result.Outcome = OutcomeCancelled
			result.Content = state.LastAssistantContent()
			return nil
		}
		if result.Iterations >= maxIterations {
			result.Outcome = OutcomeIterationLimitExceeded
			result.Content = IterationLimitMessage
			return nil
		}

		turns := state.Snapshot()
		resp, err := r.callModel(ctx, ag, turns, schemas, useTools)
		result.Iterations++
		if err != nil {
			if ctx.Err() != nil {
				result.Outcome = OutcomeCancelled
				result.Content = state.LastAssistantContent()
				return nil
			}
			return err
		}
		r.recordUsage(ag, turns, resp, result)

		switch v := resp.(type) {
		case TerminalText:
			return r.finish(state, result, v.Content)

		case ProviderManagedHistory:
			state.Replace(v.Turns)
			result.Outcome = OutcomeCompleted
			result.Content = state.LastAssistantContent()
			return nil

		case ToolCallsRequested:
			if !useTools {
				return r.finish(state, result, v.Content)
			}
			if err := state.Append(conversation.Turn{
				Role:      conversation.RoleAssistant,
				Content:   v.Content,
				ToolCalls: v.Calls,
			}); err != nil {
				return fmt.Errorf("%w: %v", ErrProviderError, err)
			}
			for _, call := range v.Calls {
				r.streams.Publish(id, stream.ToolCallStart(call.ID, call.Name, call.Args))
			}

			for _, res := range executor.Execute(ctx, id, v.Calls, policy) {
				if err := state.Append(res.ToTurn()); err != nil {
					return err
				}
			}
			if err := persist(false); err != nil {
				logger := tracing.LoggerFromContext(ctx, r.logger)
				logger.Warn().Err(err).Msg("Failed to save round")
			}

		default:
			return fmt.Errorf("%w: unexpected response %T", ErrProviderError, resp)
		}
	}
}

func (r *Runner) finish(state *conversation.State, result *RunResult, content string) error {
	if err := state.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: content}); err != nil {
		return err
	}
	result.Outcome = OutcomeCompleted
	result.Content = content
	return nil
}

func (r *Runner) callModel(ctx context.Context, ag *Agent, turns []conversation.Turn, schemas []toolexecutor.ToolSchema, useTools bool) (Response, error) {
	provider := ag.Provider()
	ctx, span := tracing.StartSpan(
		ctx,
		"agentflow.agent",
		"agent.model_call",
		attribute.String("provider", provider.Name()),
		attribute.String("model", ag.Definition().Model),
	)
	if r.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.modelTimeout)
		defer cancel()
	}

	start := time.Now()
	var (
		resp Response
		err  error
	)
	if useTools {
		resp, err = provider.InvokeWithTools(ctx, turns, schemas)
	} else {
		resp, err = provider.Invoke(ctx, turns)
	}
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: %s returned no response", ErrProviderError, provider.Name())
	}
	if err != nil && !errors.Is(err, ErrProviderError) && !errors.Is(err, ErrProviderUnavailable) {
		err = fmt.Errorf("%w: %s: %v", ErrProviderError, provider.Name(), err)
	}

	observability.RecordModelCall(provider.Name(), time.Since(start), err == nil)
	tracing.EndSpan(span, err)
	return resp, err
}

func (r *Runner) recordUsage(ag *Agent, turns []conversation.Turn, resp Response, result *RunResult) {
	var u stream.Usage
	if reported := resp.usage(); reported != nil {
		u = *reported
	} else if r.estimator != nil {
		u = r.estimator.Estimate(ag.Definition().Model, turns, responseContent(resp))
	} else {
		return
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	addUsage(&result.Usage, u)
	r.streams.Publish(result.ConversationID, stream.UsageReport(u))
	observability.RecordTokens(ag.Provider().Name(), u.PromptTokens, u.CompletionTokens)
}

func responseContent(resp Response) string {
	switch v := resp.(type) {
	case TerminalText:
		return v.Content
	case ToolCallsRequested:
		return v.Content
	case ProviderManagedHistory:
		for i := len(v.Turns) - 1; i >= 0; i-- {
			if v.Turns[i].Role == conversation.RoleAssistant {
				return v.Turns[i].Content
			}
		}
	}
	return ""
}
