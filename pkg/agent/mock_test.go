package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/harun/agentflow/pkg/commandqueue"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/coretools"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type respondFunc func(ctx context.Context, call int, turns []conversation.Turn) (Response, error)

// scriptedProvider answers model calls from a function and records what it saw.
type scriptedProvider struct {
	mu        sync.Mutex
	respond   respondFunc
	tools     bool
	calls     int
	toolCalls int
	plain     int
	seen      [][]conversation.Turn
}

func newScriptedProvider(respond respondFunc) *scriptedProvider {
	return &scriptedProvider{respond: respond, tools: true}
}

func (p *scriptedProvider) Name() string        { return "mock" }
func (p *scriptedProvider) SupportsTools() bool { return p.tools }

func (p *scriptedProvider) Invoke(ctx context.Context, turns []conversation.Turn) (Response, error) {
	p.mu.Lock()
	p.plain++
	p.mu.Unlock()
	return p.next(ctx, turns)
}

func (p *scriptedProvider) InvokeWithTools(ctx context.Context, turns []conversation.Turn, _ []toolexecutor.ToolSchema) (Response, error) {
	p.mu.Lock()
	p.toolCalls++
	p.mu.Unlock()
	return p.next(ctx, turns)
}

func (p *scriptedProvider) next(ctx context.Context, turns []conversation.Turn) (Response, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.seen = append(p.seen, turns)
	p.mu.Unlock()
	return p.respond(ctx, call, turns)
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testEnv struct {
	runner   *Runner
	registry *Registry
	streams  *stream.Registry
	store    session.Store
	catalog  *toolexecutor.Catalog
}

type envOption func(*RunnerConfig)

func withPersist(p session.PersistPolicy) envOption {
	return func(c *RunnerConfig) { c.Persist = p }
}

func withEstimator(e *UsageEstimator) envOption {
	return func(c *RunnerConfig) { c.Estimator = e }
}

func newTestEnv(t *testing.T, provider Provider, extraTools []toolexecutor.ToolDefinition, opts ...envOption) *testEnv {
	t.Helper()

	factory := NewProviderFactory(nil)
	factory.RegisterConstructor("mock", func(ProviderOptions) (Provider, error) { return provider, nil })

	catalog := toolexecutor.NewCatalog()
	closer, err := coretools.Register(catalog, coretools.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { closer.Close() })
	for _, def := range extraTools {
		require.NoError(t, catalog.Register(def))
	}

	registry := NewRegistry(factory, catalog, zerolog.Nop())
	streams := stream.NewRegistry(stream.DefaultConfig(), zerolog.Nop())
	store, err := session.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	queue := commandqueue.New(zerolog.Nop())
	t.Cleanup(func() { queue.Close() })

	cfg := RunnerConfig{
		Registry: registry,
		Streams:  streams,
		Store:    store,
		Queue:    queue,
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	return &testEnv{runner: runner, registry: registry, streams: streams, store: store, catalog: catalog}
}

func (e *testEnv) addAgent(t *testing.T, def Definition) {
	t.Helper()
	if def.Provider == "" {
		def.Provider = "mock"
	}
	if def.Model == "" {
		def.Model = "mock-model"
	}
	require.NoError(t, e.registry.Upsert(def))
}

func calculatorCall(id string, a, b float64, op string) conversation.ToolCallRequest {
	return conversation.ToolCallRequest{
		ID:   id,
		Name: "calculator",
		Args: map[string]interface{}{"param1": a, "param2": b, "operator": op},
	}
}

func lastTurn(turns []conversation.Turn) conversation.Turn {
	return turns[len(turns)-1]
}
