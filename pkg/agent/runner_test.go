package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/commandqueue"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s *stream.Stream) []stream.Event {
	t.Helper()
	var out []stream.Event
	for {
		ev, err := s.Next(context.Background(), 20*time.Millisecond)
		if err != nil {
			return out
		}
		out = append(out, ev)
	}
}

func eventTypes(events []stream.Event) []stream.EventType {
	types := make([]stream.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestNewRunner(t *testing.T) {
	t.Run("should require registry, streams and queue", func(t *testing.T) {
		registry := NewRegistry(NewProviderFactory(nil), nil, zerolog.Nop())
		streams := stream.NewRegistry(stream.DefaultConfig(), zerolog.Nop())
		queue := commandqueue.New(zerolog.Nop())
		defer queue.Close()

		_, err := NewRunner(RunnerConfig{Streams: streams, Queue: queue})
		assert.Error(t, err)
		_, err = NewRunner(RunnerConfig{Registry: registry, Queue: queue})
		assert.Error(t, err)
		_, err = NewRunner(RunnerConfig{Registry: registry, Streams: streams})
		assert.Error(t, err)

		runner, err := NewRunner(RunnerConfig{Registry: registry, Streams: streams, Queue: queue})
		require.NoError(t, err)
		assert.Equal(t, session.PersistOnExit, runner.persist)
	})
}

func TestRunner_Run(t *testing.T) {
	t.Run("should answer 6*7 through the calculator", func(t *testing.T) {
		provider := newScriptedProvider(func(_ context.Context, call int, turns []conversation.Turn) (Response, error) {
			usage := &stream.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
			if call == 1 {
				return ToolCallsRequested{Calls: []conversation.ToolCallRequest{calculatorCall("call_1", 6, 7, "multiply")}, Usage: usage}, nil
			}
			return TerminalText{Content: "6 times 7 is 42", Usage: usage}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant", SystemPrompt: "You are a calculator.", Tools: []string{"calculator"}})

		id := session.NewConversationID()
		s := env.streams.GetOrCreate(id)

		result, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "What is 6*7?"})
		require.NoError(t, err)

		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, "6 times 7 is 42", result.Content)
		assert.Equal(t, 2, result.Iterations)
		assert.Equal(t, stream.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}, result.Usage)

		require.Len(t, result.Turns, 5)
		assert.Equal(t, conversation.RoleSystem, result.Turns[0].Role)
		assert.Equal(t, conversation.RoleUser, result.Turns[1].Role)
		assert.Len(t, result.Turns[2].ToolCalls, 1)
		assert.Equal(t, conversation.RoleTool, result.Turns[3].Role)
		assert.Equal(t, "call_1", result.Turns[3].ToolCallID)
		assert.Equal(t, "**calculator**: 42", result.Turns[3].Content)
		assert.Equal(t, "6 times 7 is 42", result.Turns[4].Content)

		// the second model call saw the tool result
		assert.Equal(t, "**calculator**: 42", lastTurn(provider.seen[1]).Content)

		events := drain(t, s)
		assert.Equal(t, []stream.EventType{
			stream.EventUsage,
			stream.EventToolCallStart,
			stream.EventToolExecutionStart,
			stream.EventToolExecutionComplete,
			stream.EventUsage,
		}, eventTypes(events))
		for i := 1; i < len(events); i++ {
			assert.Greater(t, events[i].Seq, events[i-1].Seq)
		}
	})

	t.Run("should stop after the iteration cap", func(t *testing.T) {
		provider := newScriptedProvider(func(_ context.Context, call int, _ []conversation.Turn) (Response, error) {
			if call > 25 {
				return TerminalText{Content: "done"}, nil
			}
			return ToolCallsRequested{Calls: []conversation.ToolCallRequest{calculatorCall(fmt.Sprintf("call_%d", call), 1, 1, "add")}}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "looper", Tools: []string{"calculator"}, MaxIterations: 20})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "looper", Message: "go"})
		require.NoError(t, err)

		assert.Equal(t, OutcomeIterationLimitExceeded, result.Outcome)
		assert.Equal(t, IterationLimitMessage, result.Content)
		assert.Equal(t, 20, result.Iterations)
		assert.Equal(t, 20, provider.Calls())
	})

	t.Run("should default the cap to twenty", func(t *testing.T) {
		provider := newScriptedProvider(func(_ context.Context, call int, _ []conversation.Turn) (Response, error) {
			return ToolCallsRequested{Calls: []conversation.ToolCallRequest{calculatorCall(fmt.Sprintf("call_%d", call), 1, 1, "add")}}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "looper", Tools: []string{"calculator"}})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "looper", Message: "go"})
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxIterations, provider.Calls())
		assert.Equal(t, OutcomeIterationLimitExceeded, result.Outcome)
	})

	t.Run("should append tool turns in request order with failures inline", func(t *testing.T) {
		provider := newScriptedProvider(func(_ context.Context, call int, _ []conversation.Turn) (Response, error) {
			if call == 1 {
				return ToolCallsRequested{Calls: []conversation.ToolCallRequest{
					calculatorCall("a", 1, 2, "add"),
					calculatorCall("b", 1, 0, "divide"),
					calculatorCall("c", 2, 3, "multiply"),
				}}, nil
			}
			return TerminalText{Content: "ok"}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant", Tools: []string{"calculator"}})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "assistant", Message: "go"})
		require.NoError(t, err)

		var tools []conversation.Turn
		for _, turn := range result.Turns {
			if turn.Role == conversation.RoleTool {
				tools = append(tools, turn)
			}
		}
		require.Len(t, tools, 3)
		assert.Equal(t, "a", tools[0].ToolCallID)
		assert.Equal(t, "**calculator**: 3", tools[0].Content)
		assert.Equal(t, "**calculator Error**: Division by zero", tools[1].Content)
		assert.Equal(t, "**calculator**: 6", tools[2].Content)
	})

	t.Run("should return provider errors", func(t *testing.T) {
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return nil, fmt.Errorf("%w: connection refused", ErrProviderUnavailable)
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant"})

		id := session.NewConversationID()
		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "hi"})
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.Equal(t, 1, provider.Calls())

		// the user turn is still saved
		turns, err := env.store.Load(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "hi", turns[0].Content)
	})

	t.Run("should wrap untyped provider errors", func(t *testing.T) {
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return nil, errors.New("boom")
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant"})

		_, err := env.runner.Run(context.Background(), RunParams{AgentName: "assistant", Message: "hi"})
		assert.ErrorIs(t, err, ErrProviderError)
	})

	t.Run("should fall back to a plain call without tools", func(t *testing.T) {
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return TerminalText{Content: "hello"}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "plain"})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "plain", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hello", result.Content)
		assert.Equal(t, 1, provider.plain)
		assert.Equal(t, 0, provider.toolCalls)
	})

	t.Run("should fall back when the provider cannot use tools", func(t *testing.T) {
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return ToolCallsRequested{Content: "I would use a tool", Calls: []conversation.ToolCallRequest{calculatorCall("x", 1, 1, "add")}}, nil
		})
		provider.tools = false
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant", Tools: []string{"calculator"}})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "assistant", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, "I would use a tool", result.Content)
		assert.Equal(t, 1, provider.Calls())
		assert.Empty(t, lastTurn(result.Turns).ToolCalls)
	})

	t.Run("should adopt provider managed history", func(t *testing.T) {
		managed := []conversation.Turn{
			{Role: conversation.RoleUser, Content: "hi"},
			{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCallRequest{{ID: "x", Name: "search"}}},
			{Role: conversation.RoleTool, ToolCallID: "x", Content: "found"},
			{Role: conversation.RoleAssistant, Content: "here it is"},
		}
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return ProviderManagedHistory{Turns: managed}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant", Tools: []string{"calculator"}})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "assistant", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "here it is", result.Content)
		assert.Equal(t, 1, result.Iterations)
		require.Len(t, result.Turns, 4)
		assert.Equal(t, "found", result.Turns[2].Content)
	})

	t.Run("should estimate usage when the provider reports none", func(t *testing.T) {
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return TerminalText{Content: "abcdefgh"}, nil
		})
		env := newTestEnv(t, provider, nil, withEstimator(offlineEstimator()))
		env.addAgent(t, Definition{Name: "assistant"})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "assistant", Message: "abcd"})
		require.NoError(t, err)
		assert.Equal(t, stream.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}, result.Usage)
	})

	t.Run("should reject unknown agents and invalid ids", func(t *testing.T) {
		env := newTestEnv(t, newScriptedProvider(nil), nil)

		_, err := env.runner.Run(context.Background(), RunParams{AgentName: "ghost", Message: "hi"})
		assert.ErrorIs(t, err, ErrAgentNotFound)

		env.addAgent(t, Definition{Name: "assistant"})
		_, err = env.runner.Run(context.Background(), RunParams{ConversationID: "../x", AgentName: "assistant", Message: "hi"})
		assert.ErrorIs(t, err, session.ErrInvalidConversationID)
	})
}

func TestRunner_Persistence(t *testing.T) {
	t.Run("should resume a stored conversation", func(t *testing.T) {
		provider := newScriptedProvider(func(_ context.Context, call int, _ []conversation.Turn) (Response, error) {
			return TerminalText{Content: fmt.Sprintf("answer %d", call)}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant", SystemPrompt: "Be brief."})

		id := session.NewConversationID()
		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "first"})
		require.NoError(t, err)
		result, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "second"})
		require.NoError(t, err)

		// system, first, answer 1, second, answer 2
		require.Len(t, result.Turns, 5)
		assert.Len(t, provider.seen[1], 4)

		conv, err := env.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "assistant", conv.Metadata.AgentName)
		assert.Equal(t, "mock", conv.Metadata.ModelType)
		assert.Equal(t, "mock-model", conv.Metadata.ModelName)
		assert.Len(t, conv.Turns, 5)
	})

	t.Run("should save after every round when configured", func(t *testing.T) {
		var env *testEnv
		var storedDuringRound2 int
		id := session.NewConversationID()
		provider := newScriptedProvider(func(ctx context.Context, call int, _ []conversation.Turn) (Response, error) {
			if call == 1 {
				return ToolCallsRequested{Calls: []conversation.ToolCallRequest{calculatorCall("c1", 1, 2, "add")}}, nil
			}
			turns, err := env.store.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			storedDuringRound2 = len(turns)
			return TerminalText{Content: "3"}, nil
		})
		env = newTestEnv(t, provider, nil, withPersist(session.PersistEachRound))
		env.addAgent(t, Definition{Name: "assistant", Tools: []string{"calculator"}})

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "1+2"})
		require.NoError(t, err)
		// user, assistant with call, tool
		assert.Equal(t, 3, storedDuringRound2)
	})

	t.Run("should close tool calls left pending by an interrupted run", func(t *testing.T) {
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return TerminalText{Content: "recovered"}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant"})

		id := session.NewConversationID()
		require.NoError(t, env.store.Save(context.Background(), id, []conversation.Turn{
			{Role: conversation.RoleUser, Content: "1+1"},
			{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCallRequest{calculatorCall("c1", 1, 1, "add")}},
		}, session.Metadata{AgentName: "assistant"}))

		result, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "again"})
		require.NoError(t, err)
		assert.Equal(t, "recovered", result.Content)
		assert.Equal(t, "**calculator Error**: interrupted before completion", result.Turns[2].Content)
	})
}

func TestRunner_Cancellation(t *testing.T) {
	t.Run("should end with cancelled when killed during a tool call", func(t *testing.T) {
		started := make(chan struct{})
		blocker := toolexecutor.ToolDefinition{
			Name:        "wait",
			Description: "waits until cancelled",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		provider := newScriptedProvider(func(_ context.Context, call int, _ []conversation.Turn) (Response, error) {
			return ToolCallsRequested{Calls: []conversation.ToolCallRequest{{ID: fmt.Sprintf("w%d", call), Name: "wait"}}}, nil
		})
		env := newTestEnv(t, provider, []toolexecutor.ToolDefinition{blocker})
		env.addAgent(t, Definition{Name: "assistant", Tools: []string{"wait"}})

		id := session.NewConversationID()
		done := make(chan *RunResult, 1)
		go func() {
			result, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: "wait"})
			assert.NoError(t, err)
			done <- result
		}()

		<-started
		assert.True(t, env.runner.IsRunning(id))
		assert.True(t, env.runner.Kill(context.Background(), id))

		select {
		case result := <-done:
			assert.Equal(t, OutcomeCancelled, result.Outcome)
			assert.Equal(t, 1, provider.Calls())
			assert.Equal(t, conversation.RoleTool, lastTurn(result.Turns).Role)
		case <-time.After(5 * time.Second):
			t.Fatal("run did not stop after kill")
		}
		assert.False(t, env.runner.IsRunning(id))
	})

	t.Run("should end with cancelled when the caller gives up", func(t *testing.T) {
		provider := newScriptedProvider(func(ctx context.Context, _ int, _ []conversation.Turn) (Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant"})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		result, err := env.runner.Run(ctx, RunParams{AgentName: "assistant", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, result.Outcome)
	})

	t.Run("should report nothing to kill for idle conversations", func(t *testing.T) {
		env := newTestEnv(t, newScriptedProvider(nil), nil)
		assert.False(t, env.runner.Kill(context.Background(), "idle"))
		assert.False(t, env.runner.Abort("idle"))
	})
}

func TestRunner_Serialization(t *testing.T) {
	t.Run("should never run one conversation concurrently", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		provider := newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return TerminalText{Content: "ok"}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "assistant"})

		id := session.NewConversationID()
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := env.runner.Run(context.Background(), RunParams{ConversationID: id, AgentName: "assistant", Message: fmt.Sprint(i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), peak.Load())
		turns, err := env.store.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, turns, 8)
	})
}

func TestRunner_Delegation(t *testing.T) {
	t.Run("should run a delegate agent through its proxy tool", func(t *testing.T) {
		provider := newScriptedProvider(func(_ context.Context, _ int, turns []conversation.Turn) (Response, error) {
			if turns[0].Content == "You help." {
				return TerminalText{Content: "helper says hi"}, nil
			}
			if last := lastTurn(turns); last.Role == conversation.RoleTool {
				return TerminalText{Content: "boss heard: " + last.Content}, nil
			}
			return ToolCallsRequested{Calls: []conversation.ToolCallRequest{{
				ID:   "d1",
				Name: "ask_helper",
				Args: map[string]interface{}{"message": "say hi"},
			}}}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "helper", SystemPrompt: "You help."})
		env.addAgent(t, Definition{Name: "boss", SystemPrompt: "You delegate.", Delegates: []string{"helper"}})

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "boss", Message: "go"})
		require.NoError(t, err)
		assert.Equal(t, "boss heard: **ask_helper**: helper says hi", result.Content)

		// only the boss conversation is stored
		summaries, err := env.store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, "boss", summaries[0].AgentName)
	})
}

func TestRunner_DelegationLimits(t *testing.T) {
	t.Run("should stop agents that delegate to each other", func(t *testing.T) {
		var mu sync.Mutex
		var pongRuns int
		var pingReplies []string
		provider := newScriptedProvider(func(_ context.Context, call int, turns []conversation.Turn) (Response, error) {
			target := "ping"
			if turns[0].Content == "You are ping." {
				target = "pong"
			}
			mu.Lock()
			if target == "ping" && len(turns) == 2 {
				pongRuns++
			}
			if last := lastTurn(turns); last.Role == conversation.RoleTool && last.ToolName == "ask_ping" {
				pingReplies = append(pingReplies, last.Content)
			}
			mu.Unlock()
			return ToolCallsRequested{Calls: []conversation.ToolCallRequest{{
				ID:   fmt.Sprintf("c%d", call),
				Name: "ask_" + target,
				Args: map[string]interface{}{"message": "your turn"},
			}}}, nil
		})
		env := newTestEnv(t, provider, nil)
		env.addAgent(t, Definition{Name: "ping", SystemPrompt: "You are ping.", Delegates: []string{"pong"}, MaxIterations: 3})
		env.addAgent(t, Definition{Name: "pong", SystemPrompt: "You are pong.", Delegates: []string{"ping"}, MaxIterations: 3})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result, err := env.runner.Run(ctx, RunParams{AgentName: "ping", Message: "serve"})
		require.NoError(t, err)
		require.NoError(t, ctx.Err())
		assert.Equal(t, OutcomeIterationLimitExceeded, result.Outcome)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, pongRuns)
		require.NotEmpty(t, pingReplies)
		for _, reply := range pingReplies {
			assert.Contains(t, reply, "delegation cycle: ping -> pong -> ping")
		}
	})

	t.Run("should refuse an agent already in the chain", func(t *testing.T) {
		env := newTestEnv(t, newScriptedProvider(func(context.Context, int, []conversation.Turn) (Response, error) {
			return TerminalText{Content: "unreachable"}, nil
		}), nil)
		env.addAgent(t, Definition{Name: "ping", SystemPrompt: "You are ping."})

		ctx := tracing.NewRunContext(context.Background(), "ping", "conv-1")
		_, err := env.runner.Ask(ctx, "ping", "hello")
		assert.ErrorIs(t, err, ErrDelegationCycle)
	})

	t.Run("should cap nested delegation depth", func(t *testing.T) {
		names := []string{"a", "b", "c", "d", "e", "f"}
		var mu sync.Mutex
		started := map[string]int{}
		provider := newScriptedProvider(func(_ context.Context, call int, turns []conversation.Turn) (Response, error) {
			name := turns[0].Content
			mu.Lock()
			if len(turns) == 2 {
				started[name]++
			}
			mu.Unlock()
			if last := lastTurn(turns); last.Role == conversation.RoleTool {
				return TerminalText{Content: name + " got: " + last.Content}, nil
			}
			i := slices.Index(names, name)
			if i == len(names)-1 {
				return TerminalText{Content: "bottom"}, nil
			}
			return ToolCallsRequested{Calls: []conversation.ToolCallRequest{{
				ID:   fmt.Sprintf("c%d", call),
				Name: "ask_" + names[i+1],
				Args: map[string]interface{}{"message": "go deeper"},
			}}}, nil
		})
		env := newTestEnv(t, provider, nil)
		for i, name := range names {
			def := Definition{Name: name, SystemPrompt: name}
			if i < len(names)-1 {
				def.Delegates = []string{names[i+1]}
			}
			env.addAgent(t, def)
		}

		result, err := env.runner.Run(context.Background(), RunParams{AgentName: "a", Message: "dig"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Contains(t, result.Content, "delegation too deep")

		mu.Lock()
		defer mu.Unlock()
		for _, name := range names[:MaxDelegationDepth+1] {
			assert.Equal(t, 1, started[name], name)
		}
		assert.Zero(t, started["f"])
	})
}

func offlineEstimator() *UsageEstimator {
	e := NewUsageEstimator()
	e.load = nil
	return e
}
