package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProvider answers with the last user message.
type echoProvider struct{}

func (echoProvider) Name() string        { return agent.ProviderOpenAI }
func (echoProvider) SupportsTools() bool { return true }

func (p echoProvider) Invoke(ctx context.Context, turns []conversation.Turn) (agent.Response, error) {
	return p.InvokeWithTools(ctx, turns, nil)
}

func (echoProvider) InvokeWithTools(_ context.Context, turns []conversation.Turn, _ []toolexecutor.ToolSchema) (agent.Response, error) {
	last := ""
	for _, t := range turns {
		if t.Role == conversation.RoleUser {
			last = t.Content
		}
	}
	return agent.TerminalText{
		Content: "echo: " + last,
		Usage:   &stream.Usage{PromptTokens: 4, CompletionTokens: 3, TotalTokens: 7},
	}, nil
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := fmt.Sprintf(`{
  "data_dir": %q,
  "logging": {"level": "warn", "console": false},
  "storage": {"driver": "jsonl", "path": %q},
  "providers": {"openai": {"api_key": "test-key"}},
  "agents": {
    "assistant": {"model_type": "openai", "model_name": "gpt-test", "tools": ["calculator"]}
  }
}`, dir, filepath.Join(dir, "conversations"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func useEchoProvider(t *testing.T) {
	t.Helper()
	providerHook = func(f *agent.ProviderFactory) {
		f.RegisterConstructor(agent.ProviderOpenAI, func(agent.ProviderOptions) (agent.Provider, error) {
			return echoProvider{}, nil
		})
	}
	t.Cleanup(func() { providerHook = nil })
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel = "", "info"
	chatAgent, chatMessage, chatConversation = "", "", ""

	cmd := GetRootCmd()
	for _, name := range []string{"version", "help"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChatCommand(t *testing.T) {
	useEchoProvider(t)
	path := writeTestConfig(t)

	t.Run("should answer a single message", func(t *testing.T) {
		out, err := execute(t, "", "chat", "--config", path, "-m", "hi", "-c", "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "echo: hi\n", out)
	})

	t.Run("should take piped stdin as the message", func(t *testing.T) {
		out, err := execute(t, "from stdin\n", "chat", "--config", path, "-c", "conv-2")
		require.NoError(t, err)
		assert.Equal(t, "echo: from stdin\n", out)
	})

	t.Run("should refuse empty input", func(t *testing.T) {
		_, err := execute(t, "  \n", "chat", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no message given")
	})

	t.Run("should reject an unknown agent", func(t *testing.T) {
		_, err := execute(t, "", "chat", "--config", path, "-a", "ghost", "-m", "hi")
		require.Error(t, err)
		assert.ErrorIs(t, err, agent.ErrAgentNotFound)
	})
}

func TestConversationsCommand(t *testing.T) {
	useEchoProvider(t)
	path := writeTestConfig(t)

	_, err := execute(t, "", "chat", "--config", path, "-m", "what is 6 times 7", "-c", "conv-1")
	require.NoError(t, err)

	t.Run("should list stored conversations", func(t *testing.T) {
		out, err := execute(t, "", "conversations", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "conv-1")
		assert.Contains(t, out, "assistant")
		assert.Contains(t, out, "what is 6 times 7")
	})

	t.Run("should show a conversation", func(t *testing.T) {
		out, err := execute(t, "", "conversations", "show", "conv-1", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Conversation conv-1")
		assert.Contains(t, out, "user: what is 6 times 7")
		assert.Contains(t, out, "assistant: echo: what is 6 times 7")
	})

	t.Run("should delete a conversation", func(t *testing.T) {
		out, err := execute(t, "", "conversations", "delete", "conv-1", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted conversation conv-1")

		out, err = execute(t, "", "conversations", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "No conversations stored.")
	})
}

func TestAgentsCommand(t *testing.T) {
	t.Run("should list agents with readiness", func(t *testing.T) {
		path := writeTestConfig(t)

		out, err := execute(t, "", "agents", "--config", path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "NAME")
		for _, want := range []string{"assistant", "openai", "gpt-test", "calculator", "yes"} {
			assert.Contains(t, lines[1], want)
		}
	})
}

func TestPrintConversation(t *testing.T) {
	t.Run("should print tool calls and results", func(t *testing.T) {
		conv := &session.Conversation{
			ID:       "conv-9",
			Metadata: session.Metadata{AgentName: "assistant", ModelType: "openai", ModelName: "gpt-test"},
			Turns: []conversation.Turn{
				{Role: conversation.RoleUser, Content: "6 times 7?"},
				{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCallRequest{{
					ID:   "c1",
					Name: "calculator",
					Args: map[string]interface{}{"param1": 6, "param2": 7, "operator": "multiply"},
				}}},
				{Role: conversation.RoleTool, ToolCallID: "c1", ToolName: "calculator", Content: "42"},
				{Role: conversation.RoleAssistant, Content: "42"},
			},
		}

		out := &bytes.Buffer{}
		printConversation(out, conv)
		text := out.String()
		assert.Contains(t, text, "assistant -> calculator(operator=multiply, param1=6, param2=7) [c1]")
		assert.Contains(t, text, "[tool calculator c1] 42")
		assert.Contains(t, text, "Agent: assistant (openai/gpt-test)")
		assert.Contains(t, text, "assistant: 42")
	})
}
