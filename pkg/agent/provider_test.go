package agent

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func toolRound() []conversation.Turn {
	return []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "Be exact."},
		{Role: conversation.RoleUser, Content: "1+1 and 2+2"},
		{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCallRequest{
			{ID: "a", Name: "calculator", Args: map[string]interface{}{"param1": 1.0}},
			{ID: "b", Name: "calculator", Args: map[string]interface{}{"param1": 2.0}},
		}},
		{Role: conversation.RoleTool, ToolCallID: "a", ToolName: "calculator", Content: "**calculator**: 2"},
		{Role: conversation.RoleTool, ToolCallID: "b", ToolName: "calculator", Content: "**calculator**: 4"},
		{Role: conversation.RoleAssistant, Content: "2 and 4"},
	}
}

func TestProviderFactory(t *testing.T) {
	t.Run("should reject unknown kinds", func(t *testing.T) {
		f := NewProviderFactory(nil)
		_, err := f.Create("bedrock", "m", ProviderOptions{})
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("should report missing credentials", func(t *testing.T) {
		f := NewProviderFactory(nil)
		for _, kind := range ProviderKinds() {
			_, err := f.Create(kind, "m", ProviderOptions{})
			assert.ErrorIs(t, err, ErrProviderUnavailable, kind)
		}
	})

	t.Run("should build providers from configured credentials", func(t *testing.T) {
		f := NewProviderFactory(map[string]Credentials{
			"openai": {APIKey: "sk-test"},
			"claude": {APIKey: "sk-ant-test", BaseURL: "http://127.0.0.1:1"},
		})
		assert.Equal(t, []string{ProviderAnthropic, ProviderOpenAI}, f.Available())

		p, err := f.Create("claude", "claude-sonnet-4-5", ProviderOptions{})
		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, p.Name())
		assert.True(t, p.SupportsTools())

		p, err = f.Create("openai", "gpt-4o", ProviderOptions{})
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, p.Name())
	})

	t.Run("should require a model", func(t *testing.T) {
		f := NewProviderFactory(map[string]Credentials{"openai": {APIKey: "sk-test"}})
		_, err := f.Create("openai", "", ProviderOptions{})
		assert.Error(t, err)
	})
}

func TestNormalizeProviderKind(t *testing.T) {
	assert.Equal(t, ProviderAnthropic, NormalizeProviderKind(" Claude "))
	assert.Equal(t, ProviderGemini, NormalizeProviderKind("google"))
	assert.Equal(t, ProviderOpenAI, NormalizeProviderKind("OPENAI"))
}

func TestSystemPrompt(t *testing.T) {
	system, rest := systemPrompt(toolRound())
	assert.Equal(t, "Be exact.", system)
	assert.Len(t, rest, 5)
}

func TestClassify(t *testing.T) {
	_, ok := classify("hi", nil, nil).(TerminalText)
	assert.True(t, ok)

	resp, ok := classify("", []conversation.ToolCallRequest{{ID: "a", Name: "x"}}, nil).(ToolCallsRequested)
	require.True(t, ok)
	assert.Len(t, resp.Calls, 1)
}

func TestAnthropicMessages(t *testing.T) {
	_, rest := systemPrompt(toolRound())
	msgs := anthropicMessages(rest)

	// user, assistant with two tool uses, one user message with both results, assistant
	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestGeminiContents(t *testing.T) {
	_, rest := systemPrompt(toolRound())
	contents := geminiContents(rest)

	require.Len(t, contents, 4)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "a", contents[1].Parts[0].FunctionCall.ID)
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "calculator", contents[2].Parts[1].FunctionResponse.Name)
	assert.Equal(t, "b", contents[2].Parts[1].FunctionResponse.ID)
	assert.Equal(t, genai.RoleModel, contents[3].Role)
}

func TestOpenAIMessages(t *testing.T) {
	msgs, err := openAIMessages(toolRound())
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 2)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "a", msgs[3].OfTool.ToolCallID)

	t.Run("should send an empty object for calls without arguments", func(t *testing.T) {
		msgs, err := openAIMessages([]conversation.Turn{
			{Role: conversation.RoleUser, Content: "what time is it"},
			{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCallRequest{{ID: "t1", Name: "clock"}}},
		})
		require.NoError(t, err)
		require.NotNil(t, msgs[1].OfAssistant)
		require.Len(t, msgs[1].OfAssistant.ToolCalls, 1)
		assert.Equal(t, "{}", msgs[1].OfAssistant.ToolCalls[0].Function.Arguments)
	})
}

func TestUsageEstimator(t *testing.T) {
	e := offlineEstimator()
	assert.Equal(t, 0, e.Count("m", ""))
	assert.Equal(t, 1, e.Count("m", "abc"))
	assert.Equal(t, 3, e.Count("m", "abcdefghij"))

	u := e.Estimate("m", []conversation.Turn{{Content: "abcd"}, {Content: "abcd"}}, "abcd")
	assert.Equal(t, 2, u.PromptTokens)
	assert.Equal(t, 1, u.CompletionTokens)
	assert.Equal(t, 3, u.TotalTokens)
}
