package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI chat completions.
type OpenAIProvider struct {
	client openai.Client
	opts   ProviderOptions
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(opts ProviderOptions) (Provider, error) {
	if err := requireAPIKey(ProviderOpenAI, opts); err != nil {
		return nil, err
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
	}, nil
}

// Name returns the provider kind
func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

// SupportsTools reports function-calling support
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Invoke makes a chat completion call without tools.
func (p *OpenAIProvider) Invoke(ctx context.Context, turns []conversation.Turn) (Response, error) {
	return p.InvokeWithTools(ctx, turns, nil)
}

// InvokeWithTools makes a chat completion call offering tools.
func (p *OpenAIProvider) InvokeWithTools(ctx context.Context, turns []conversation.Turn, tools []toolexecutor.ToolSchema) (Response, error) {
	messages, err := openAIMessages(turns)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.opts.Model),
		Messages: messages,
	}
	if p.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.opts.MaxTokens))
	}
	if p.opts.Temperature > 0 {
		params.Temperature = openai.Float(p.opts.Temperature)
	}
	for _, tool := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, providerError(ProviderOpenAI, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, ProviderOpenAI, err)
	}
	if len(response.Choices) == 0 {
		return nil, providerError(ProviderOpenAI, errors.New("no response choices returned"))
	}

	choice := response.Choices[0]
	var calls []conversation.ToolCallRequest
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, providerError(ProviderOpenAI, fmt.Errorf("failed to parse tool arguments: %w", err))
			}
		}
		calls = append(calls, conversation.ToolCallRequest{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	usage := &stream.Usage{
		PromptTokens:     int(response.Usage.PromptTokens),
		CompletionTokens: int(response.Usage.CompletionTokens),
		TotalTokens:      int(response.Usage.TotalTokens),
	}
	if usage.TotalTokens == 0 {
		usage = nil
	}
	return classify(choice.Message.Content, calls, usage), nil
}

func openAIMessages(turns []conversation.Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case conversation.RoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case conversation.RoleAssistant:
			if len(t.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(t.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(t.ToolCalls))
			for _, tc := range t.ToolCalls {
				args, err := toolArguments(tc.Args)
				if err != nil {
					return nil, err
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   t.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case conversation.RoleTool:
			messages = append(messages, openai.ToolMessage(t.Content, t.ToolCallID))
		}
	}
	return messages, nil
}

// toolArguments encodes call arguments as a JSON object, "{}" when there are none.
func toolArguments(args map[string]interface{}) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	return string(data), nil
}
