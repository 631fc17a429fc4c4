package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
	opts   ProviderOptions
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(opts ProviderOptions) (Provider, error) {
	if err := requireAPIKey(ProviderAnthropic, opts); err != nil {
		return nil, err
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(reqOpts...),
		opts:   opts,
	}, nil
}

// Name returns the provider kind
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

// SupportsTools reports tool-use support
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Invoke makes a messages call without tools.
func (p *AnthropicProvider) Invoke(ctx context.Context, turns []conversation.Turn) (Response, error) {
	return p.InvokeWithTools(ctx, turns, nil)
}

// InvokeWithTools makes a messages call offering tools.
func (p *AnthropicProvider) InvokeWithTools(ctx context.Context, turns []conversation.Turn, tools []toolexecutor.ToolSchema) (Response, error) {
	system, rest := systemPrompt(turns)

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.opts.Model),
		Messages:  anthropicMessages(rest),
		MaxTokens: int64(p.opts.MaxTokens),
	}
	if system != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.opts.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(p.opts.Temperature)
	}
	for _, tool := range tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.Parameters["properties"],
			},
		}
		if required, ok := tool.Parameters["required"].([]interface{}); ok {
			names := make([]string, 0, len(required))
			for _, v := range required {
				if s, ok := v.(string); ok {
					names = append(names, s)
				}
			}
			toolParam.InputSchema.Required = names
		}
		reqParams.Tools = append(reqParams.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, providerError(ProviderAnthropic, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, ProviderAnthropic, err)
	}

	content := ""
	var calls []conversation.ToolCallRequest
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if raw := b.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return nil, providerError(ProviderAnthropic, fmt.Errorf("failed to parse tool input: %w", err))
				}
			}
			calls = append(calls, conversation.ToolCallRequest{ID: b.ID, Name: b.Name, Args: args})
		}
	}

	prompt, completion := int(response.Usage.InputTokens), int(response.Usage.OutputTokens)
	var usage *stream.Usage
	if prompt+completion > 0 {
		usage = &stream.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	}
	return classify(content, calls, usage), nil
}

// anthropicMessages converts turns, folding consecutive tool turns into one user message.
func anthropicMessages(turns []conversation.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, t := range turns {
		if t.Role == conversation.RoleTool {
			results = append(results, anthropic.NewToolResultBlock(t.ToolCallID, t.Content, false))
			continue
		}
		flush()

		switch t.Role {
		case conversation.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case conversation.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if t.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Content))
			}
			for _, tc := range t.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		}
	}
	flush()
	return messages
}
