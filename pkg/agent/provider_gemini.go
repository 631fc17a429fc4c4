package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
	opts   ProviderOptions
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(opts ProviderOptions) (Provider, error) {
	if err := requireAPIKey(ProviderGemini, opts); err != nil {
		return nil, err
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", ErrProviderUnavailable, err)
	}
	return &GeminiProvider{client: client, opts: opts}, nil
}

// Name returns the provider kind
func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

// SupportsTools reports function-calling support
func (p *GeminiProvider) SupportsTools() bool {
	return true
}

// Invoke makes a generate-content call without tools.
func (p *GeminiProvider) Invoke(ctx context.Context, turns []conversation.Turn) (Response, error) {
	return p.InvokeWithTools(ctx, turns, nil)
}

// InvokeWithTools makes a generate-content call offering tools.
func (p *GeminiProvider) InvokeWithTools(ctx context.Context, turns []conversation.Turn, tools []toolexecutor.ToolSchema) (Response, error) {
	system, rest := systemPrompt(turns)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if p.opts.Temperature > 0 {
		temp := float32(p.opts.Temperature)
		cfg.Temperature = &temp
	}
	if p.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.opts.MaxTokens)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.opts.Model, geminiContents(rest), cfg)
	if err != nil {
		return nil, providerError(ProviderGemini, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		reason := "no candidates returned"
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return nil, providerError(ProviderGemini, errors.New(reason))
	}

	content := ""
	var calls []conversation.ToolCallRequest
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + gonanoid.Must(12)
			}
			calls = append(calls, conversation.ToolCallRequest{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
			continue
		}
		content += part.Text
	}

	var usage *stream.Usage
	if m := resp.UsageMetadata; m != nil && m.TotalTokenCount > 0 {
		usage = &stream.Usage{
			PromptTokens:     int(m.PromptTokenCount),
			CompletionTokens: int(m.CandidatesTokenCount),
			TotalTokens:      int(m.TotalTokenCount),
		}
	}
	return classify(content, calls, usage), nil
}

// geminiContents converts turns, folding consecutive tool turns into one user content.
func geminiContents(turns []conversation.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	var responses []*genai.Part

	flush := func() {
		if len(responses) > 0 {
			contents = append(contents, genai.NewContentFromParts(responses, genai.RoleUser))
			responses = nil
		}
	}

	for _, t := range turns {
		if t.Role == conversation.RoleTool {
			part := genai.NewPartFromFunctionResponse(t.ToolName, map[string]any{"output": t.Content})
			part.FunctionResponse.ID = t.ToolCallID
			responses = append(responses, part)
			continue
		}
		flush()

		switch t.Role {
		case conversation.RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		case conversation.RoleAssistant:
			parts := make([]*genai.Part, 0, len(t.ToolCalls)+1)
			if t.Content != "" {
				parts = append(parts, genai.NewPartFromText(t.Content))
			}
			for _, tc := range t.ToolCalls {
				part := genai.NewPartFromFunctionCall(tc.Name, tc.Args)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		}
	}
	flush()
	return contents
}
