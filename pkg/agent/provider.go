package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
)

// Provider is a model vendor adapter.
type Provider interface {
	// Name returns the provider kind.
	Name() string
	// SupportsTools reports whether InvokeWithTools may be used.
	SupportsTools() bool
	// Invoke makes a plain model call.
	Invoke(ctx context.Context, turns []conversation.Turn) (Response, error)
	// InvokeWithTools makes a model call offering tools.
	InvokeWithTools(ctx context.Context, turns []conversation.Turn, tools []toolexecutor.ToolSchema) (Response, error)
}

// Credentials holds access settings for one provider kind.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// ProviderOptions configures one provider instance.
type ProviderOptions struct {
	Credentials
	Model       string
	Temperature float64
	MaxTokens   int
}

// ProviderConstructor builds a provider from options.
type ProviderConstructor func(opts ProviderOptions) (Provider, error)

// ProviderFactory creates providers by kind from configured credentials.
type ProviderFactory struct {
	mu           sync.RWMutex
	credentials  map[string]Credentials
	constructors map[string]ProviderConstructor
}

// NewProviderFactory creates a factory with the built-in provider kinds.
func NewProviderFactory(credentials map[string]Credentials) *ProviderFactory {
	f := &ProviderFactory{
		credentials: make(map[string]Credentials, len(credentials)),
		constructors: map[string]ProviderConstructor{
			ProviderOpenAI:    NewOpenAIProvider,
			ProviderAnthropic: NewAnthropicProvider,
			ProviderGemini:    NewGeminiProvider,
		},
	}
	for kind, c := range credentials {
		f.credentials[NormalizeProviderKind(kind)] = c
	}
	return f
}

// RegisterConstructor adds or replaces the constructor for kind.
func (f *ProviderFactory) RegisterConstructor(kind string, fn ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[NormalizeProviderKind(kind)] = fn
}

// SetCredentials replaces the credentials for kind.
func (f *ProviderFactory) SetCredentials(kind string, c Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials[NormalizeProviderKind(kind)] = c
}

// Create builds a provider of kind for model. Credentials configured for kind
// fill in whatever opts leaves empty.
func (f *ProviderFactory) Create(kind, model string, opts ProviderOptions) (Provider, error) {
	kind = NormalizeProviderKind(kind)

	f.mu.RLock()
	fn, ok := f.constructors[kind]
	creds := f.credentials[kind]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	opts.Model = model
	if opts.APIKey == "" {
		opts.APIKey = creds.APIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = creds.BaseURL
	}
	return fn(opts)
}

// Supports reports whether kind has a constructor.
func (f *ProviderFactory) Supports(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.constructors[NormalizeProviderKind(kind)]
	return ok
}

// Available lists provider kinds with an API key configured.
func (f *ProviderFactory) Available() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var kinds []string
	for kind, c := range f.credentials {
		if _, ok := f.constructors[kind]; ok && c.APIKey != "" {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func requireAPIKey(kind string, opts ProviderOptions) error {
	if strings.TrimSpace(opts.APIKey) == "" {
		return fmt.Errorf("%w: %s api key not configured", ErrProviderUnavailable, kind)
	}
	if opts.Model == "" {
		return fmt.Errorf("%s: model is required", kind)
	}
	return nil
}

// systemPrompt joins system turns and returns the remaining turns.
func systemPrompt(turns []conversation.Turn) (string, []conversation.Turn) {
	var parts []string
	rest := make([]conversation.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == conversation.RoleSystem {
			if t.Content != "" {
				parts = append(parts, t.Content)
			}
			continue
		}
		rest = append(rest, t)
	}
	return strings.Join(parts, "\n\n"), rest
}

// classify turns raw provider output into a Response.
func classify(content string, calls []conversation.ToolCallRequest, usage *stream.Usage) Response {
	if len(calls) > 0 {
		return ToolCallsRequested{Content: content, Calls: calls, Usage: usage}
	}
	return TerminalText{Content: content, Usage: usage}
}

func providerError(kind string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderError, kind, err)
}
