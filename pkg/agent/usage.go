package agent

import (
	"sync"
	"unicode/utf8"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/pkoukk/tiktoken-go"
)

// UsageEstimator counts tokens for providers that report no usage.
// Encoders are loaded lazily per model; without one it falls back to about four characters per token.
type UsageEstimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	load     func(model string) (*tiktoken.Tiktoken, error)
}

// NewUsageEstimator creates an estimator backed by tiktoken encodings.
func NewUsageEstimator() *UsageEstimator {
	return &UsageEstimator{
		encoders: make(map[string]*tiktoken.Tiktoken),
		load:     loadEncoding,
	}
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding("cl100k_base")
}

func (e *UsageEstimator) encoder(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[model]; ok {
		return enc
	}
	var enc *tiktoken.Tiktoken
	if e.load != nil {
		enc, _ = e.load(model)
	}
	// a failed load is cached as nil so it is not retried per call
	e.encoders[model] = enc
	return enc
}

// Count returns the token count of text for model.
func (e *UsageEstimator) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoder(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Estimate approximates usage of one model call from its input turns and output text.
func (e *UsageEstimator) Estimate(model string, prompt []conversation.Turn, completion string) stream.Usage {
	u := stream.Usage{}
	for _, t := range prompt {
		u.PromptTokens += e.Count(model, t.Content)
	}
	u.CompletionTokens = e.Count(model, completion)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
