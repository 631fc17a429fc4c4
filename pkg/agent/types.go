package agent

import (
	"errors"
	"strings"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/stream"
)

var (
	// ErrProviderUnavailable means a provider cannot be reached or is not configured.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderError means a provider rejected or failed a request.
	ErrProviderError = errors.New("provider error")
	// ErrUnknownProvider is returned for provider kinds with no constructor.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnknownAgentClass is returned for agent classes missing from the class table.
	ErrUnknownAgentClass = errors.New("unknown agent class")
	// ErrAgentNotFound is returned when no agent is configured under a name.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrDelegationCycle is returned when an agent would be asked by a run it already takes part in.
	ErrDelegationCycle = errors.New("delegation cycle")
	// ErrDelegationDepth is returned when nested delegation goes deeper than MaxDelegationDepth.
	ErrDelegationDepth = errors.New("delegation too deep")
)

// MaxDelegationDepth caps how many delegated runs may be nested below a top-level run.
const MaxDelegationDepth = 4

// DefaultClass is the class used when a definition names none.
const DefaultClass = "custom"

// DefaultMaxIterations caps model calls per run when a definition sets no limit.
const DefaultMaxIterations = 20

// Provider kinds.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ProviderKinds lists the built-in provider kinds.
func ProviderKinds() []string {
	return []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini}
}

// NormalizeProviderKind lowercases kind and resolves aliases.
func NormalizeProviderKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "claude":
		return ProviderAnthropic
	case "google":
		return ProviderGemini
	}
	return kind
}

// Definition is the configuration of one agent.
type Definition struct {
	Name             string   `json:"name" mapstructure:"name"`
	Description      string   `json:"description,omitempty" mapstructure:"description"`
	Class            string   `json:"class" mapstructure:"class"`
	Provider         string   `json:"model_type" mapstructure:"model_type"`
	Model            string   `json:"model_name" mapstructure:"model_name"`
	SystemPrompt     string   `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature      float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens        int      `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Tools            []string `json:"tools,omitempty" mapstructure:"tools"`
	Delegates        []string `json:"delegates,omitempty" mapstructure:"delegates"`
	ParallelTools    *bool    `json:"parallel_tools,omitempty" mapstructure:"parallel_tools"`
	MaxParallelTools int      `json:"max_parallel_tools,omitempty" mapstructure:"max_parallel_tools"`
	MaxIterations    int      `json:"max_iterations,omitempty" mapstructure:"max_iterations"`
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted              Outcome = "completed"
	OutcomeIterationLimitExceeded Outcome = "iteration_limit_exceeded"
	OutcomeCancelled              Outcome = "cancelled"
)

// IterationLimitMessage is the content of a run stopped by the iteration cap.
const IterationLimitMessage = "maximum iterations reached"

// Response is what a provider returned for one model call. It is one of
// TerminalText, ToolCallsRequested or ProviderManagedHistory.
type Response interface {
	usage() *stream.Usage
}

// TerminalText is a final answer with no tool calls.
type TerminalText struct {
	Content string
	Usage   *stream.Usage
}

// ToolCallsRequested asks the loop to execute Calls and call the model again.
type ToolCallsRequested struct {
	Content string
	Calls   []conversation.ToolCallRequest
	Usage   *stream.Usage
}

// ProviderManagedHistory is returned by providers that run their own tool loop.
// Turns replaces the conversation and the run ends with its last assistant content.
type ProviderManagedHistory struct {
	Turns []conversation.Turn
	Usage *stream.Usage
}

func (r TerminalText) usage() *stream.Usage           { return r.Usage }
func (r ToolCallsRequested) usage() *stream.Usage     { return r.Usage }
func (r ProviderManagedHistory) usage() *stream.Usage { return r.Usage }

// RunParams is the input to one run.
type RunParams struct {
	ConversationID string `json:"conversation_id"`
	AgentName      string `json:"agent"`
	Message        string `json:"message"`
}

// RunResult is the outcome of one run.
type RunResult struct {
	ConversationID string              `json:"conversation_id"`
	AgentName      string              `json:"agent"`
	Content        string              `json:"content"`
	Outcome        Outcome             `json:"outcome"`
	Usage          stream.Usage        `json:"usage"`
	Iterations     int                 `json:"iterations"`
	Turns          []conversation.Turn `json:"-"`
}

func addUsage(total *stream.Usage, u stream.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
