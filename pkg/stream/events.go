package stream

import (
	"time"
)

// EventType tags a stream event.
type EventType string

const (
	EventToolCallStart         EventType = "tool_call_start"
	EventToolExecutionStart    EventType = "tool_execution_start"
	EventToolExecutionComplete EventType = "tool_execution_complete"
	EventToolExecutionError    EventType = "tool_execution_error"
	EventUsage                 EventType = "usage"
	EventKeepalive             EventType = "keepalive"
	EventKilled                EventType = "killed"
)

// Usage carries token accounting for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is one item delivered to a conversation's subscriber.
// Only the fields relevant to Type are set.
type Event struct {
	Type           EventType              `json:"type"`
	ConversationID string                 `json:"conversation_id"`
	Seq            uint64                 `json:"seq"`
	ToolName       string                 `json:"tool_name,omitempty"`
	ToolCallID     string                 `json:"tool_call_id,omitempty"`
	Args           map[string]interface{} `json:"args,omitempty"`
	Result         interface{}            `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	DurationMs     int64                  `json:"duration_ms,omitempty"`
	Usage          *Usage                 `json:"usage,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Publisher accepts events for a conversation. Implementations must not block.
type Publisher interface {
	Publish(conversationID string, event Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, Event) {}

func ToolCallStart(id, name string, args map[string]interface{}) Event {
	return Event{Type: EventToolCallStart, ToolCallID: id, ToolName: name, Args: args}
}

func ToolExecutionStart(id, name string) Event {
	return Event{Type: EventToolExecutionStart, ToolCallID: id, ToolName: name}
}

func ToolExecutionComplete(id, name string, result interface{}, d time.Duration) Event {
	return Event{Type: EventToolExecutionComplete, ToolCallID: id, ToolName: name, Result: result, DurationMs: d.Milliseconds()}
}

func ToolExecutionError(id, name, errMsg string, d time.Duration) Event {
	return Event{Type: EventToolExecutionError, ToolCallID: id, ToolName: name, Error: errMsg, DurationMs: d.Milliseconds()}
}

func UsageReport(u Usage) Event {
	return Event{Type: EventUsage, Usage: &u}
}

func keepalive(conversationID string) Event {
	return Event{Type: EventKeepalive, ConversationID: conversationID, Timestamp: time.Now()}
}
