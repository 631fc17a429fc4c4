package conversation

import (
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCallRequest is a model's request to invoke a named tool.
type ToolCallRequest struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Turn is one entry in a conversation.
type Turn struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
}

// ToolCallResult is the outcome of executing one ToolCallRequest.
type ToolCallResult struct {
	RequestID   string                 `json:"request_id"`
	ToolName    string                 `json:"tool_name"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Succeeded   bool                   `json:"succeeded"`
	DisplayText string                 `json:"display_text"`
	Duration    time.Duration          `json:"duration"`
}

// ToTurn renders the result as the tool turn that answers its request.
func (r ToolCallResult) ToTurn() Turn {
	return Turn{
		Role:       RoleTool,
		Content:    r.DisplayText,
		ToolCallID: r.RequestID,
		ToolName:   r.ToolName,
		Timestamp:  time.Now(),
	}
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func cloneTurn(t Turn) Turn {
	if len(t.ToolCalls) == 0 {
		t.ToolCalls = nil
		return t
	}
	calls := make([]ToolCallRequest, len(t.ToolCalls))
	for i, call := range t.ToolCalls {
		calls[i] = ToolCallRequest{ID: call.ID, Name: call.Name, Args: cloneArgs(call.Args)}
	}
	t.ToolCalls = calls
	return t
}
