package conversation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownToolCall is returned when a tool turn references no call of the latest assistant turn.
	ErrUnknownToolCall = errors.New("tool turn does not match a pending tool call")
	// ErrDuplicateToolResult is returned when a tool call is answered twice.
	ErrDuplicateToolResult = errors.New("tool call already has a result")
	// ErrPendingToolCalls is returned when a non-tool turn is appended before all tool calls are answered.
	ErrPendingToolCalls = errors.New("latest assistant turn has unanswered tool calls")
	// ErrInvalidTurn is returned for malformed turns.
	ErrInvalidTurn = errors.New("invalid turn")
)

// State is an append-only log of turns plus the bookkeeping needed to resume a tool loop.
type State struct {
	turns []Turn

	// index of the latest assistant turn, -1 if none
	lastAssistant int
	pending       map[string]bool
	answered      map[string]bool
}

// NewState creates a state from previously persisted turns.
func NewState(history []Turn) *State {
	s := &State{
		turns:         make([]Turn, 0, len(history)+4),
		lastAssistant: -1,
		pending:       make(map[string]bool),
		answered:      make(map[string]bool),
	}
	for _, t := range history {
		s.turns = append(s.turns, cloneTurn(t))
	}
	s.rebuild()
	return s
}

func (s *State) rebuild() {
	s.lastAssistant = -1
	s.pending = make(map[string]bool)
	s.answered = make(map[string]bool)

	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleAssistant {
			s.lastAssistant = i
			break
		}
	}
	if s.lastAssistant < 0 {
		return
	}
	for _, call := range s.turns[s.lastAssistant].ToolCalls {
		s.pending[call.ID] = true
	}
	for _, t := range s.turns[s.lastAssistant+1:] {
		if t.Role == RoleTool && s.pending[t.ToolCallID] {
			delete(s.pending, t.ToolCallID)
			s.answered[t.ToolCallID] = true
		}
	}
}

// Append adds a turn after validating it against the pending tool calls.
func (s *State) Append(turn Turn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, turn.Role)
	}

	switch turn.Role {
	case RoleTool:
		if turn.ToolCallID == "" {
			return fmt.Errorf("%w: tool turn without tool_call_id", ErrInvalidTurn)
		}
		if s.answered[turn.ToolCallID] {
			return fmt.Errorf("%w: %s", ErrDuplicateToolResult, turn.ToolCallID)
		}
		if !s.pending[turn.ToolCallID] {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, turn.ToolCallID)
		}
	default:
		if len(s.pending) > 0 {
			return fmt.Errorf("%w: %d outstanding", ErrPendingToolCalls, len(s.pending))
		}
		if len(turn.ToolCalls) > 0 && turn.Role != RoleAssistant {
			return fmt.Errorf("%w: only assistant turns carry tool calls", ErrInvalidTurn)
		}
		if turn.ToolCallID != "" {
			return fmt.Errorf("%w: only tool turns carry tool_call_id", ErrInvalidTurn)
		}
	}

	if turn.Role == RoleAssistant {
		seen := make(map[string]bool, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			if call.ID == "" || call.Name == "" {
				return fmt.Errorf("%w: tool call requires id and name", ErrInvalidTurn)
			}
			if seen[call.ID] {
				return fmt.Errorf("%w: duplicate tool call id %s", ErrInvalidTurn, call.ID)
			}
			seen[call.ID] = true
		}
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.turns = append(s.turns, cloneTurn(turn))

	switch turn.Role {
	case RoleAssistant:
		s.lastAssistant = len(s.turns) - 1
		s.pending = make(map[string]bool, len(turn.ToolCalls))
		s.answered = make(map[string]bool, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			s.pending[call.ID] = true
		}
	case RoleTool:
		delete(s.pending, turn.ToolCallID)
		s.answered[turn.ToolCallID] = true
	}
	return nil
}

// EnsureSystemPrompt inserts prompt as the first turn unless a system turn already exists.
// It reports whether a turn was inserted.
func (s *State) EnsureSystemPrompt(prompt string) bool {
	if prompt == "" {
		return false
	}
	for _, t := range s.turns {
		if t.Role == RoleSystem {
			return false
		}
	}

	s.turns = append([]Turn{{Role: RoleSystem, Content: prompt, Timestamp: time.Now()}}, s.turns...)
	if s.lastAssistant >= 0 {
		s.lastAssistant++
	}
	return true
}

// LastAssistantToolCalls returns the tool calls of the latest assistant turn.
func (s *State) LastAssistantToolCalls() []ToolCallRequest {
	if s.lastAssistant < 0 {
		return nil
	}
	calls := s.turns[s.lastAssistant].ToolCalls
	if len(calls) == 0 {
		return nil
	}
	return cloneTurn(Turn{ToolCalls: calls}).ToolCalls
}

// PendingToolCalls returns the ids of tool calls that still need a tool turn.
func (s *State) PendingToolCalls() []string {
	if s.lastAssistant < 0 {
		return nil
	}
	var ids []string
	for _, call := range s.turns[s.lastAssistant].ToolCalls {
		if s.pending[call.ID] {
			ids = append(ids, call.ID)
		}
	}
	return ids
}

// Snapshot returns a deep copy of the turns.
func (s *State) Snapshot() []Turn {
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = cloneTurn(t)
	}
	return out
}

// Len returns the number of turns.
func (s *State) Len() int {
	return len(s.turns)
}

// LastAssistantContent returns the text of the latest assistant turn.
func (s *State) LastAssistantContent() string {
	if s.lastAssistant < 0 {
		return ""
	}
	return s.turns[s.lastAssistant].Content
}

// Replace swaps the whole history, used when a provider manages history itself.
func (s *State) Replace(turns []Turn) {
	s.turns = s.turns[:0]
	for _, t := range turns {
		s.turns = append(s.turns, cloneTurn(t))
	}
	s.rebuild()
}
