// Package conversation holds the ordered turn log a single agent run works on.
//
// Invariants:
// - Every tool turn answers exactly one call from the most recent assistant turn.
// - No user or assistant turn is appended while calls of the latest assistant turn are unanswered.
// - At most one system turn is inserted automatically, and only when none exists.
//
// A State is owned by one run at a time and is not safe for concurrent mutation.
//
// Usage:
//
//	state := conversation.NewState(history)
//	state.EnsureSystemPrompt("You are a helpful assistant.")
//	_ = state.Append(conversation.Turn{Role: conversation.RoleUser, Content: "2+2?"})
package conversation
