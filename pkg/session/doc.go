// Package session persists conversation histories.
//
// Invariants:
// - Conversation ids are validated before touching storage.
// - Save replaces the stored history atomically.
// - Load of an unknown id returns an empty history, not an error.
//
// Usage:
//
//	store, err := session.Open("jsonl", dir, logger)
//	turns, err := store.Load(ctx, id)
//	err = store.Save(ctx, id, turns, session.Metadata{AgentName: "assistant"})
package session
