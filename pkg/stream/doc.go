// Package stream delivers per-conversation tool lifecycle and usage events to a live subscriber.
//
// Invariants:
// - Publish never blocks; a full queue evicts its oldest event.
// - Publishing to a conversation without a stream is a no-op.
// - A subscriber receives keepalives while idle and is released after the idle timeout or a kill.
// - Killed and idle streams are reclaimed by Sweep, typically driven by a Sweeper.
//
// Usage:
//
//	reg := stream.NewRegistry(stream.DefaultConfig(), logger)
//	reg.GetOrCreate("conv-1")
//	reg.Publish("conv-1", stream.ToolExecutionStart("call-1", "calculator"))
//	for ev := range reg.Subscribe(ctx, "conv-1") {
//		...
//	}
package stream
