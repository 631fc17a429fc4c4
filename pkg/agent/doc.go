// Package agent runs model orchestration loops for configured agents.
//
// Invariants:
// - Runs on one conversation are serialized through the commandqueue lane conversation:<id>.
// - The model is invoked at most MaxIterations times per run.
// - Tool calls route through toolexecutor only; tool turns are appended in request order.
// - Provider responses are classified once, at the provider boundary, into a Response variant.
//
// Usage:
//
//	registry := agent.NewRegistry(agent.NewProviderFactory(creds), catalog, logger)
//	_ = registry.Reload(cfg.AgentDefinitions())
//	runner, _ := agent.NewRunner(agent.RunnerConfig{Registry: registry, Streams: streams, Store: store, Queue: queue})
//	result, _ := runner.Run(ctx, agent.RunParams{ConversationID: id, AgentName: "assistant", Message: "6*7?"})
//	_ = result.Content
package agent
