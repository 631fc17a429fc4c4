// Package toolexecutor resolves and runs the tools an agent may call.
//
// Invariants:
// - Tool names are unique within a Catalog.
// - Arguments are schema-validated before a capability runs.
// - Execute returns exactly one result per request, in request order.
// - A missing tool, invalid arguments, a panic or a timeout yield a failed result; Execute never fails as a whole.
// - Parallel batches never run more than Policy.MaxConcurrency capabilities at once.
//
// Usage:
//
//	catalog := toolexecutor.NewCatalog()
//	_ = catalog.Register(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	exec := toolexecutor.NewExecutor(catalog, registry, logger)
//	results := exec.Execute(ctx, "conv-1", requests, toolexecutor.ParallelPolicy(3))
package toolexecutor
