// Package toolexecutor is the tool gateway: heterogeneous local tools behind
// one Invoke(name, input) -> Result contract.
//
// Invariants:
// - Tool names are unique; schemas are reported in registration order.
// - Parameters are schema-validated before execution.
// - Invoke never returns an error; failures surface as Result.Error.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (toolexecutor.Result, error) {
//			return toolexecutor.Result{Output: params["text"].(string)}, nil
//		},
//	})
//	res := exec.Invoke(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
