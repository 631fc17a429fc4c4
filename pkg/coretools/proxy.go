package coretools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/harun/agentflow/pkg/toolexecutor"
)

const proxyPrefix = "ask_"

// AgentAsker runs a named agent on a fresh conversation and returns its answer.
type AgentAsker interface {
	Ask(ctx context.Context, agentName, message string) (string, error)
}

// ProxyToolName is the tool name under which agentName is exposed to other agents.
func ProxyToolName(agentName string) string {
	return proxyPrefix + agentName
}

// ProxyDescription derives a tool description from the first sentence of an agent's system prompt.
func ProxyDescription(agentName, systemPrompt string) string {
	first := strings.TrimSpace(strings.SplitN(systemPrompt, ".", 2)[0])
	if first == "" {
		return fmt.Sprintf("Call the %s agent for specialized assistance", agentName)
	}
	if utf8.RuneCountInString(first) > 100 {
		first = string([]rune(first)[:100]) + "..."
	}
	return "Agent: " + first
}

// AgentProxyTool exposes agentName as a tool taking a single message.
func AgentProxyTool(agentName, systemPrompt string, asker AgentAsker) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ProxyToolName(agentName),
		Description: ProxyDescription(agentName, systemPrompt),
		Parameters: []toolexecutor.ToolParameter{
			{Name: "message", Type: "string", Description: "The message or task to send to the agent"},
		},
		Capability: toolexecutor.CapabilityFunc(func(ctx context.Context, args map[string]interface{}) (toolexecutor.ToolOutcome, error) {
			message, _ := args["message"].(string)
			if strings.TrimSpace(message) == "" {
				message = "Hello, can you tell me what you can do and how you can help?"
			}
			answer, err := asker.Ask(ctx, agentName, message)
			if err != nil {
				return toolexecutor.Failure("%s agent failed: %v", agentName, err), nil
			}
			return toolexecutor.Success(map[string]interface{}{
				"agent":            agentName,
				"response":         answer,
				"formatted_result": answer,
			}), nil
		}),
	}
}
