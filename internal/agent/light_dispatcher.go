package agent

import (
	"context"
	"fmt"

	"github.com/graphbot-ai/graphbot/pkg/models"
)

// LightAgentDispatcher spawns a fresh LightAgent per call, scoped to the
// background-safe tool subregistry, and is what the Scheduler and
// Subagent Worker hold behind their own narrow AgentDispatcher/Spawner
// interfaces so neither package needs to import the rest of this one.
type LightAgentDispatcher struct {
	provider ChatProvider
	registry *ToolRegistry
}

func NewLightAgentDispatcher(provider ChatProvider, registry *ToolRegistry) *LightAgentDispatcher {
	return &LightAgentDispatcher{provider: provider, registry: registry}
}

// RunPlan runs prompt through a LightAgent restricted to toolNames
// (resolved against the background-safe subregistry) and the given
// model override, returning its final text. channel and userID are
// accepted for signature compatibility with callers that route delivery
// through send_message_to_user's channel auto-injection; RunPlan itself
// does not deliver anything.
func (d *LightAgentDispatcher) RunPlan(ctx context.Context, userID string, channel models.ChannelType, prompt string, toolNames []string, model string) (string, error) {
	safe := d.registry.Subregistry()
	tools := make([]Tool, 0, len(toolNames))
	for _, name := range toolNames {
		if t, ok := safe.Get(name); ok {
			tools = append(tools, t)
		}
	}

	la := NewLightAgent(d.provider, prompt, tools, model)
	result, err := la.Run(ctx, "Begin the task described in your instructions now.")
	if err != nil {
		return "", fmt.Errorf("light_agent_dispatcher: %w", err)
	}
	return result.Text, nil
}
