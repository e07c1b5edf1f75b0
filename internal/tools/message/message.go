package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphbot-ai/graphbot/internal/agent"
	"github.com/graphbot-ai/graphbot/internal/channels"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// Tool implements send_message_to_user: the only way a LightAgent's output
// reaches a user under the agent processor (spec's "agent owns delivery"
// rule), and what the cross-channel/cross-user delegation scenarios name.
type Tool struct {
	name string
	port *channels.Port
	st   store.Store
}

// NewTool creates a message tool bound to the shared Channel Port, so every
// send — main-graph, delegated, or scheduled — picks up the same bot-voice
// prefix and chunking policy.
func NewTool(name string, port *channels.Port, st store.Store) *Tool {
	if strings.TrimSpace(name) == "" {
		name = "send_message_to_user"
	}
	return &Tool{name: name, port: port, st: st}
}

func (t *Tool) Name() string { return t.name }

func (t *Tool) Description() string {
	return "Send a message to a user on a channel. target_user defaults to the caller; " +
		"set it to deliver to a different registered user (cross-user delivery)."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_user": map[string]interface{}{
				"type":        "string",
				"description": "User ID to deliver to. Omit to message the calling user.",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel to deliver on (telegram, discord, slack, whatsapp, ...). Omit to use the caller's current channel.",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message text to send.",
			},
		},
		"required": []string{"message"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// callContext carries the caller's identity into Execute, set by whichever
// dispatcher (GraphRunner, LightAgentDispatcher, Scheduler) invokes this
// tool, so it can default target_user/channel to "whoever is running me, on
// whatever channel they're on" without the LLM repeating that back.
type callContext struct {
	UserID  string
	Channel models.ChannelType
}

type contextKey struct{}

// WithCallContext attaches the caller's user and channel to ctx for the
// duration of a tool call.
func WithCallContext(ctx context.Context, userID string, channel models.ChannelType) context.Context {
	return context.WithValue(ctx, contextKey{}, callContext{UserID: userID, Channel: channel})
}

func callContextFrom(ctx context.Context) (callContext, bool) {
	cc, ok := ctx.Value(contextKey{}).(callContext)
	return cc, ok
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.port == nil {
		return toolError("channel port unavailable"), nil
	}
	var input struct {
		TargetUser string `json:"target_user"`
		Channel    string `json:"channel"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	content := strings.TrimSpace(input.Message)
	if content == "" {
		return toolError("message is required"), nil
	}

	cc, _ := callContextFrom(ctx)
	targetUser := strings.TrimSpace(input.TargetUser)
	if targetUser == "" {
		targetUser = cc.UserID
	}
	channel := models.ChannelType(strings.ToLower(strings.TrimSpace(input.Channel)))
	if channel == "" {
		channel = cc.Channel
	}
	if targetUser == "" {
		return toolError("no target_user resolvable and no caller context set"), nil
	}
	if channel == "" {
		return toolError("no channel resolvable and no caller context set"), nil
	}

	if err := t.port.Send(ctx, targetUser, channel, content); err != nil {
		return toolError(fmt.Sprintf("send message: %v", err)), nil
	}

	payload, err := json.Marshal(map[string]string{
		"status":      "sent",
		"target_user": targetUser,
		"channel":     string(channel),
	})
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
