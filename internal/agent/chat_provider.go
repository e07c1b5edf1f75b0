package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphbot-ai/graphbot/pkg/models"
)

// ChatProvider is the synchronous LLM surface the Agent Graph, LightAgent,
// and Delegation Planner all call against. It adapts LLMProvider's
// streaming Complete into the four blocking calls the spec's components
// were designed around.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStructured(ctx context.Context, req ChatRequest, schema json.RawMessage) (json.RawMessage, error)
	Summarize(ctx context.Context, messages []*models.Message, maxLength int) (string, error)
	ExtractFacts(ctx context.Context, messages []*models.Message) ([]string, error)
}

// ChatRequest mirrors CompletionRequest's shape minus the streaming
// concern; Graph/LightAgent build one per turn.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int
}

// ChatResponse is one drained completion: either a final text answer or a
// batch of tool calls the caller must execute before continuing.
type ChatResponse struct {
	Text         string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
}

// ProviderChatAdapter wraps an LLMProvider to satisfy ChatProvider by
// draining Complete's channel synchronously.
type ProviderChatAdapter struct {
	Provider LLMProvider
}

func NewChatProvider(p LLMProvider) *ProviderChatAdapter {
	return &ProviderChatAdapter{Provider: p}
}

func (a *ProviderChatAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if a.Provider == nil {
		return ChatResponse{}, ErrNoProvider
	}
	chunks, err := a.Provider.Complete(ctx, &CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat: %w", err)
	}

	var out ChatResponse
	var text strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return ChatResponse{}, fmt.Errorf("chat: %w", chunk.Error)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			out.InputTokens = chunk.InputTokens
			out.OutputTokens = chunk.OutputTokens
		}
	}
	out.Text = text.String()
	return out, nil
}

// ChatStructured asks the model to answer with a single tool call
// conforming to schema, matching the common "force tool choice" pattern
// for structured output; the Delegation Planner is ChatStructured's only
// caller today.
func (a *ProviderChatAdapter) ChatStructured(ctx context.Context, req ChatRequest, schema json.RawMessage) (json.RawMessage, error) {
	const structuredToolName = "emit_result"
	structuredTool := structuredOutputTool{name: structuredToolName, schema: schema}
	req.Tools = append(append([]Tool{}, req.Tools...), structuredTool)

	resp, err := a.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, tc := range resp.ToolCalls {
		if tc.Name == structuredToolName {
			return json.RawMessage(tc.Input), nil
		}
	}
	return nil, fmt.Errorf("chat_structured: model did not return a %s call", structuredToolName)
}

// Summarize is best-effort: callers (rotate_session) must never let a
// summarization failure abort the rotation.
func (a *ProviderChatAdapter) Summarize(ctx context.Context, messages []*models.Message, maxLength int) (string, error) {
	prompt := buildSummarizationPrompt(messages, maxLength)
	resp, err := a.Chat(ctx, ChatRequest{
		Messages:  []CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// ExtractFacts is also best-effort: a failed extraction yields zero new
// facts rather than raising.
func (a *ProviderChatAdapter) ExtractFacts(ctx context.Context, messages []*models.Message) ([]string, error) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"facts": {"type": "array", "items": {"type": "string"}}},
		"required": ["facts"]
	}`)
	prompt := buildFactExtractionPrompt(messages)
	raw, err := a.ChatStructured(ctx, ChatRequest{
		Messages:  []CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: 512,
	}, schema)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return parsed.Facts, nil
}

func buildSummarizationPrompt(messages []*models.Message, maxLength int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Summarize the following conversation in at most %d characters. Focus on durable facts and open threads, not pleasantries.\n\n", maxLength))
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func buildFactExtractionPrompt(messages []*models.Message) string {
	var b strings.Builder
	b.WriteString("Extract any durable facts about the user worth remembering across sessions (preferences, identity, recurring context). Return an empty list if there are none.\n\n")
	for _, m := range messages {
		if m.Role == models.RoleUser {
			b.WriteString("user: ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// structuredOutputTool is a synthetic Tool offered to the model so a
// chat_structured call can reuse the normal tool-calling path instead of
// needing a separate provider API.
type structuredOutputTool struct {
	name   string
	schema json.RawMessage
}

func (t structuredOutputTool) Name() string               { return t.name }
func (t structuredOutputTool) Description() string        { return "Emit the final structured result." }
func (t structuredOutputTool) Schema() json.RawMessage     { return t.schema }
func (t structuredOutputTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: string(params)}, nil
}
