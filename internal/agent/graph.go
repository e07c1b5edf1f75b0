package agent

import (
	"context"
	"encoding/json"
	"fmt"

	agentcontext "github.com/graphbot-ai/graphbot/internal/agent/context"
	"github.com/graphbot-ai/graphbot/internal/rbac"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// GraphConfig configures one Graph instance.
type GraphConfig struct {
	Model          string
	IterationLimit int // default 8, per assistant.iteration_limit
	MaxTokens      int
}

// Graph is the four-node state machine (load_context, reason,
// execute_tools, respond) that drives one turn of conversation. It is
// the synchronous core GraphRunner.Process repeatedly re-enters until
// the model stops requesting tools or the iteration limit is hit.
type Graph struct {
	store       store.Store
	permissions *rbac.Permissions
	registry    *ToolRegistry
	builder     *agentcontext.Builder
	provider    ChatProvider
	executor    *Executor
	cfg         GraphConfig
}

func NewGraph(st store.Store, perms *rbac.Permissions, registry *ToolRegistry, builder *agentcontext.Builder, provider ChatProvider, cfg GraphConfig) *Graph {
	if cfg.IterationLimit <= 0 {
		cfg.IterationLimit = 8
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Graph{
		store:       st,
		permissions: perms,
		registry:    registry,
		builder:     builder,
		provider:    provider,
		executor:    NewExecutor(registry, DefaultExecutorConfig()),
		cfg:         cfg,
	}
}

// turnResult is what one full pass of the graph produces for the caller
// to persist and deliver.
type turnResult struct {
	Reply        string
	InputTokens  int
	OutputTokens int
}

// Run drives load_context -> reason -> execute_tools -> respond,
// looping back to reason after every tool batch until the model answers
// in plain text or the iteration limit is reached.
func (g *Graph) Run(ctx context.Context, user *models.User, session *models.Session, history []CompletionMessage, channel models.ChannelType) (turnResult, error) {
	systemPrompt, err := g.loadContext(ctx, user, session)
	if err != nil {
		return turnResult{}, fmt.Errorf("graph: load_context: %w", err)
	}

	allowedTools := g.permissions.AllowedTools(user.Role, g.registry)
	llmTools := g.scopedTools(allowedTools)

	messages := append([]CompletionMessage{}, history...)
	var totalIn, totalOut int

	for iter := 0; iter < g.cfg.IterationLimit; iter++ {
		resp, err := g.reason(ctx, systemPrompt, messages, llmTools)
		if err != nil {
			return turnResult{}, fmt.Errorf("graph: reason: %w", &LoopError{Phase: PhaseStream, Iteration: iter, Cause: err})
		}
		totalIn += resp.InputTokens
		totalOut += resp.OutputTokens

		if len(resp.ToolCalls) == 0 {
			return turnResult{Reply: resp.Text, InputTokens: totalIn, OutputTokens: totalOut}, nil
		}

		messages = append(messages, CompletionMessage{Role: "assistant", ToolCalls: resp.ToolCalls})

		results := g.executeTools(ctx, resp.ToolCalls, allowedTools, channel)
		messages = append(messages, CompletionMessage{Role: "tool", ToolResults: results})
	}

	return turnResult{}, fmt.Errorf("graph: %w", &LoopError{Phase: PhaseContinue, Iteration: g.cfg.IterationLimit, Cause: ErrMaxIterations})
}

// loadContext is the load_context node: it renders the eight-layer
// system prompt for this user/session pair.
func (g *Graph) loadContext(ctx context.Context, user *models.User, session *models.Session) (string, error) {
	return g.builder.Build(ctx, user, session)
}

// reason is the reason node: one ChatProvider.Chat call against the
// current transcript.
func (g *Graph) reason(ctx context.Context, system string, messages []CompletionMessage, tools []Tool) (ChatResponse, error) {
	return g.provider.Chat(ctx, ChatRequest{
		Model:     g.cfg.Model,
		System:    system,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: g.cfg.MaxTokens,
	})
}

// executeTools is the execute_tools node. Tool calls run sequentially,
// one at a time, matching the spec's per-call permission-check semantics:
// a denied call synthesizes an inline error result rather than aborting
// the whole batch, and channel is auto-injected into any tool call whose
// schema accepts it so the model never has to name its own channel.
func (g *Graph) executeTools(ctx context.Context, calls []models.ToolCall, allowed map[string]bool, channel models.ChannelType) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		if !allowed[call.Name] {
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("permission denied: role may not use tool %q", call.Name),
				IsError:    true,
			})
			continue
		}

		call.Input = injectChannel(call.Input, channel)
		res := g.executor.Execute(ctx, call)
		if res.Error != nil {
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    res.Error.Error(),
				IsError:    true,
			})
			continue
		}
		results = append(results, models.ToolResult{
			ToolCallID: call.ID,
			Content:    res.Result.Content,
			IsError:    res.Result.IsError,
		})
	}
	return results
}

func (g *Graph) scopedTools(allowed map[string]bool) []Tool {
	all := g.registry.AsLLMTools()
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if allowed[t.Name()] {
			out = append(out, t)
		}
	}
	return out
}

// injectChannel merges a "channel" field into a tool call's JSON input if
// the field is absent, so channel-aware tools (send_message_to_user, the
// delegate tool) never have to be told which channel they're running
// under by the model itself.
func injectChannel(input json.RawMessage, channel models.ChannelType) json.RawMessage {
	if channel == "" {
		return input
	}
	var fields map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &fields); err != nil {
			return input
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	if _, ok := fields["channel"]; ok {
		return input
	}
	fields["channel"] = string(channel)
	out, err := json.Marshal(fields)
	if err != nil {
		return input
	}
	return out
}
