package agent

import (
	"context"
	"fmt"

	"github.com/graphbot-ai/graphbot/pkg/models"
)

// lightAgentIterationLimit bounds LightAgent's reason/execute_tools loop.
// The spec sets this lower than the full Agent Graph's default of 8: a
// LightAgent has no load_context and no session to fall back on, so a
// runaway tool loop is strictly more expensive to let run.
const lightAgentIterationLimit = 5

// LightAgent is a minimal reason -> execute_tools -> respond loop with
// no load_context node: the system prompt and tool subset are supplied
// by the caller (the Delegation Planner's "agent" processor, a monitor
// cron job, the Subagent Worker) instead of being built from user/session
// state.
type LightAgent struct {
	prompt   string
	tools    []Tool
	model    string
	provider ChatProvider
}

// NewLightAgent constructs a LightAgent scoped to prompt and tools,
// using model (empty means "let the provider pick its default") for
// every reasoning call.
func NewLightAgent(provider ChatProvider, prompt string, tools []Tool, model string) *LightAgent {
	return &LightAgent{prompt: prompt, tools: tools, model: model, provider: provider}
}

// RunResult is what Run produces: the final text, a token count, and
// the set of tool names the agent actually called. The Scheduler's
// NOTIFY/SKIP check only needs Text; the "agent owns delivery" rule
// checking whether send_message_to_user actually fired needs CalledTools.
type RunResult struct {
	Text        string
	Tokens      int
	CalledTools map[string]bool
}

// Run executes task against this agent's prompt and tools, looping
// reason -> execute_tools until the model answers in plain text or
// lightAgentIterationLimit is reached.
func (a *LightAgent) Run(ctx context.Context, task string) (RunResult, error) {
	messages := []CompletionMessage{{Role: "user", Content: task}}
	called := make(map[string]bool)
	var totalTokens int

	for iter := 0; iter < lightAgentIterationLimit; iter++ {
		tools := a.tools
		if iter == lightAgentIterationLimit-1 {
			tools = nil
			messages = append(messages, CompletionMessage{
				Role:    "user",
				Content: "Summarize your findings now. Do not make any more tool calls.",
			})
		}

		resp, err := a.provider.Chat(ctx, ChatRequest{
			Model:    a.model,
			System:   a.prompt,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("light_agent: reason: %w", &LoopError{Phase: PhaseStream, Iteration: iter, Cause: err})
		}
		totalTokens += resp.InputTokens + resp.OutputTokens

		if len(resp.ToolCalls) == 0 {
			return RunResult{Text: resp.Text, Tokens: totalTokens, CalledTools: called}, nil
		}

		messages = append(messages, CompletionMessage{Role: "assistant", ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			called[call.Name] = true
		}
		messages = append(messages, CompletionMessage{Role: "tool", ToolResults: a.executeAll(ctx, resp.ToolCalls)})
	}

	return RunResult{}, fmt.Errorf("light_agent: %w", &LoopError{Phase: PhaseContinue, Iteration: lightAgentIterationLimit, Cause: ErrMaxIterations})
}

func (a *LightAgent) findTool(name string) Tool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (a *LightAgent) executeAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	out := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		tool := a.findTool(call.Name)
		if tool == nil {
			out = append(out, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("tool %q not available to this agent", call.Name),
				IsError:    true,
			})
			continue
		}
		res, err := tool.Execute(ctx, call.Input)
		if err != nil {
			out = append(out, models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true})
			continue
		}
		out = append(out, models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: res.IsError})
	}
	return out
}
