// Package delegation plans background work: one structured-output LLM
// call turns a task description into a typed ExecutionPlan, which the
// Scheduler and Subagent Worker then carry out without further LLM
// involvement for the static and function processors.
package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graphbot-ai/graphbot/internal/agent"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// Execution names the plan's WHEN axis.
type Execution string

const (
	ExecutionImmediate Execution = "immediate"
	ExecutionDelayed   Execution = "delayed"
	ExecutionRecurring Execution = "recurring"
	ExecutionMonitor   Execution = "monitor"
)

// Plan is the Delegation Planner's typed output: two orthogonal axes
// (Execution = WHEN, Processor = HOW) plus the fields each combination
// needs. A zero Plan is never valid; Validate enforces the combinations
// the planner's prompt documents.
type Plan struct {
	Execution       Execution              `json:"execution"`
	Processor       models.Processor       `json:"processor"`
	DelaySeconds    *int                   `json:"delay_seconds,omitempty"`
	CronExpr        *string                `json:"cron_expr,omitempty"`
	NotifyCondition models.NotifyCondition `json:"notify_condition,omitempty"`
	Channel         *string                `json:"channel,omitempty"`

	Message  *string         `json:"message,omitempty"`
	ToolName *string         `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
	Prompt   *string         `json:"prompt,omitempty"`
	Tools    []string        `json:"tools,omitempty"`
	Model    *string         `json:"model,omitempty"`
}

// ErrPlanInvalid is fatal: per spec the delegating caller must surface a
// synthetic "planning failed" tool result rather than retry silently.
type ErrPlanInvalid struct {
	Reason string
}

func (e *ErrPlanInvalid) Error() string {
	return fmt.Sprintf("delegation: invalid plan: %s", e.Reason)
}

// Validate enforces the WHEN/HOW combination rules the planner's prompt
// documents: delayed plans need delay_seconds, recurring/monitor plans
// need cron_expr, monitor plans are always notify_skip, and any
// execution/processor value outside the spec's enums is rejected
// outright (unlike the original, which silently falls back to
// "immediate"/"agent" defaults on an unrecognized value).
func (p *Plan) Validate() error {
	switch p.Execution {
	case ExecutionImmediate, ExecutionDelayed, ExecutionRecurring, ExecutionMonitor:
	default:
		return &ErrPlanInvalid{Reason: fmt.Sprintf("unknown execution %q", p.Execution)}
	}
	switch p.Processor {
	case models.ProcessorStatic, models.ProcessorFunction, models.ProcessorAgent:
	default:
		return &ErrPlanInvalid{Reason: fmt.Sprintf("unknown processor %q", p.Processor)}
	}
	if p.Execution == ExecutionDelayed && (p.DelaySeconds == nil || *p.DelaySeconds <= 0) {
		return &ErrPlanInvalid{Reason: "delayed execution requires a positive delay_seconds"}
	}
	if (p.Execution == ExecutionRecurring || p.Execution == ExecutionMonitor) && (p.CronExpr == nil || *p.CronExpr == "") {
		return &ErrPlanInvalid{Reason: "recurring/monitor execution requires cron_expr"}
	}
	if p.Execution == ExecutionMonitor {
		p.NotifyCondition = models.NotifyOnNotSkip
	} else if p.NotifyCondition == "" {
		p.NotifyCondition = models.NotifyAlways
	}

	switch p.Processor {
	case models.ProcessorFunction:
		if p.ToolName == nil || *p.ToolName == "" {
			return &ErrPlanInvalid{Reason: "function processor requires tool_name"}
		}
	case models.ProcessorAgent:
		if p.Prompt == nil || *p.Prompt == "" {
			return &ErrPlanInvalid{Reason: "agent processor requires prompt"}
		}
	case models.ProcessorStatic:
		if p.Message == nil || *p.Message == "" {
			return &ErrPlanInvalid{Reason: "static processor requires message"}
		}
	}
	return nil
}

// responseSchema is the JSON Schema handed to ChatStructured; it mirrors
// the ExecutionPlan shape field for field, including the "null or typed"
// unions the original's litellm response_format also required.
var responseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"execution": {"type": "string", "enum": ["immediate", "delayed", "recurring", "monitor"]},
		"processor": {"type": "string", "enum": ["static", "function", "agent"]},
		"delay_seconds": {"type": ["integer", "null"]},
		"cron_expr": {"type": ["string", "null"]},
		"notify_condition": {"type": ["string", "null"], "enum": ["always", "notify_skip", null]},
		"channel": {"type": ["string", "null"]},
		"message": {"type": ["string", "null"]},
		"tool_name": {"type": ["string", "null"]},
		"tool_args": {},
		"prompt": {"type": ["string", "null"]},
		"tools": {"type": "array", "items": {"type": "string"}},
		"model": {"type": ["string", "null"]}
	},
	"required": ["execution", "processor"]
}`)

const plannerPrompt = `You are a task delegation planner. Given a task description and available tools, decide the optimal execution strategy and configuration for a background agent.

## Available Tools
%s

## Two Orthogonal Decisions

### 1. Execution Type (WHEN to run)
- "immediate": Run now in background (research, computation, complex tasks)
- "delayed": Run once after a delay (send message later, check something later)
- "recurring": Run on a schedule (periodic checks, regular reports)
- "monitor": Run on a schedule, only notify when condition is met (price alerts)

### 2. Processor Type (HOW to run)
- "static": Send a plain text message to the user. No agent, no tool call. Use for simple reminders.
- "function": Call a specific tool with known arguments. No LLM needed.
- "agent": Run a minimal agent (LLM + selected tools) for single-step or simple multi-step tasks.
  ALWAYS include send_message_to_user in the tools list; the agent delivers its own results.

## Rules
- For "static": set tools=[], tool_name=null, tool_args=null, prompt=null.
- For "function": set tool_name and tool_args with the exact tool call.
- For "agent": set tools list and a focused prompt (2-3 sentences). The prompt MUST
  instruct the agent to send results via send_message_to_user.
- For "delayed": estimate delay_seconds from the task description.
- For "recurring" and "monitor": produce a cron expression.
- For "monitor": the prompt MUST instruct the agent to respond with [SKIP] when nothing to report.
- Return ONLY valid JSON, no markdown.

## Examples
- "Remind me about the meeting in 2 hours"
  -> execution: "delayed", processor: "static", delay_seconds: 7200, message: "Reminder: you have a meeting!"
- "Send a message to Murat saying hello in 5 minutes"
  -> execution: "delayed", processor: "function", delay_seconds: 300, tool_name: "send_message_to_user", tool_args: {"target_user": "Murat", "message": "hello"}
- "Alert me when gold exceeds $3000"
  -> execution: "monitor", processor: "agent", cron_expr: "*/30 * * * *", tools: ["web_fetch"], prompt: "Check gold price. If above $3000 report the current price. Otherwise [SKIP]."
- "Research this topic for me"
  -> execution: "immediate", processor: "agent", tools: ["web_search", "web_fetch"], prompt: "Research the given topic thoroughly and return a clear summary."
`

// ToolCatalog renders the tools available to a spawned agent as a
// human-readable listing for the planner prompt.
type ToolCatalog interface {
	Catalog() string
}

// Config carries the pieces Planner needs beyond a plain task string.
type Config struct {
	Model string // default model if the planner does not suggest one
}

// Planner makes one structured-output LLM call per delegation request
// and returns a validated Plan, logging every attempt (successful or
// not) to the Store's delegation log for audit.
type Planner struct {
	provider agent.ChatProvider
	store    store.Store
	tools    ToolCatalog
	cfg      Config
}

func NewPlanner(provider agent.ChatProvider, st store.Store, tools ToolCatalog, cfg Config) *Planner {
	return &Planner{provider: provider, store: st, tools: tools, cfg: cfg}
}

// Plan runs the planner LLM call for task and returns a validated Plan.
// A JSON-schema mismatch or a rule violation (Validate) is fatal: the
// delegation log still records the raw attempt, but the error returned
// to the caller is an *ErrPlanInvalid the caller must turn into a
// synthetic "planning failed" tool result rather than retry silently.
func (p *Planner) Plan(ctx context.Context, userID, task string) (*Plan, error) {
	catalog := ""
	if p.tools != nil {
		catalog = p.tools.Catalog()
	}
	system := fmt.Sprintf(plannerPrompt, catalog)

	raw, err := p.provider.ChatStructured(ctx, agent.ChatRequest{
		Model:     p.cfg.Model,
		System:    system,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: "Task: " + task}},
		MaxTokens: 512,
	}, responseSchema)

	logEntry := &models.DelegationLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Task:      task,
		CreatedAt: time.Now(),
	}
	if err != nil {
		logEntry.PlanJSON = fmt.Sprintf(`{"error": %q}`, err.Error())
		_ = p.store.RecordDelegation(ctx, logEntry)
		return nil, fmt.Errorf("delegation: plan: %w", err)
	}

	plan, parseErr := parsePlan(raw)
	logEntry.PlanJSON = string(raw)
	_ = p.store.RecordDelegation(ctx, logEntry)
	if parseErr != nil {
		return nil, parseErr
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// parsePlan decodes the model's JSON, tolerating a wrapping markdown
// code fence and leading reasoning text the way reasoning models
// sometimes emit it even under a schema constraint.
func parsePlan(raw json.RawMessage) (*Plan, error) {
	text := strings.TrimSpace(string(raw))
	if strings.Contains(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = strings.TrimPrefix(strings.TrimSpace(parts[1]), "json")
		}
	}
	text = strings.TrimSpace(text)

	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start != -1 && end > start {
			if err2 := json.Unmarshal([]byte(text[start:end+1]), &plan); err2 == nil {
				return &plan, nil
			}
		}
		return nil, &ErrPlanInvalid{Reason: "could not parse planner response as JSON: " + err.Error()}
	}
	return &plan, nil
}
