// Package delegate exposes the Delegation Planner as a tool: the main
// Agent Graph's escape hatch for "do this later, elsewhere, or on a
// schedule" requests, routing the planner's typed output to whichever
// subsystem owns that execution axis (Subagent Worker for immediate,
// Reminder rows for delayed, CronJob rows for recurring/monitor).
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/graphbot-ai/graphbot/internal/agent"
	"github.com/graphbot-ai/graphbot/internal/delegation"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// Spawner fires a plan off immediately, in the background; satisfied by
// *worker.Worker.
type Spawner interface {
	Spawn(ctx context.Context, userID string, parentSessionID *string, plan *delegation.Plan, channel models.ChannelType) (string, error)
}

// Tool implements "delegate": plan a background task and hand it to the
// Worker or Scheduler depending on when it should run.
type Tool struct {
	planner *delegation.Planner
	store   store.Store
	worker  Spawner
}

func NewTool(planner *delegation.Planner, st store.Store, worker Spawner) *Tool {
	return &Tool{planner: planner, store: st, worker: worker}
}

func (t *Tool) Name() string { return "delegate" }

func (t *Tool) Description() string {
	return "Hand off a task to run now in the background, after a delay, on a recurring schedule, or as a recurring monitor/alert."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {
				"type": "string",
				"description": "Natural-language description of the background task, including timing and any recipient/channel details."
			}
		},
		"required": ["task"]
	}`)
}

// delegateContext carries the caller's identity and session, set the same
// way the message tool's call context is.
type delegateContext struct {
	UserID          string
	Channel         models.ChannelType
	ParentSessionID *string
}

type contextKey struct{}

func WithCallContext(ctx context.Context, userID string, channel models.ChannelType, parentSessionID *string) context.Context {
	return context.WithValue(ctx, contextKey{}, delegateContext{UserID: userID, Channel: channel, ParentSessionID: parentSessionID})
}

func callContextFrom(ctx context.Context) (delegateContext, bool) {
	cc, ok := ctx.Value(contextKey{}).(delegateContext)
	return cc, ok
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.planner == nil {
		return toolError("delegation planner unavailable"), nil
	}
	cc, ok := callContextFrom(ctx)
	if !ok || cc.UserID == "" {
		return toolError("delegate requires caller context"), nil
	}

	var input struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Task == "" {
		return toolError("task is required"), nil
	}

	plan, err := t.planner.Plan(ctx, cc.UserID, input.Task)
	if err != nil {
		if invalid, ok := err.(*delegation.ErrPlanInvalid); ok {
			return toolError(fmt.Sprintf("could not plan that task: %s", invalid.Reason)), nil
		}
		return toolError(fmt.Sprintf("plan task: %v", err)), nil
	}

	channel := cc.Channel
	if plan.Channel != nil && *plan.Channel != "" {
		channel = models.ChannelType(*plan.Channel)
	}

	switch plan.Execution {
	case delegation.ExecutionImmediate:
		if t.worker == nil {
			return toolError("background worker unavailable"), nil
		}
		taskID, err := t.worker.Spawn(ctx, cc.UserID, cc.ParentSessionID, plan, channel)
		if err != nil {
			return toolError(fmt.Sprintf("spawn task: %v", err)), nil
		}
		return okResult(map[string]string{"status": "spawned", "task_id": taskID})

	case delegation.ExecutionDelayed:
		planJSON, err := json.Marshal(plan)
		if err != nil {
			return toolError(fmt.Sprintf("encode plan: %v", err)), nil
		}
		delay := 0
		if plan.DelaySeconds != nil {
			delay = *plan.DelaySeconds
		}
		reminder := &models.Reminder{
			ReminderID: uuid.NewString(),
			UserID:     cc.UserID,
			Channel:    channel,
			RunAt:      time.Now().Add(time.Duration(delay) * time.Second),
			Processor:  plan.Processor,
			PlanJSON:   string(planJSON),
			Status:     models.ReminderPending,
			CreatedAt:  time.Now(),
		}
		if err := t.store.CreateReminder(ctx, reminder); err != nil {
			return toolError(fmt.Sprintf("create reminder: %v", err)), nil
		}
		return okResult(map[string]string{"status": "scheduled", "reminder_id": reminder.ReminderID})

	case delegation.ExecutionRecurring, delegation.ExecutionMonitor:
		planJSON, err := json.Marshal(plan)
		if err != nil {
			return toolError(fmt.Sprintf("encode plan: %v", err)), nil
		}
		cronExpr := ""
		if plan.CronExpr != nil {
			cronExpr = *plan.CronExpr
		}
		job := &models.CronJob{
			JobID:           uuid.NewString(),
			UserID:          cc.UserID,
			CronExpr:        cronExpr,
			Channel:         channel,
			Enabled:         true,
			Processor:       plan.Processor,
			PlanJSON:        string(planJSON),
			NotifyCondition: plan.NotifyCondition,
			CreatedAt:       time.Now(),
		}
		if err := t.store.CreateCronJob(ctx, job); err != nil {
			return toolError(fmt.Sprintf("create cron job: %v", err)), nil
		}
		return okResult(map[string]string{"status": "scheduled", "job_id": job.JobID})

	default:
		return toolError(fmt.Sprintf("unhandled execution %q", plan.Execution)), nil
	}
}

func okResult(v map[string]string) (*agent.ToolResult, error) {
	payload, err := json.Marshal(v)
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
