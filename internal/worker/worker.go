// Package worker runs the Subagent Worker: immediate background
// execution of a delegation Plan, off the request path, reporting back
// through a SystemEvent and — when the spawning session is still open —
// a direct channel push.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graphbot-ai/graphbot/internal/agent"
	"github.com/graphbot-ai/graphbot/internal/delegation"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// MessageSender delivers text to a user on a channel; satisfied by the
// Channel Port.
type MessageSender interface {
	Send(ctx context.Context, userID string, channel models.ChannelType, text string) error
}

// ToolExecutor invokes a single named tool for the function processor;
// satisfied by *agent.ToolRegistry.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error)
}

// AgentDispatcher runs an agent processor's LightAgent; satisfied by
// *agent.LightAgentDispatcher.
type AgentDispatcher interface {
	RunPlan(ctx context.Context, userID string, channel models.ChannelType, prompt string, tools []string, model string) (text string, err error)
}

// Worker spawns one goroutine per delegated task and never blocks its
// caller: Spawn returns as soon as the BackgroundTask row exists.
type Worker struct {
	store  store.Store
	sender MessageSender
	tools  ToolExecutor
	agents AgentDispatcher
	logger *slog.Logger
}

func New(st store.Store, sender MessageSender, tools ToolExecutor, agents AgentDispatcher) *Worker {
	return &Worker{
		store:  st,
		sender: sender,
		tools:  tools,
		agents: agents,
		logger: slog.Default().With("component", "worker"),
	}
}

// Spawn inserts a running BackgroundTask row and executes plan
// asynchronously, returning the task id immediately.
func (w *Worker) Spawn(ctx context.Context, userID string, parentSessionID *string, plan *delegation.Plan, channel models.ChannelType) (string, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("worker: marshal plan: %w", err)
	}

	task := &models.BackgroundTask{
		TaskID:          uuid.NewString(),
		UserID:          userID,
		ParentSessionID: parentSessionID,
		FallbackChannel: channel,
		Status:          models.BackgroundTaskRunning,
		Plan:            string(planJSON),
		StartedAt:       time.Now(),
	}
	if err := w.store.CreateBackgroundTask(ctx, task); err != nil {
		return "", fmt.Errorf("worker: create task: %w", err)
	}

	go w.run(task.TaskID, userID, parentSessionID, plan, channel)
	return task.TaskID, nil
}

// run executes a spawned task's plan to completion. It always runs with
// its own background context: the caller's request context is typically
// long gone by the time the task finishes.
func (w *Worker) run(taskID, userID string, parentSessionID *string, plan *delegation.Plan, channel models.ChannelType) {
	ctx := context.Background()
	result, err := w.dispatch(ctx, userID, channel, plan)

	var resultPtr, errPtr *string
	if err != nil {
		msg := err.Error()
		errPtr = &msg
		w.logger.Warn("subagent task failed", "task_id", taskID, "error", err)
	} else if result != "" {
		resultPtr = &result
	}
	if completeErr := w.store.CompleteBackgroundTask(ctx, taskID, resultPtr, errPtr); completeErr != nil {
		w.logger.Warn("subagent task: failed to record completion", "task_id", taskID, "error", completeErr)
	}

	payload := map[string]any{"task_id": taskID}
	if err != nil {
		payload["error"] = err.Error()
	} else {
		payload["result"] = result
	}
	event := &models.SystemEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Kind:      "subagent_result",
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if enqErr := w.store.EnqueueEvent(ctx, event); enqErr != nil {
		w.logger.Warn("subagent task: failed to enqueue result event", "task_id", taskID, "error", enqErr)
	}

	if err == nil && result != "" && parentSessionID != nil {
		if _, openErr := w.store.GetOpenSession(ctx, userID, channel); openErr == nil {
			if sendErr := w.sender.Send(ctx, userID, channel, result); sendErr != nil {
				w.logger.Warn("subagent task: direct push failed, will deliver via events layer", "task_id", taskID, "error", sendErr)
			} else {
				_ = w.store.MarkEventsDelivered(ctx, []string{event.EventID})
			}
		}
	}
}

// dispatch runs one processor to completion, identically to the
// Scheduler's dispatch rules: same three processor semantics, but with
// no trigger to re-check — a subagent task only ever fires once.
func (w *Worker) dispatch(ctx context.Context, userID string, channel models.ChannelType, plan *delegation.Plan) (string, error) {
	switch plan.Processor {
	case models.ProcessorStatic:
		if plan.Message == nil || *plan.Message == "" {
			return "", fmt.Errorf("worker: static processor has no message")
		}
		if w.sender == nil {
			return "", fmt.Errorf("worker: no message sender configured")
		}
		if err := w.sender.Send(ctx, userID, channel, *plan.Message); err != nil {
			return "", err
		}
		return *plan.Message, nil

	case models.ProcessorFunction:
		if w.tools == nil {
			return "", fmt.Errorf("worker: no tool executor configured")
		}
		if plan.ToolName == nil {
			return "", fmt.Errorf("worker: function processor has no tool_name")
		}
		res, err := w.tools.Execute(ctx, *plan.ToolName, plan.ToolArgs)
		if err != nil {
			return "", err
		}
		if res.IsError {
			return "", fmt.Errorf("worker: tool %s failed: %s", *plan.ToolName, res.Content)
		}
		return res.Content, nil

	case models.ProcessorAgent:
		if w.agents == nil {
			return "", fmt.Errorf("worker: no agent dispatcher configured")
		}
		prompt := ""
		if plan.Prompt != nil {
			prompt = *plan.Prompt
		}
		model := ""
		if plan.Model != nil {
			model = *plan.Model
		}
		out, err := w.agents.RunPlan(ctx, userID, channel, prompt, plan.Tools, model)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil

	default:
		return "", fmt.Errorf("worker: unsupported processor %q", plan.Processor)
	}
}
