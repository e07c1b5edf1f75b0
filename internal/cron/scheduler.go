package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graphbot-ai/graphbot/internal/agent"
	"github.com/graphbot-ai/graphbot/internal/delegation"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// maxConsecutiveFailures auto-pauses a CronJob after this many failed
// firings in a row, per the spec's auto-pause rule.
const maxConsecutiveFailures = 3

// MessageSender delivers a static processor's plain text to the user on
// the job's channel; satisfied by the Channel Port.
type MessageSender interface {
	Send(ctx context.Context, userID string, channel models.ChannelType, text string) error
}

// ToolExecutor invokes a single named tool for the function processor;
// satisfied by *agent.ToolRegistry.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error)
}

// AgentDispatcher runs an agent processor's LightAgent against the
// background-safe tool subregistry and returns its final text, plus
// which tools it called, for the NOTIFY/SKIP decision.
type AgentDispatcher interface {
	RunPlan(ctx context.Context, userID string, channel models.ChannelType, prompt string, tools []string, model string) (text string, err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMessageSender(sender MessageSender) Option {
	return func(s *Scheduler) {
		s.sender = sender
	}
}

func WithToolExecutor(exec ToolExecutor) Option {
	return func(s *Scheduler) {
		s.tools = exec
	}
}

func WithAgentDispatcher(dispatcher AgentDispatcher) Option {
	return func(s *Scheduler) {
		s.agents = dispatcher
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// runtimeJob tracks a CronJob's next fire time in memory, the way the
// teacher's Job.NextRun field does, since the store has no NextRun
// column of its own.
type runtimeJob struct {
	job     *models.CronJob
	nextRun time.Time
}

// Scheduler fires due CronJob and Reminder rows against their recorded
// Processor, dispatching the same three ways the Subagent Worker does:
// static (plain text), function (one tool call), agent (a LightAgent).
type Scheduler struct {
	store  store.Store
	sender MessageSender
	tools  ToolExecutor
	agents AgentDispatcher
	logger *slog.Logger
	now    func() time.Time

	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*runtimeJob
	started bool
	wg      sync.WaitGroup
	stop    chan struct{}
}

func NewScheduler(st store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        st,
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		tickInterval: 30 * time.Second,
		jobs:         make(map[string]*runtimeJob),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads every enabled CronJob, computes its first next-run, and
// begins the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.reload(ctx); err != nil {
		return fmt.Errorf("cron: initial load: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop signals the tick loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// RunOnce runs every currently-due job and reminder immediately, for
// tests and manual triggers.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// AddJob registers a freshly created CronJob without waiting for the
// next reload; the delegate tool calls this right after
// store.CreateCronJob so a job is live immediately.
func (s *Scheduler) AddJob(job *models.CronJob) error {
	next, err := NextRun(job.CronExpr, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[job.JobID] = &runtimeJob{job: job, nextRun: next}
	s.mu.Unlock()
	return nil
}

// RemoveJob drops a job from the in-memory schedule (its store row is
// disabled by the caller separately).
func (s *Scheduler) RemoveJob(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

func (s *Scheduler) reload(ctx context.Context) error {
	jobs, err := s.store.ListEnabledCronJobs(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	fresh := make(map[string]*runtimeJob, len(jobs))
	for _, job := range jobs {
		next, err := NextRun(job.CronExpr, now)
		if err != nil {
			s.logger.Warn("cron job has invalid schedule, skipping", "job_id", job.JobID, "error", err)
			continue
		}
		fresh[job.JobID] = &runtimeJob{job: job, nextRun: next}
	}
	s.mu.Lock()
	s.jobs = fresh
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	count := 0

	s.mu.Lock()
	due := make([]*runtimeJob, 0)
	for _, rj := range s.jobs {
		if !now.Before(rj.nextRun) {
			due = append(due, rj)
		}
	}
	s.mu.Unlock()

	for _, rj := range due {
		s.fireCronJob(ctx, rj)
		count++
	}

	reminders, err := s.store.DuePendingReminders(ctx, now)
	if err != nil {
		s.logger.Warn("cron: list due reminders failed", "error", err)
	}
	for _, r := range reminders {
		s.fireReminder(ctx, r)
		count++
	}
	return count
}

func (s *Scheduler) fireCronJob(ctx context.Context, rj *runtimeJob) {
	job := rj.job
	start := s.now()
	text, skipped, err := s.dispatch(ctx, job.UserID, job.Channel, job.Processor, job.PlanJSON, job.Message)
	status := models.CronExecutionSuccess
	var resultPtr *string
	if err != nil {
		status = models.CronExecutionError
		msg := err.Error()
		resultPtr = &msg
	} else if skipped {
		status = models.CronExecutionSkipped
	} else if text != "" {
		resultPtr = &text
	}

	_ = s.store.RecordCronExecution(ctx, &models.CronExecutionLog{
		LogID:      uuid.NewString(),
		JobID:      job.JobID,
		ExecutedAt: start,
		Status:     status,
		Result:     resultPtr,
		DurationMs: s.now().Sub(start).Milliseconds(),
	})

	if err != nil {
		s.logger.Warn("cron job failed", "job_id", job.JobID, "error", err)
		n, incErr := s.store.IncrementCronFailures(ctx, job.JobID)
		if incErr == nil && n >= maxConsecutiveFailures {
			s.logger.Warn("cron job auto-paused after consecutive failures", "job_id", job.JobID, "failures", n)
			_ = s.store.SetCronJobEnabled(ctx, job.JobID, false)
			s.RemoveJob(job.JobID)
			return
		}
	} else {
		_ = s.store.ResetCronFailures(ctx, job.JobID)
	}

	next, nextErr := NextRun(job.CronExpr, s.now())
	if nextErr != nil {
		s.logger.Warn("cron job has no further runs, disabling", "job_id", job.JobID, "error", nextErr)
		_ = s.store.SetCronJobEnabled(ctx, job.JobID, false)
		s.RemoveJob(job.JobID)
		return
	}
	s.mu.Lock()
	rj.nextRun = next
	s.mu.Unlock()
}

func (s *Scheduler) fireReminder(ctx context.Context, r *models.Reminder) {
	text, _, err := s.dispatch(ctx, r.UserID, r.Channel, r.Processor, r.PlanJSON, "")
	now := s.now()
	if err != nil {
		s.logger.Warn("reminder failed", "reminder_id", r.ReminderID, "error", err)
		_ = s.store.SetReminderStatus(ctx, r.ReminderID, models.ReminderFailed, &now)
		return
	}
	_ = s.store.SetReminderStatus(ctx, r.ReminderID, models.ReminderSent, &now)

	if r.CronExpr != nil && *r.CronExpr != "" {
		if next, nextErr := NextRun(*r.CronExpr, now); nextErr == nil {
			_ = s.store.CreateReminder(ctx, &models.Reminder{
				ReminderID: uuid.NewString(),
				UserID:     r.UserID,
				Channel:    r.Channel,
				RunAt:      next,
				CronExpr:   r.CronExpr,
				Processor:  r.Processor,
				PlanJSON:   r.PlanJSON,
				Status:     models.ReminderPending,
				CreatedAt:  now,
			})
		}
	}
	_ = text
}

// dispatch runs one processor firing and returns the text produced (if
// any), whether a monitor-class firing decided to skip notification,
// and any error. planJSON, when non-empty, is a serialized
// delegation.Plan; fallbackMessage is used for CronJob rows whose
// static message is stored directly on the row rather than in a plan.
func (s *Scheduler) dispatch(ctx context.Context, userID string, channel models.ChannelType, processor models.Processor, planJSON, fallbackMessage string) (text string, skipped bool, err error) {
	var plan delegation.Plan
	if planJSON != "" {
		if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
			return "", false, fmt.Errorf("cron: invalid stored plan: %w", err)
		}
	}

	switch processor {
	case models.ProcessorStatic:
		msg := fallbackMessage
		if plan.Message != nil && *plan.Message != "" {
			msg = *plan.Message
		}
		if msg == "" {
			return "", false, fmt.Errorf("cron: static processor has no message")
		}
		if s.sender == nil {
			return "", false, fmt.Errorf("cron: no message sender configured")
		}
		return msg, false, s.sender.Send(ctx, userID, channel, msg)

	case models.ProcessorFunction:
		if s.tools == nil {
			return "", false, fmt.Errorf("cron: no tool executor configured")
		}
		if plan.ToolName == nil {
			return "", false, fmt.Errorf("cron: function processor has no tool_name")
		}
		res, err := s.tools.Execute(ctx, *plan.ToolName, plan.ToolArgs)
		if err != nil {
			return "", false, err
		}
		if res.IsError {
			return "", false, fmt.Errorf("cron: tool %s failed: %s", *plan.ToolName, res.Content)
		}
		return res.Content, false, nil

	case models.ProcessorAgent:
		if s.agents == nil {
			return "", false, fmt.Errorf("cron: no agent dispatcher configured")
		}
		prompt := ""
		if plan.Prompt != nil {
			prompt = *plan.Prompt
		}
		model := ""
		if plan.Model != nil {
			model = *plan.Model
		}
		out, err := s.agents.RunPlan(ctx, userID, channel, prompt, plan.Tools, model)
		if err != nil {
			return "", false, err
		}
		if plan.NotifyCondition == models.NotifyOnNotSkip && shouldSkip(out) {
			return out, true, nil
		}
		if s.sender != nil && strings.TrimSpace(out) != "" {
			if err := s.sender.Send(ctx, userID, channel, out); err != nil {
				return out, false, err
			}
		}
		return out, false, nil

	default:
		return "", false, fmt.Errorf("cron: unsupported processor %q", processor)
	}
}

// shouldSkip matches the NOTIFY/SKIP marker a monitor-class agent emits
// when it has nothing to report, case-insensitively, at either end of
// the response.
func shouldSkip(response string) bool {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return true
	}
	upper := strings.ToUpper(trimmed)
	for _, marker := range []string{"[SKIP]", "SKIP", "[NO_NOTIFY]"} {
		if strings.HasPrefix(upper, marker) || strings.HasSuffix(upper, marker) {
			return true
		}
	}
	return false
}
