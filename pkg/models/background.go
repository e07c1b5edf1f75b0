package models

import "time"

// Processor selects how a plan's step is carried out.
type Processor string

const (
	ProcessorStatic   Processor = "static"
	ProcessorFunction Processor = "function"
	ProcessorAgent    Processor = "agent"
)

// NotifyCondition controls whether a SKIP-marked result is still delivered.
type NotifyCondition string

const (
	NotifyAlways    NotifyCondition = "always"
	NotifyOnNotSkip NotifyCondition = "notify_skip"
)

// CronJob is a recurring, user-owned schedule dispatched by the Scheduler.
type CronJob struct {
	JobID               string          `json:"job_id"`
	UserID              string          `json:"user_id"`
	CronExpr            string          `json:"cron_expr"`
	Message             string          `json:"message"`
	Channel             ChannelType     `json:"channel"`
	Enabled             bool            `json:"enabled"`
	Processor           Processor       `json:"processor"`
	PlanJSON            string          `json:"plan_json,omitempty"`
	NotifyCondition     NotifyCondition `json:"notify_condition"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ReminderStatus tracks a Reminder through its lifecycle.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

// Reminder is a one-shot (or, with CronExpr set, recurring) delayed delivery.
type Reminder struct {
	ReminderID string         `json:"reminder_id"`
	UserID     string         `json:"user_id"`
	Channel    ChannelType    `json:"channel"`
	RunAt      time.Time      `json:"run_at"`
	CronExpr   *string        `json:"cron_expr,omitempty"`
	Processor  Processor      `json:"processor"`
	PlanJSON   string         `json:"plan_json,omitempty"`
	Status     ReminderStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	SentAt     *time.Time     `json:"sent_at,omitempty"`
}

// BackgroundTaskStatus tracks a monitor-class plan's async execution.
type BackgroundTaskStatus string

const (
	BackgroundTaskRunning   BackgroundTaskStatus = "running"
	BackgroundTaskCompleted BackgroundTaskStatus = "completed"
	BackgroundTaskFailed    BackgroundTaskStatus = "failed"
)

// BackgroundTask is a long-running delegation step executed off the
// request path by a Subagent Worker; it reports back through the
// fallback channel rather than the session that spawned it.
type BackgroundTask struct {
	TaskID          string               `json:"task_id"`
	UserID          string               `json:"user_id"`
	ParentSessionID *string              `json:"parent_session,omitempty"`
	FallbackChannel ChannelType          `json:"fallback_channel"`
	Status          BackgroundTaskStatus `json:"status"`
	Plan            string               `json:"plan"`
	Result          *string              `json:"result,omitempty"`
	Error           *string              `json:"error,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// SystemEvent is an at-least-once Event Bus envelope, deduplicated by
// EventID at delivery time.
type SystemEvent struct {
	EventID     string         `json:"event_id"`
	UserID      string         `json:"user_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CronExecutionStatus is the outcome of one CronJob firing.
type CronExecutionStatus string

const (
	CronExecutionSuccess CronExecutionStatus = "success"
	CronExecutionError   CronExecutionStatus = "error"
	CronExecutionSkipped CronExecutionStatus = "skipped"
)

// CronExecutionLog is an audit row for one CronJob firing; three
// consecutive CronExecutionError rows auto-pauses the job.
type CronExecutionLog struct {
	LogID      string              `json:"log_id"`
	JobID      string              `json:"job_id"`
	ExecutedAt time.Time           `json:"executed_at"`
	Status     CronExecutionStatus `json:"status"`
	Result     *string             `json:"result,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

// DelegationLog is an audit row for one Delegation Planner call; no
// runtime invariants.
type DelegationLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Task       string    `json:"task"`
	PlanJSON   string    `json:"plan_json"`
	CreatedAt  time.Time `json:"created_at"`
}
