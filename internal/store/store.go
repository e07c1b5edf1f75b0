// Package store implements the durable store: the single source of truth
// every other component (GraphRunner, Scheduler, Worker, Event Bus) reads
// and writes through. Mirrors internal/jobs.Store's narrow-interface-plus-
// in-memory-double shape, scaled up to the full entity set.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/graphbot-ai/graphbot/pkg/models"
)

// ErrNotFound is returned by single-entity lookups that miss.
var ErrNotFound = errors.New("store: not found")

// Store is the durable store's full surface. Every method is safe for
// concurrent use; the store is the sole synchronizer across components.
type Store interface {
	// Users and identity.
	GetOrCreateUser(ctx context.Context, userID string) (*models.User, error)
	SetUserRole(ctx context.Context, userID string, role models.AccessRole) error
	ResolveChannel(ctx context.Context, channel, channelAddress string) (*models.ChannelLink, error)
	LinkChannel(ctx context.Context, link *models.ChannelLink) error
	ChannelAddressForUser(ctx context.Context, userID string, channel models.ChannelType) (string, error)

	// Sessions.
	OpenSession(ctx context.Context, userID string, channel models.ChannelType) (*models.Session, error)
	GetOpenSession(ctx context.Context, userID string, channel models.ChannelType) (*models.Session, error)
	EndSession(ctx context.Context, sessionID string, summary *string, reason models.CloseReason) (bool, error)
	CountOpenSessions(ctx context.Context, userID string) (int, error)

	// Messages.
	AppendMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Semantic memory.
	GetAgentMemory(ctx context.Context, key string) (*models.AgentMemory, error)
	SetAgentMemory(ctx context.Context, mem *models.AgentMemory) error
	AddUserNote(ctx context.Context, note *models.UserNote) error
	ListUserNotes(ctx context.Context, userID string, limit int) ([]*models.UserNote, error)
	SetPreference(ctx context.Context, pref *models.Preference) error
	ListPreferences(ctx context.Context, userID string) ([]*models.Preference, error)
	AddFavorite(ctx context.Context, fav *models.Favorite) error
	ListFavorites(ctx context.Context, userID string, limit int) ([]*models.Favorite, error)
	LogActivity(ctx context.Context, entry *models.ActivityLog) error
	ListActivity(ctx context.Context, userID string, limit int) ([]*models.ActivityLog, error)

	// Background scheduling.
	CreateCronJob(ctx context.Context, job *models.CronJob) error
	GetCronJob(ctx context.Context, jobID string) (*models.CronJob, error)
	ListCronJobs(ctx context.Context, userID string) ([]*models.CronJob, error)
	ListEnabledCronJobs(ctx context.Context) ([]*models.CronJob, error)
	SetCronJobEnabled(ctx context.Context, jobID string, enabled bool) error
	IncrementCronFailures(ctx context.Context, jobID string) (int, error)
	ResetCronFailures(ctx context.Context, jobID string) error
	RecordCronExecution(ctx context.Context, log *models.CronExecutionLog) error

	CreateReminder(ctx context.Context, r *models.Reminder) error
	GetReminder(ctx context.Context, reminderID string) (*models.Reminder, error)
	ListReminders(ctx context.Context, userID string) ([]*models.Reminder, error)
	DuePendingReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	SetReminderStatus(ctx context.Context, reminderID string, status models.ReminderStatus, sentAt *time.Time) error
	CancelReminder(ctx context.Context, reminderID, userID string) error

	CreateBackgroundTask(ctx context.Context, task *models.BackgroundTask) error
	GetBackgroundTask(ctx context.Context, taskID string) (*models.BackgroundTask, error)
	CompleteBackgroundTask(ctx context.Context, taskID string, result *string, taskErr *string) error
	ListBackgroundTasks(ctx context.Context, userID string, limit int) ([]*models.BackgroundTask, error)

	RecordDelegation(ctx context.Context, log *models.DelegationLog) error

	// Event bus.
	EnqueueEvent(ctx context.Context, event *models.SystemEvent) error
	UndeliveredEvents(ctx context.Context, userID string) ([]*models.SystemEvent, error)
	MarkEventsDelivered(ctx context.Context, eventIDs []string) error

	Close() error
}
