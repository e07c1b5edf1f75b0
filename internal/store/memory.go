package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graphbot-ai/graphbot/pkg/models"
)

// MemoryStore is an in-memory Store double for tests, matching
// internal/jobs.MemoryStore's mutex-guarded-map-plus-deep-clone pattern.
type MemoryStore struct {
	mu sync.RWMutex

	users        map[string]*models.User
	channelLinks map[string]*models.ChannelLink // key: channel+"\x00"+address
	sessions     map[string]*models.Session
	messages     map[string][]*models.Message // key: session id, insertion order
	agentMemory  map[string]*models.AgentMemory
	notes        map[string][]*models.UserNote
	prefs        map[string]map[string]*models.Preference
	favorites    map[string][]*models.Favorite
	activity     map[string][]*models.ActivityLog
	cronJobs     map[string]*models.CronJob
	cronLogs     []*models.CronExecutionLog
	reminders    map[string]*models.Reminder
	tasks        map[string]*models.BackgroundTask
	delegations  []*models.DelegationLog
	events       map[string]*models.SystemEvent
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*models.User),
		channelLinks: make(map[string]*models.ChannelLink),
		sessions:     make(map[string]*models.Session),
		messages:     make(map[string][]*models.Message),
		agentMemory:  make(map[string]*models.AgentMemory),
		notes:        make(map[string][]*models.UserNote),
		prefs:        make(map[string]map[string]*models.Preference),
		favorites:    make(map[string][]*models.Favorite),
		activity:     make(map[string][]*models.ActivityLog),
		cronJobs:     make(map[string]*models.CronJob),
		reminders:    make(map[string]*models.Reminder),
		tasks:        make(map[string]*models.BackgroundTask),
		events:       make(map[string]*models.SystemEvent),
	}
}

func (m *MemoryStore) Close() error { return nil }

func linkKey(channel, address string) string { return channel + "\x00" + address }

func (m *MemoryStore) GetOrCreateUser(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		clone := *u
		return &clone, nil
	}
	u := &models.User{ID: userID, Role: models.AccessRoleMember, CreatedAt: time.Now()}
	m.users[userID] = u
	clone := *u
	return &clone, nil
}

func (m *MemoryStore) SetUserRole(ctx context.Context, userID string, role models.AccessRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.Role = role
	}
	return nil
}

func (m *MemoryStore) ResolveChannel(ctx context.Context, channel, channelAddress string) (*models.ChannelLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.channelLinks[linkKey(channel, channelAddress)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *link
	return &clone, nil
}

func (m *MemoryStore) LinkChannel(ctx context.Context, link *models.ChannelLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	clone := *link
	m.channelLinks[linkKey(link.Channel, link.ChannelAddress)] = &clone
	return nil
}

// ChannelAddressForUser reverses ResolveChannel's lookup: given a user and
// channel, finds the platform address delivery should target. Scans rather
// than indexing by user, since a given user has at most a handful of linked
// channels and links are written far less often than messages are sent.
func (m *MemoryStore) ChannelAddressForUser(ctx context.Context, userID string, channel models.ChannelType) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, link := range m.channelLinks {
		if link.UserID == userID && link.Channel == string(channel) {
			return link.ChannelAddress, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) OpenSession(ctx context.Context, userID string, channel models.ChannelType) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := &models.Session{ID: uuid.NewString(), UserID: userID, Channel: channel, StartedAt: time.Now()}
	m.sessions[sess.ID] = sess
	clone := *sess
	return &clone, nil
}

func (m *MemoryStore) GetOpenSession(ctx context.Context, userID string, channel models.ChannelType) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Channel == channel && s.IsOpen() {
			if best == nil || s.StartedAt.After(best.StartedAt) {
				best = s
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	clone := *best
	return &clone, nil
}

func (m *MemoryStore) EndSession(ctx context.Context, sessionID string, summary *string, reason models.CloseReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsOpen() {
		return false, nil
	}
	now := time.Now()
	s.EndedAt = &now
	s.Summary = summary
	s.CloseReason = &reason
	return true, nil
}

func (m *MemoryStore) CountOpenSessions(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	clone := *msg
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &clone)
	return nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[sessionID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	start := len(all) - limit
	out := make([]*models.Message, 0, limit)
	for _, msg := range all[start:] {
		clone := *msg
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryStore) GetAgentMemory(ctx context.Context, key string) (*models.AgentMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.agentMemory[key]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (m *MemoryStore) SetAgentMemory(ctx context.Context, mem *models.AgentMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem.UpdatedAt = time.Now()
	clone := *mem
	m.agentMemory[mem.Key] = &clone
	return nil
}

func (m *MemoryStore) AddUserNote(ctx context.Context, note *models.UserNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	clone := *note
	m.notes[note.UserID] = append(m.notes[note.UserID], &clone)
	return nil
}

func (m *MemoryStore) ListUserNotes(ctx context.Context, userID string, limit int) ([]*models.UserNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneNotesDesc(m.notes[userID], limit), nil
}

func cloneNotesDesc(in []*models.UserNote, limit int) []*models.UserNote {
	out := make([]*models.UserNote, len(in))
	for i, n := range in {
		clone := *n
		out[len(in)-1-i] = &clone
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) SetPreference(ctx context.Context, pref *models.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pref.UpdatedAt = time.Now()
	if m.prefs[pref.UserID] == nil {
		m.prefs[pref.UserID] = make(map[string]*models.Preference)
	}
	clone := *pref
	m.prefs[pref.UserID][pref.Key] = &clone
	return nil
}

func (m *MemoryStore) ListPreferences(ctx context.Context, userID string) ([]*models.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Preference
	keys := make([]string, 0, len(m.prefs[userID]))
	for k := range m.prefs[userID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clone := *m.prefs[userID][k]
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryStore) AddFavorite(ctx context.Context, fav *models.Favorite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fav.ID == "" {
		fav.ID = uuid.NewString()
	}
	if fav.CreatedAt.IsZero() {
		fav.CreatedAt = time.Now()
	}
	clone := *fav
	m.favorites[fav.UserID] = append(m.favorites[fav.UserID], &clone)
	return nil
}

func (m *MemoryStore) ListFavorites(ctx context.Context, userID string, limit int) ([]*models.Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in := m.favorites[userID]
	out := make([]*models.Favorite, len(in))
	for i, f := range in {
		clone := *f
		out[len(in)-1-i] = &clone
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LogActivity(ctx context.Context, entry *models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	clone := *entry
	m.activity[entry.UserID] = append(m.activity[entry.UserID], &clone)
	return nil
}

func (m *MemoryStore) ListActivity(ctx context.Context, userID string, limit int) ([]*models.ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in := m.activity[userID]
	out := make([]*models.ActivityLog, len(in))
	for i, a := range in {
		clone := *a
		out[len(in)-1-i] = &clone
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateCronJob(ctx context.Context, job *models.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.NotifyCondition == "" {
		job.NotifyCondition = models.NotifyAlways
	}
	clone := *job
	m.cronJobs[job.JobID] = &clone
	return nil
}

func (m *MemoryStore) GetCronJob(ctx context.Context, jobID string) (*models.CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.cronJobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *MemoryStore) ListCronJobs(ctx context.Context, userID string) ([]*models.CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CronJob
	for _, j := range m.cronJobs {
		if j.UserID == userID {
			clone := *j
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListEnabledCronJobs(ctx context.Context) ([]*models.CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CronJob
	for _, j := range m.cronJobs {
		if j.Enabled {
			clone := *j
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetCronJobEnabled(ctx context.Context, jobID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.cronJobs[jobID]; ok {
		j.Enabled = enabled
	}
	return nil
}

func (m *MemoryStore) IncrementCronFailures(ctx context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.cronJobs[jobID]
	if !ok {
		return 0, ErrNotFound
	}
	j.ConsecutiveFailures++
	return j.ConsecutiveFailures, nil
}

func (m *MemoryStore) ResetCronFailures(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.cronJobs[jobID]; ok {
		j.ConsecutiveFailures = 0
	}
	return nil
}

func (m *MemoryStore) RecordCronExecution(ctx context.Context, log *models.CronExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.LogID == "" {
		log.LogID = uuid.NewString()
	}
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}
	clone := *log
	m.cronLogs = append(m.cronLogs, &clone)
	return nil
}

func (m *MemoryStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ReminderID == "" {
		r.ReminderID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = models.ReminderPending
	}
	clone := *r
	m.reminders[r.ReminderID] = &clone
	return nil
}

func (m *MemoryStore) GetReminder(ctx context.Context, reminderID string) (*models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reminders[reminderID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *MemoryStore) ListReminders(ctx context.Context, userID string) ([]*models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Reminder
	for _, r := range m.reminders {
		if r.UserID == userID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MemoryStore) DuePendingReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Reminder
	for _, r := range m.reminders {
		if r.Status == models.ReminderPending && !r.RunAt.After(now) {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetReminderStatus(ctx context.Context, reminderID string, status models.ReminderStatus, sentAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reminders[reminderID]; ok {
		r.Status = status
		r.SentAt = sentAt
	}
	return nil
}

func (m *MemoryStore) CancelReminder(ctx context.Context, reminderID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reminders[reminderID]; ok && r.UserID == userID && r.Status == models.ReminderPending {
		r.Status = models.ReminderCancelled
	}
	return nil
}

func (m *MemoryStore) CreateBackgroundTask(ctx context.Context, task *models.BackgroundTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.BackgroundTaskRunning
	}
	clone := *task
	m.tasks[task.TaskID] = &clone
	return nil
}

func (m *MemoryStore) GetBackgroundTask(ctx context.Context, taskID string) (*models.BackgroundTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *MemoryStore) CompleteBackgroundTask(ctx context.Context, taskID string, result *string, taskErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Result = result
	t.Error = taskErr
	if taskErr != nil {
		t.Status = models.BackgroundTaskFailed
	} else {
		t.Status = models.BackgroundTaskCompleted
	}
	return nil
}

func (m *MemoryStore) ListBackgroundTasks(ctx context.Context, userID string, limit int) ([]*models.BackgroundTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.BackgroundTask
	for _, t := range m.tasks {
		if t.UserID == userID {
			clone := *t
			out = append(out, &clone)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) RecordDelegation(ctx context.Context, log *models.DelegationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	clone := *log
	m.delegations = append(m.delegations, &clone)
	return nil
}

func (m *MemoryStore) EnqueueEvent(ctx context.Context, event *models.SystemEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if _, exists := m.events[event.EventID]; exists {
		return nil
	}
	clone := *event
	m.events[event.EventID] = &clone
	return nil
}

func (m *MemoryStore) UndeliveredEvents(ctx context.Context, userID string) ([]*models.SystemEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SystemEvent
	for _, e := range m.events {
		if e.UserID == userID && e.DeliveredAt == nil {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkEventsDelivered(ctx context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, id := range eventIDs {
		if e, ok := m.events[id]; ok {
			e.DeliveredAt = &now
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
