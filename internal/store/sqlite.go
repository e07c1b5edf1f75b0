package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/graphbot-ai/graphbot/pkg/models"
)

// SQLiteStore is the durable store backed by a single embedded SQLite
// database file, matching spec §6's "one embedded DB, no external
// services" deployment model.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: single writer is simplest and correct
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func newID() string { return uuid.NewString() }

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func toJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// --- Users and identity -----------------------------------------------

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, password_hash, role, created_at FROM users WHERE user_id = ?`, userID,
	).Scan(&u.ID, &u.DisplayName, &u.PasswordHash, &u.Role, &createdAt)
	if err == nil {
		u.CreatedAt = parseTS(createdAt)
		return &u, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("store: get user: %w", err)
	}

	u = models.User{ID: userID, Role: models.AccessRoleMember, CreatedAt: time.Now()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, display_name, password_hash, role, created_at) VALUES (?, '', '', ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		u.ID, u.Role, ts(u.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) SetUserRole(ctx context.Context, userID string, role models.AccessRole) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE user_id = ?`, role, userID)
	return err
}

func (s *SQLiteStore) ResolveChannel(ctx context.Context, channel, channelAddress string) (*models.ChannelLink, error) {
	var link models.ChannelLink
	var meta, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, channel, channel_address, metadata, created_at FROM channel_links
		 WHERE channel = ? AND channel_address = ?`, channel, channelAddress,
	).Scan(&link.UserID, &link.Channel, &link.ChannelAddress, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve channel: %w", err)
	}
	link.CreatedAt = parseTS(createdAt)
	_ = json.Unmarshal([]byte(meta), &link.Metadata)
	return &link, nil
}

func (s *SQLiteStore) LinkChannel(ctx context.Context, link *models.ChannelLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_links (channel, channel_address, user_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(channel, channel_address) DO UPDATE SET user_id = excluded.user_id, metadata = excluded.metadata`,
		link.Channel, link.ChannelAddress, link.UserID, toJSON(link.Metadata), ts(link.CreatedAt))
	return err
}

// ChannelAddressForUser reverses ResolveChannel's lookup for outbound
// delivery: given a user and channel, finds the linked platform address.
func (s *SQLiteStore) ChannelAddressForUser(ctx context.Context, userID string, channel models.ChannelType) (string, error) {
	var address string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_address FROM channel_links WHERE user_id = ? AND channel = ? LIMIT 1`,
		userID, string(channel),
	).Scan(&address)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: channel address for user: %w", err)
	}
	return address, nil
}

// --- Sessions ------------------------------------------------------------

func (s *SQLiteStore) OpenSession(ctx context.Context, userID string, channel models.ChannelType) (*models.Session, error) {
	sess := &models.Session{
		ID:        newID(),
		UserID:    userID,
		Channel:   channel,
		StartedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, channel, started_at, token_count) VALUES (?, ?, ?, ?, 0)`,
		sess.ID, sess.UserID, sess.Channel, ts(sess.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("store: open session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetOpenSession(ctx context.Context, userID string, channel models.ChannelType) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, channel, started_at, token_count, summary
		 FROM sessions WHERE user_id = ? AND channel = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, userID, channel)

	var sess models.Session
	var startedAt string
	var summary sql.NullString
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Channel, &startedAt, &sess.TokenCount, &summary)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get open session: %w", err)
	}
	sess.StartedAt = parseTS(startedAt)
	if summary.Valid {
		sess.Summary = &summary.String
	}
	return &sess, nil
}

// EndSession closes a still-open session. The WHERE ended_at IS NULL
// clause makes this idempotent under concurrent rotation attempts: only
// the first caller's UPDATE matches a row, so the boolean return tells
// the caller whether it actually performed the close.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, summary *string, reason models.CloseReason) (bool, error) {
	now := ts(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, summary = ?, close_reason = ?
		 WHERE session_id = ? AND ended_at IS NULL`,
		now, summary, reason, sessionID)
	if err != nil {
		return false, fmt.Errorf("store: end session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) CountOpenSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND ended_at IS NULL`, userID).Scan(&n)
	return n, err
}

// --- Messages ------------------------------------------------------------

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, channel, channel_id, direction, role, content,
			attachments, tool_calls, tool_results, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Channel, msg.ChannelID, msg.Direction, msg.Role, msg.Content,
		toJSON(msg.Attachments), toJSON(msg.ToolCalls), toJSON(msg.ToolResults), toJSON(msg.Metadata),
		ts(msg.CreatedAt))
	return err
}

// RecentMessages returns up to limit messages for a session, oldest first
// (matching §4.2's "fetch ≤N messages" ordering used by rotate_session).
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, channel, channel_id, direction, role, content,
			attachments, tool_calls, tool_results, metadata, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var attachments, toolCalls, toolResults, metadata, createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Channel, &m.ChannelID, &m.Direction, &m.Role, &m.Content,
			&attachments, &toolCalls, &toolResults, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		_ = json.Unmarshal([]byte(attachments), &m.Attachments)
		_ = json.Unmarshal([]byte(toolCalls), &m.ToolCalls)
		_ = json.Unmarshal([]byte(toolResults), &m.ToolResults)
		_ = json.Unmarshal([]byte(metadata), &m.Metadata)
		m.CreatedAt = parseTS(createdAt)
		out = append(out, m)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// --- Semantic memory -------------------------------------------------------

func (s *SQLiteStore) GetAgentMemory(ctx context.Context, key string) (*models.AgentMemory, error) {
	var m models.AgentMemory
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM agent_memory WHERE key = ?`, key).
		Scan(&m.Key, &m.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent memory: %w", err)
	}
	m.UpdatedAt = parseTS(updatedAt)
	return &m, nil
}

func (s *SQLiteStore) SetAgentMemory(ctx context.Context, mem *models.AgentMemory) error {
	mem.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_memory (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		mem.Key, mem.Value, ts(mem.UpdatedAt))
	return err
}

func (s *SQLiteStore) AddUserNote(ctx context.Context, note *models.UserNote) error {
	if note.ID == "" {
		note.ID = newID()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_notes (id, user_id, content, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		note.ID, note.UserID, note.Content, note.Source, ts(note.CreatedAt))
	return err
}

func (s *SQLiteStore) ListUserNotes(ctx context.Context, userID string, limit int) ([]*models.UserNote, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, source, created_at FROM user_notes
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.UserNote
	for rows.Next() {
		n := &models.UserNote{}
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Content, &n.Source, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTS(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetPreference(ctx context.Context, pref *models.Preference) error {
	pref.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		pref.UserID, pref.Key, pref.Value, ts(pref.UpdatedAt))
	return err
}

func (s *SQLiteStore) ListPreferences(ctx context.Context, userID string) ([]*models.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, key, value, updated_at FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Preference
	for rows.Next() {
		p := &models.Preference{}
		var updatedAt string
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseTS(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddFavorite(ctx context.Context, fav *models.Favorite) error {
	if fav.ID == "" {
		fav.ID = newID()
	}
	if fav.CreatedAt.IsZero() {
		fav.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (id, user_id, item_id, title, created_at) VALUES (?, ?, ?, ?, ?)`,
		fav.ID, fav.UserID, fav.ItemID, fav.Title, ts(fav.CreatedAt))
	return err
}

func (s *SQLiteStore) ListFavorites(ctx context.Context, userID string, limit int) ([]*models.Favorite, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, item_id, title, created_at FROM favorites
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Favorite
	for rows.Next() {
		f := &models.Favorite{}
		var createdAt string
		if err := rows.Scan(&f.ID, &f.UserID, &f.ItemID, &f.Title, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTS(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LogActivity(ctx context.Context, entry *models.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Action, entry.Detail, ts(entry.CreatedAt))
	return err
}

func (s *SQLiteStore) ListActivity(ctx context.Context, userID string, limit int) ([]*models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action, detail, created_at FROM activity_log
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ActivityLog
	for rows.Next() {
		a := &models.ActivityLog{}
		var createdAt string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Detail, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTS(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Cron jobs -------------------------------------------------------------

func (s *SQLiteStore) CreateCronJob(ctx context.Context, job *models.CronJob) error {
	if job.JobID == "" {
		job.JobID = newID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.NotifyCondition == "" {
		job.NotifyCondition = models.NotifyAlways
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (job_id, user_id, cron_expr, message, channel, enabled, processor,
			plan_json, notify_condition, consecutive_failures, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		job.JobID, job.UserID, job.CronExpr, job.Message, job.Channel, job.Enabled, job.Processor,
		job.PlanJSON, job.NotifyCondition, ts(job.CreatedAt))
	return err
}

func scanCronJob(row interface{ Scan(...any) error }) (*models.CronJob, error) {
	j := &models.CronJob{}
	var createdAt string
	err := row.Scan(&j.JobID, &j.UserID, &j.CronExpr, &j.Message, &j.Channel, &j.Enabled, &j.Processor,
		&j.PlanJSON, &j.NotifyCondition, &j.ConsecutiveFailures, &createdAt)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = parseTS(createdAt)
	return j, nil
}

const cronJobCols = `job_id, user_id, cron_expr, message, channel, enabled, processor, plan_json, notify_condition, consecutive_failures, created_at`

func (s *SQLiteStore) GetCronJob(ctx context.Context, jobID string) (*models.CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cronJobCols+` FROM cron_jobs WHERE job_id = ?`, jobID)
	j, err := scanCronJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cron job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) ListCronJobs(ctx context.Context, userID string) ([]*models.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cronJobCols+` FROM cron_jobs WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CronJob
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListEnabledCronJobs(ctx context.Context) ([]*models.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cronJobCols+` FROM cron_jobs WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CronJob
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetCronJobEnabled(ctx context.Context, jobID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cron_jobs SET enabled = ? WHERE job_id = ?`, enabled, jobID)
	return err
}

func (s *SQLiteStore) IncrementCronFailures(ctx context.Context, jobID string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET consecutive_failures = consecutive_failures + 1 WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT consecutive_failures FROM cron_jobs WHERE job_id = ?`, jobID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ResetCronFailures(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cron_jobs SET consecutive_failures = 0 WHERE job_id = ?`, jobID)
	return err
}

func (s *SQLiteStore) RecordCronExecution(ctx context.Context, log *models.CronExecutionLog) error {
	if log.LogID == "" {
		log.LogID = newID()
	}
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_execution_log (log_id, job_id, executed_at, status, result, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.LogID, log.JobID, ts(log.ExecutedAt), log.Status, log.Result, log.DurationMs)
	return err
}

// --- Reminders ---------------------------------------------------------------

func (s *SQLiteStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	if r.ReminderID == "" {
		r.ReminderID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = models.ReminderPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (reminder_id, user_id, channel, run_at, cron_expr, processor, plan_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReminderID, r.UserID, r.Channel, ts(r.RunAt), r.CronExpr, r.Processor, r.PlanJSON, r.Status, ts(r.CreatedAt))
	return err
}

func scanReminder(row interface{ Scan(...any) error }) (*models.Reminder, error) {
	r := &models.Reminder{}
	var runAt, createdAt string
	var sentAt sql.NullString
	err := row.Scan(&r.ReminderID, &r.UserID, &r.Channel, &runAt, &r.CronExpr, &r.Processor, &r.PlanJSON,
		&r.Status, &createdAt, &sentAt)
	if err != nil {
		return nil, err
	}
	r.RunAt = parseTS(runAt)
	r.CreatedAt = parseTS(createdAt)
	if sentAt.Valid {
		t := parseTS(sentAt.String)
		r.SentAt = &t
	}
	return r, nil
}

const reminderCols = `reminder_id, user_id, channel, run_at, cron_expr, processor, plan_json, status, created_at, sent_at`

func (s *SQLiteStore) GetReminder(ctx context.Context, reminderID string) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE reminder_id = ?`, reminderID)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get reminder: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReminders(ctx context.Context, userID string) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DuePendingReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE status = 'pending' AND run_at <= ?`, ts(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetReminderStatus(ctx context.Context, reminderID string, status models.ReminderStatus, sentAt *time.Time) error {
	var sentStr any
	if sentAt != nil {
		sentStr = ts(*sentAt)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, sent_at = ? WHERE reminder_id = ?`, status, sentStr, reminderID)
	return err
}

func (s *SQLiteStore) CancelReminder(ctx context.Context, reminderID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = 'cancelled' WHERE reminder_id = ? AND user_id = ? AND status = 'pending'`,
		reminderID, userID)
	return err
}

// --- Background tasks --------------------------------------------------------

func (s *SQLiteStore) CreateBackgroundTask(ctx context.Context, task *models.BackgroundTask) error {
	if task.TaskID == "" {
		task.TaskID = newID()
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.BackgroundTaskRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO background_tasks (task_id, user_id, parent_session, fallback_channel, status, plan, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.UserID, task.ParentSessionID, task.FallbackChannel, task.Status, task.Plan, ts(task.StartedAt))
	return err
}

func (s *SQLiteStore) GetBackgroundTask(ctx context.Context, taskID string) (*models.BackgroundTask, error) {
	t := &models.BackgroundTask{}
	var startedAt string
	var completedAt, result, taskErr, parentSession sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, user_id, parent_session, fallback_channel, status, plan, result, error, started_at, completed_at
		 FROM background_tasks WHERE task_id = ?`, taskID,
	).Scan(&t.TaskID, &t.UserID, &parentSession, &t.FallbackChannel, &t.Status, &t.Plan, &result, &taskErr, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get background task: %w", err)
	}
	t.StartedAt = parseTS(startedAt)
	if parentSession.Valid {
		t.ParentSessionID = &parentSession.String
	}
	if result.Valid {
		t.Result = &result.String
	}
	if taskErr.Valid {
		t.Error = &taskErr.String
	}
	if completedAt.Valid {
		c := parseTS(completedAt.String)
		t.CompletedAt = &c
	}
	return t, nil
}

func (s *SQLiteStore) CompleteBackgroundTask(ctx context.Context, taskID string, result *string, taskErr *string) error {
	status := models.BackgroundTaskCompleted
	if taskErr != nil {
		status = models.BackgroundTaskFailed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, result = ?, error = ?, completed_at = ? WHERE task_id = ?`,
		status, result, taskErr, ts(time.Now()), taskID)
	return err
}

func (s *SQLiteStore) ListBackgroundTasks(ctx context.Context, userID string, limit int) ([]*models.BackgroundTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, user_id, parent_session, fallback_channel, status, plan, result, error, started_at, completed_at
		 FROM background_tasks WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.BackgroundTask
	for rows.Next() {
		t := &models.BackgroundTask{}
		var startedAt string
		var completedAt, result, taskErr, parentSession sql.NullString
		if err := rows.Scan(&t.TaskID, &t.UserID, &parentSession, &t.FallbackChannel, &t.Status, &t.Plan, &result, &taskErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		t.StartedAt = parseTS(startedAt)
		if parentSession.Valid {
			t.ParentSessionID = &parentSession.String
		}
		if result.Valid {
			t.Result = &result.String
		}
		if taskErr.Valid {
			t.Error = &taskErr.String
		}
		if completedAt.Valid {
			c := parseTS(completedAt.String)
			t.CompletedAt = &c
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordDelegation(ctx context.Context, log *models.DelegationLog) error {
	if log.ID == "" {
		log.ID = newID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delegation_log (id, user_id, task, plan_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.Task, log.PlanJSON, ts(log.CreatedAt))
	return err
}

// --- Event bus -----------------------------------------------------------

func (s *SQLiteStore) EnqueueEvent(ctx context.Context, event *models.SystemEvent) error {
	if event.EventID == "" {
		event.EventID = newID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_events (event_id, user_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		event.EventID, event.UserID, event.Kind, toJSON(event.Payload), ts(event.CreatedAt))
	return err
}

func (s *SQLiteStore) UndeliveredEvents(ctx context.Context, userID string) ([]*models.SystemEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, user_id, kind, payload, created_at FROM system_events
		 WHERE user_id = ? AND delivered_at IS NULL ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SystemEvent
	for rows.Next() {
		e := &models.SystemEvent{}
		var payload, createdAt string
		if err := rows.Scan(&e.EventID, &e.UserID, &e.Kind, &payload, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		e.CreatedAt = parseTS(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkEventsDelivered(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := ts(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE system_events SET delivered_at = ? WHERE event_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range eventIDs {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
