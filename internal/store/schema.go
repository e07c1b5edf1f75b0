package store

// schema is executed once at startup via exec, not a migration runner:
// the store owns exactly one SQLite file and there is no multi-version
// upgrade path to manage yet. CREATE TABLE IF NOT EXISTS makes it safe
// to run on every boot.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'member',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_links (
	channel         TEXT NOT NULL,
	channel_address TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TEXT NOT NULL,
	PRIMARY KEY (channel, channel_address)
);
CREATE INDEX IF NOT EXISTS idx_channel_links_user ON channel_links(user_id);

CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	channel      TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	ended_at     TEXT,
	summary      TEXT,
	token_count  INTEGER NOT NULL DEFAULT 0,
	close_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_channel_open
	ON sessions(user_id, channel, ended_at);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	channel      TEXT NOT NULL,
	channel_id   TEXT NOT NULL DEFAULT '',
	direction    TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	attachments  TEXT NOT NULL DEFAULT '[]',
	tool_calls   TEXT NOT NULL DEFAULT '[]',
	tool_results TEXT NOT NULL DEFAULT '[]',
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS agent_memory (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_notes (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_notes_user ON user_notes(user_id, created_at);

CREATE TABLE IF NOT EXISTS preferences (
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS favorites (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_favorites_user ON favorites(user_id, created_at);

CREATE TABLE IF NOT EXISTS activity_log (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_user ON activity_log(user_id, created_at);

CREATE TABLE IF NOT EXISTS cron_jobs (
	job_id               TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	cron_expr            TEXT NOT NULL,
	message               TEXT NOT NULL DEFAULT '',
	channel              TEXT NOT NULL,
	enabled              INTEGER NOT NULL DEFAULT 1,
	processor            TEXT NOT NULL,
	plan_json            TEXT NOT NULL DEFAULT '',
	notify_condition     TEXT NOT NULL DEFAULT 'always',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cron_jobs_user ON cron_jobs(user_id);

CREATE TABLE IF NOT EXISTS cron_execution_log (
	log_id      TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	executed_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cron_exec_job ON cron_execution_log(job_id, executed_at);

CREATE TABLE IF NOT EXISTS reminders (
	reminder_id TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	channel     TEXT NOT NULL,
	run_at      TEXT NOT NULL,
	cron_expr   TEXT,
	processor   TEXT NOT NULL,
	plan_json   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TEXT NOT NULL,
	sent_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, run_at);
CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user_id);

CREATE TABLE IF NOT EXISTS background_tasks (
	task_id          TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	parent_session   TEXT,
	fallback_channel TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	plan             TEXT NOT NULL,
	result           TEXT,
	error            TEXT,
	started_at       TEXT NOT NULL,
	completed_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_bg_tasks_user ON background_tasks(user_id, started_at);

CREATE TABLE IF NOT EXISTS delegation_log (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	task       TEXT NOT NULL,
	plan_json  TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_events (
	event_id     TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	payload      TEXT NOT NULL DEFAULT '{}',
	delivered_at TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user_pending ON system_events(user_id, delivered_at);
`
