package store

import "time"

// Session is a top-level agent-runtime session keyed by the caller's id.
type Session struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id,omitempty"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Agent is a spawned sub-agent. ParentAgentID forms a tree; only direct
// parent/children are ever looked up.
type Agent struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	AgentName      string     `json:"agent_name"`
	AgentType      string     `json:"agent_type,omitempty"`
	ParentAgentID  string     `json:"parent_agent_id,omitempty"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ContextSummary string     `json:"context_summary,omitempty"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
}

// ContextEntry is a free-form note attached to a session.
type ContextEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	EntryType string    `json:"entry_type"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasTag reports whether the entry carries tag (exact match).
func (e *ContextEntry) HasTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Task is owned by the CRUD layer; hivemind reads it and flips status and
// assignment as a side effect of agent lifecycle events.
type Task struct {
	ID          int64      `json:"id"`
	ProjectID   string     `json:"project_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskComment is an audit or narrative note on a task.
type TaskComment struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	Author      string    `json:"author"`
	CommentType string    `json:"comment_type"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Project maps a filesystem root to a project id.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// FileChange records an Edit/Write tool call.
type FileChange struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	FilePath   string    `json:"file_path"`
	ChangeType string    `json:"change_type"`
	ToolName   string    `json:"tool_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScheduledJobRecord tracks periodic job runs.
type ScheduledJobRecord struct {
	JobName    string     `json:"job_name"`
	LastStatus string     `json:"last_status"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	RunCount   int        `json:"run_count"`
}

const (
	SessionActive = "active"
	SessionEnded  = "ended"

	AgentActive    = "active"
	AgentCompleted = "completed"

	TaskIdea        = "idea"
	TaskPlanned     = "planned"
	TaskPending     = "pending"
	TaskInProgress  = "in_progress"
	TaskNeedsReview = "needs_review"
	TaskCompleted   = "completed"
	TaskCancelled   = "cancelled"

	EntryDecision     = "decision"
	EntryBlocker      = "blocker"
	EntryHandoff      = "handoff"
	EntryAgentSummary = "agent_summary"
	EntryPlan         = "plan"
	EntryTodoWarning  = "todo_warning"
	EntryNote         = "note"

	CommentNote         = "comment"
	CommentPlan         = "plan"
	CommentResult       = "result"
	CommentStatusChange = "status_change"

	ChangeCreated  = "created"
	ChangeModified = "modified"
)

// Schema is applied on every open. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	path TEXT UNIQUE NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	started_at DATETIME NOT NULL,
	ended_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	agent_name TEXT NOT NULL DEFAULT '',
	agent_type TEXT,
	parent_agent_id TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	context_summary TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id, status);
CREATE INDEX IF NOT EXISTS idx_agents_parent ON agents(parent_agent_id);
CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(agent_type, status);

CREATE TABLE IF NOT EXISTS context_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT,
	entry_type TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_context_entries_session ON context_entries(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_context_entries_type ON context_entries(entry_type);

CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT,
	project_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	subtitle TEXT,
	narrative TEXT,
	facts TEXT,
	concepts TEXT,
	files_read TEXT,
	files_modified TEXT,
	discovery_tokens INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	resolved_at DATETIME,
	promoted_to TEXT,
	embedding BLOB,
	embedding_hash TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_observations_pending_embedding ON observations(id) WHERE embedding IS NULL;

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_to TEXT,
	tags TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assigned_to, status);

CREATE TABLE IF NOT EXISTS task_comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	comment_type TEXT NOT NULL DEFAULT 'comment',
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_comments_task ON task_comments(task_id, comment_type);

CREATE TABLE IF NOT EXISTS file_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT,
	file_path TEXT NOT NULL,
	change_type TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_changes_session ON file_changes(session_id);

CREATE TABLE IF NOT EXISTS statusline (
	session_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS hook_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	event_name TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_name TEXT UNIQUE NOT NULL,
	last_status TEXT DEFAULT '',
	last_run_at DATETIME,
	run_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
