package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecordFileChange stores one Edit/Write tool call.
func (s *Store) RecordFileChange(ctx context.Context, fc FileChange) (int64, error) {
	if fc.SessionID == "" || fc.FilePath == "" {
		return 0, fmt.Errorf("record file change: session id and path are required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_changes (session_id, agent_id, file_path, change_type, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fc.SessionID, NullString(fc.AgentID), fc.FilePath, fc.ChangeType, fc.ToolName, FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("record file change: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ListFileChanges(ctx context.Context, sessionID string) ([]FileChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, COALESCE(agent_id, ''), file_path, change_type, tool_name, created_at
		FROM file_changes WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list file changes: %w", err)
	}
	defer rows.Close()

	var out []FileChange
	for rows.Next() {
		var fc FileChange
		var created NullTime
		if err := rows.Scan(&fc.ID, &fc.SessionID, &fc.AgentID, &fc.FilePath, &fc.ChangeType, &fc.ToolName, &created); err != nil {
			return nil, err
		}
		fc.CreatedAt = created.Time
		out = append(out, fc)
	}
	return out, rows.Err()
}

// UpsertStatusline replaces the stored statusline payload of a session.
func (s *Store) UpsertStatusline(ctx context.Context, sessionID string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statusline (session_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		sessionID, string(payload), FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert statusline: %w", err)
	}
	return nil
}

// GetStatusline returns nil when nothing is stored.
func (s *Store) GetStatusline(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM statusline WHERE session_id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get statusline: %w", err)
	}
	return json.RawMessage(payload), nil
}

// LogHookEvent stores an already-sanitized hook payload.
func (s *Store) LogHookEvent(ctx context.Context, sessionID, eventName string, payload json.RawMessage) (int64, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hook_events (session_id, event_name, payload, created_at) VALUES (?, ?, ?, ?)`,
		NullString(sessionID), eventName, string(payload), FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("log hook event: %w", err)
	}
	return res.LastInsertId()
}

// CountHookEvents returns how many events named eventName were logged.
func (s *Store) CountHookEvents(ctx context.Context, eventName string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hook_events WHERE event_name = ?`, eventName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hook events: %w", err)
	}
	return n, nil
}

// UpsertScheduledJob records one run of a periodic job.
func (s *Store) UpsertScheduledJob(ctx context.Context, jobName, status string, runAt time.Time) error {
	now := FormatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (job_name, last_status, last_run_at, run_count, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = scheduled_jobs.run_count + 1,
			updated_at = excluded.updated_at`,
		jobName, status, FormatTime(runAt), now, now)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w", err)
	}
	return nil
}

// GetScheduledJob returns (nil, nil) for a job that never ran.
func (s *Store) GetScheduledJob(ctx context.Context, jobName string) (*ScheduledJobRecord, error) {
	var r ScheduledJobRecord
	var lastRun NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT job_name, COALESCE(last_status, ''), last_run_at, run_count
		FROM scheduled_jobs WHERE job_name = ?`, jobName,
	).Scan(&r.JobName, &r.LastStatus, &lastRun, &r.RunCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	r.LastRunAt = lastRun.Ptr()
	return &r, nil
}
