package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertSession registers a session as active. A re-registration with an
// empty projectID keeps the stored project.
func (s *Store) UpsertSession(ctx context.Context, id, projectID string) error {
	if id == "" {
		return fmt.Errorf("upsert session: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, started_at)
		VALUES (?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = COALESCE(excluded.project_id, sessions.project_id),
			status = 'active',
			ended_at = NULL`,
		id, NullString(projectID), FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// EnsureSession creates the session if it does not exist without touching
// the status of an existing row. It reports whether a row was created.
func (s *Store) EnsureSession(ctx context.Context, id, projectID string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("ensure session: empty id")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, started_at)
		VALUES (?, ?, 'active', ?)
		ON CONFLICT(id) DO NOTHING`,
		id, NullString(projectID), FormatTime(s.now()))
	if err != nil {
		return false, fmt.Errorf("ensure session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 && projectID != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET project_id = ? WHERE id = ? AND project_id IS NULL`, projectID, id)
		if err != nil {
			return false, fmt.Errorf("ensure session project: %w", err)
		}
	}
	return n > 0, nil
}

// GetSession returns (nil, nil) when the session is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var started, ended NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(project_id, ''), status, started_at, ended_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ProjectID, &sess.Status, &started, &ended)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.StartedAt = started.Time
	sess.EndedAt = ended.Ptr()
	return &sess, nil
}

// SessionProject returns the session's project id, "" when the session is
// unknown or has no project.
func (s *Store) SessionProject(ctx context.Context, id string) (string, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.ProjectID, nil
}

// EndSession marks the session ended and completes every active agent in
// it within one transaction. It returns the number of agents completed.
func (s *Store) EndSession(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("end session: %w", err)
	}
	defer tx.Rollback()

	now := FormatTime(s.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = ? WHERE id = ?`, now, id); err != nil {
		return 0, fmt.Errorf("end session: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE agents SET status = 'completed', completed_at = COALESCE(completed_at, ?)
		WHERE session_id = ? AND status = 'active'`, now, id)
	if err != nil {
		return 0, fmt.Errorf("end session agents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("end session commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReactivateSession flips an ended session back to active. It reports
// whether the session was ended before the call.
func (s *Store) ReactivateSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'active', ended_at = NULL WHERE id = ? AND status = 'ended'`, id)
	if err != nil {
		return false, fmt.Errorf("reactivate session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
