package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AgentStart describes an agent entering the active state.
type AgentStart struct {
	ID            string
	SessionID     string
	AgentName     string
	AgentType     string
	ParentAgentID string
}

// AgentCompletion carries the fields persisted when an agent stops.
type AgentCompletion struct {
	ID            string
	SessionID     string
	AgentName     string
	AgentType     string
	ParentAgentID string
	Summary       string
	InputTokens   int64
	OutputTokens  int64
}

// AgentFilter narrows ListAgents. Zero-valued fields are ignored.
type AgentFilter struct {
	SessionID     string
	ProjectID     string
	ParentAgentID string
	AgentType     string
	AgentName     string
	Status        string
	ExcludeID     string
	WithSummary   bool
	// NewestFirst orders by completion (then start) time descending.
	NewestFirst bool
	Limit       int
}

const agentColumns = `a.id, a.session_id, a.agent_name, COALESCE(a.agent_type, ''),
	COALESCE(a.parent_agent_id, ''), a.status, a.started_at, a.completed_at,
	COALESCE(a.context_summary, ''), a.input_tokens, a.output_tokens`

// UpsertAgentStart marks an agent active, creating it if needed. Known
// name, type and parent are kept when the new values are empty.
func (s *Store) UpsertAgentStart(ctx context.Context, a AgentStart) error {
	if a.ID == "" || a.SessionID == "" {
		return fmt.Errorf("upsert agent: id and session id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, session_id, agent_name, agent_type, parent_agent_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			status = 'active',
			completed_at = NULL,
			agent_name = CASE WHEN excluded.agent_name = '' THEN agents.agent_name ELSE excluded.agent_name END,
			agent_type = COALESCE(excluded.agent_type, agents.agent_type),
			parent_agent_id = COALESCE(excluded.parent_agent_id, agents.parent_agent_id)`,
		a.ID, a.SessionID, a.AgentName, NullString(a.AgentType), NullString(a.ParentAgentID),
		FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// CompleteAgent records an agent stop. A stop for an unknown agent creates
// it already completed. Token counters are written once: a non-zero stored
// value is never overwritten.
func (s *Store) CompleteAgent(ctx context.Context, c AgentCompletion) error {
	if c.ID == "" || c.SessionID == "" {
		return fmt.Errorf("complete agent: id and session id are required")
	}
	now := FormatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, session_id, agent_name, agent_type, parent_agent_id, status,
			started_at, completed_at, context_summary, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, 'completed', ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = 'completed',
			completed_at = excluded.completed_at,
			context_summary = COALESCE(excluded.context_summary, agents.context_summary),
			agent_name = CASE WHEN agents.agent_name = '' THEN excluded.agent_name ELSE agents.agent_name END,
			agent_type = COALESCE(agents.agent_type, excluded.agent_type),
			parent_agent_id = COALESCE(agents.parent_agent_id, excluded.parent_agent_id),
			input_tokens = CASE WHEN agents.input_tokens = 0 THEN excluded.input_tokens ELSE agents.input_tokens END,
			output_tokens = CASE WHEN agents.output_tokens = 0 THEN excluded.output_tokens ELSE agents.output_tokens END`,
		c.ID, c.SessionID, c.AgentName, NullString(c.AgentType), NullString(c.ParentAgentID),
		now, now, NullString(c.Summary), c.InputTokens, c.OutputTokens)
	if err != nil {
		return fmt.Errorf("complete agent: %w", err)
	}
	return nil
}

// GetAgent returns (nil, nil) when the agent is unknown.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents a WHERE a.id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) CountActiveAgents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE session_id = ? AND status = 'active'`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active agents: %w", err)
	}
	return n, nil
}

// ListAgents returns agents matching f.
func (s *Store) ListAgents(ctx context.Context, f AgentFilter) ([]Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a`
	var where []string
	var args []any
	if f.ProjectID != "" {
		query += ` JOIN sessions s ON s.id = a.session_id`
		where = append(where, `s.project_id = ?`)
		args = append(args, f.ProjectID)
	}
	if f.SessionID != "" {
		where = append(where, `a.session_id = ?`)
		args = append(args, f.SessionID)
	}
	if f.ParentAgentID != "" {
		where = append(where, `a.parent_agent_id = ?`)
		args = append(args, f.ParentAgentID)
	}
	if f.AgentType != "" {
		where = append(where, `a.agent_type = ?`)
		args = append(args, f.AgentType)
	}
	if f.AgentName != "" {
		where = append(where, `a.agent_name = ?`)
		args = append(args, f.AgentName)
	}
	if f.Status != "" {
		where = append(where, `a.status = ?`)
		args = append(args, f.Status)
	}
	if f.ExcludeID != "" {
		where = append(where, `a.id != ?`)
		args = append(args, f.ExcludeID)
	}
	if f.WithSummary {
		where = append(where, `COALESCE(a.context_summary, '') != ''`)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if f.NewestFirst {
		query += ` ORDER BY COALESCE(a.completed_at, a.started_at) DESC, a.rowid DESC`
	} else {
		query += ` ORDER BY a.started_at ASC, a.rowid ASC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CompleteStaleAgents force-completes agents that have been active since
// before cutoff and returns them.
func (s *Store) CompleteStaleAgents(ctx context.Context, cutoff time.Time) ([]Agent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("complete stale agents: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents a WHERE a.status = 'active' AND a.started_at < ? ORDER BY a.started_at`,
		FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("select stale agents: %w", err)
	}
	var stale []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		stale = append(stale, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	now := s.now()
	ids := make([]any, 0, len(stale)+1)
	ids = append(ids, FormatTime(now))
	for _, a := range stale {
		ids = append(ids, a.ID)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE agents SET status = 'completed', completed_at = ? WHERE status = 'active' AND id IN (`+placeholders(len(stale))+`)`,
		ids...)
	if err != nil {
		return nil, fmt.Errorf("complete stale agents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("complete stale agents commit: %w", err)
	}
	for i := range stale {
		stale[i].Status = AgentCompleted
		t := now
		stale[i].CompletedAt = &t
	}
	return stale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(r rowScanner) (*Agent, error) {
	var a Agent
	var started, completed NullTime
	if err := r.Scan(&a.ID, &a.SessionID, &a.AgentName, &a.AgentType, &a.ParentAgentID,
		&a.Status, &started, &completed, &a.ContextSummary, &a.InputTokens, &a.OutputTokens); err != nil {
		return nil, err
	}
	a.StartedAt = started.Time
	a.CompletedAt = completed.Ptr()
	return &a, nil
}
