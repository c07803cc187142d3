package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EntryFilter narrows ListContextEntries. Zero-valued fields are ignored.
//
// MatchTags and MatchTypes combine as a disjunction: an entry passes when
// any of its tags is in MatchTags or its type is in MatchTypes.
type EntryFilter struct {
	SessionID        string
	ProjectID        string
	ExcludeSessionID string
	Types            []string
	MatchTags        []string
	MatchTypes       []string
	NewestFirst      bool
	Limit            int
}

// AddContextEntry appends an entry and returns its id.
func (s *Store) AddContextEntry(ctx context.Context, e ContextEntry) (int64, error) {
	if e.SessionID == "" || e.EntryType == "" {
		return 0, fmt.Errorf("add context entry: session id and type are required")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO context_entries (session_id, agent_id, entry_type, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, NullString(e.AgentID), e.EntryType, e.Content, EncodeList(e.Tags), FormatTime(created))
	if err != nil {
		return 0, fmt.Errorf("add context entry: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ListContextEntries(ctx context.Context, f EntryFilter) ([]ContextEntry, error) {
	query := `SELECT e.id, e.session_id, COALESCE(e.agent_id, ''), e.entry_type, e.content, e.tags, e.created_at
		FROM context_entries e`
	var where []string
	var args []any
	if f.ProjectID != "" {
		query += ` JOIN sessions s ON s.id = e.session_id`
		where = append(where, `s.project_id = ?`)
		args = append(args, f.ProjectID)
	}
	if f.SessionID != "" {
		where = append(where, `e.session_id = ?`)
		args = append(args, f.SessionID)
	}
	if f.ExcludeSessionID != "" {
		where = append(where, `e.session_id != ?`)
		args = append(args, f.ExcludeSessionID)
	}
	if len(f.Types) > 0 {
		where = append(where, `e.entry_type IN (`+placeholders(len(f.Types))+`)`)
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	var match []string
	if len(f.MatchTags) > 0 {
		match = append(match, `EXISTS (SELECT 1 FROM json_each(e.tags) WHERE json_each.value IN (`+placeholders(len(f.MatchTags))+`))`)
		for _, t := range f.MatchTags {
			args = append(args, t)
		}
	}
	if len(f.MatchTypes) > 0 {
		match = append(match, `e.entry_type IN (`+placeholders(len(f.MatchTypes))+`)`)
		for _, t := range f.MatchTypes {
			args = append(args, t)
		}
	}
	if len(match) > 0 {
		where = append(where, `(`+strings.Join(match, ` OR `)+`)`)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if f.NewestFirst {
		query += ` ORDER BY e.created_at DESC, e.id DESC`
	} else {
		query += ` ORDER BY e.created_at ASC, e.id ASC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list context entries: %w", err)
	}
	defer rows.Close()

	var out []ContextEntry
	for rows.Next() {
		var e ContextEntry
		var tags sql.NullString
		var created NullTime
		if err := rows.Scan(&e.ID, &e.SessionID, &e.AgentID, &e.EntryType, &e.Content, &tags, &created); err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		e.Tags = DecodeList(tags)
		e.CreatedAt = created.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteContextEntriesByType removes all entries of one type in a session.
func (s *Store) DeleteContextEntriesByType(ctx context.Context, sessionID, entryType string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM context_entries WHERE session_id = ? AND entry_type = ?`, sessionID, entryType)
	if err != nil {
		return 0, fmt.Errorf("delete context entries: %w", err)
	}
	return res.RowsAffected()
}
