package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/KafClaw/hivemind/internal/store"
)

// Search returns observations for q. With a non-empty query and an enabled
// embedder it ranks embedded rows by cosine distance; an empty or failed
// vector search falls back to keyword matching. Promoted rows are never
// returned.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]Observation, error) {
	if q.Limit <= 0 {
		q.Limit = s.opts.SearchLimit
	}
	if q.Days == 0 {
		q.Days = s.opts.SearchDays
	}

	if strings.TrimSpace(q.Query) != "" && s.embedder.Enabled() {
		results, err := s.vectorSearch(ctx, q)
		if err != nil {
			slog.Warn("Vector search failed, falling back to keyword search", "error", err)
		} else if len(results) > 0 {
			return results, nil
		}
	}
	return s.keywordSearch(ctx, q)
}

// searchFilter builds the WHERE clause shared by both search paths.
func (s *Service) searchFilter(q SearchQuery) ([]string, []any) {
	where := []string{`o.promoted_to IS NULL`}
	var args []any
	if q.ProjectID != "" {
		where = append(where, `o.project_id = ?`)
		args = append(args, q.ProjectID)
	}
	if q.Type != "" {
		where = append(where, `o.type = ?`)
		args = append(args, q.Type)
	}
	if q.AgentName != "" {
		where = append(where, `o.agent_id IN (SELECT id FROM agents WHERE agent_name = ?)`)
		args = append(args, q.AgentName)
	}
	if q.Days > 0 {
		since := s.store.Now().Add(-time.Duration(q.Days) * 24 * time.Hour)
		where = append(where, `o.created_at >= ?`)
		args = append(args, store.FormatTime(since))
	}
	return where, args
}

func (s *Service) vectorSearch(ctx context.Context, q SearchQuery) ([]Observation, error) {
	query := s.embedder.Embed(ctx, q.Query)
	if query == nil {
		return nil, fmt.Errorf("query embedding unavailable")
	}

	where, args := s.searchFilter(q)
	where = append(where, `o.embedding IS NOT NULL`)
	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+`, o.embedding FROM observations o
		WHERE `+strings.Join(where, ` AND `), args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var candidates []Observation
	for rows.Next() {
		var blob []byte
		o, err := scanObservation(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		stored := decodeFloat32s(blob)
		if len(stored) != len(query) {
			continue
		}
		o.Distance = cosineDistance(query, stored)
		candidates = append(candidates, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID > candidates[j].ID
	})
	if len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}
	return candidates, nil
}

func (s *Service) keywordSearch(ctx context.Context, q SearchQuery) ([]Observation, error) {
	where, args := s.searchFilter(q)
	if term := strings.TrimSpace(q.Query); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		where = append(where, `(o.title LIKE ? ESCAPE '\'
			OR COALESCE(o.subtitle, '') LIKE ? ESCAPE '\'
			OR COALESCE(o.narrative, '') LIKE ? ESCAPE '\'
			OR COALESCE((SELECT group_concat(value, ' ') FROM json_each(o.concepts)), '') LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations o
		WHERE `+strings.Join(where, ` AND `)+`
		ORDER BY o.created_at DESC, o.id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return scanObservations(rows)
}

// escapeLike makes \, % and _ match literally under ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
