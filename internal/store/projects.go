package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// projectNamespace seeds deterministic project ids derived from paths.
var projectNamespace = uuid.MustParse("6f1d8a52-3c0e-4b8e-9f57-2a9d4c61b0e3")

// ProjectID returns the stable id for a project root.
func ProjectID(path string) string {
	return uuid.NewSHA1(projectNamespace, []byte(filepath.Clean(path))).String()
}

// UpsertProject registers a project root. Re-registering the same path
// keeps its id and refreshes the name.
func (s *Store) UpsertProject(ctx context.Context, path, name string) (*Project, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("upsert project: empty path")
	}
	path = filepath.Clean(path)
	if name == "" {
		name = filepath.Base(path)
	}
	now := FormatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		ProjectID(path), name, path, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert project: %w", err)
	}
	return s.GetProjectByPath(ctx, path)
}

// GetProjectByPath returns (nil, nil) when no project is registered at path.
func (s *Store) GetProjectByPath(ctx context.Context, path string) (*Project, error) {
	var p Project
	var created NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE path = ?`, filepath.Clean(path),
	).Scan(&p.ID, &p.Name, &p.Path, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.CreatedAt = created.Time
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, created_at FROM projects ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var created NullTime
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = created.Time
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResolveProjectByPath returns the id of the project with the longest
// registered path that equals cwd or is a directory prefix of it.
// Returns "" when nothing matches.
func (s *Store) ResolveProjectByPath(ctx context.Context, cwd string) (string, error) {
	if strings.TrimSpace(cwd) == "" {
		return "", nil
	}
	cwd = filepath.Clean(cwd)
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	best, bestLen := "", -1
	for _, p := range projects {
		if !pathWithin(cwd, p.Path) {
			continue
		}
		if len(p.Path) > bestLen {
			best, bestLen = p.ID, len(p.Path)
		}
	}
	return best, nil
}

func pathWithin(cwd, root string) bool {
	if cwd == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(cwd, root)
	}
	return strings.HasPrefix(cwd, root+string(filepath.Separator))
}
