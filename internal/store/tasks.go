package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TaskFilter narrows task queries. Unless AnyProject is set, ProjectID is
// always applied and "" selects tasks without a project.
type TaskFilter struct {
	ProjectID  string
	AnyProject bool
	AssignedTo string
	Statuses   []string
	Limit      int
}

const taskColumns = `id, COALESCE(project_id, ''), title, description, status,
	COALESCE(assigned_to, ''), tags, created_at, updated_at, completed_at`

// CreateTask inserts a task. Status defaults to pending.
func (s *Store) CreateTask(ctx context.Context, t Task) (*Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return nil, fmt.Errorf("create task: empty title")
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (project_id, title, description, status, assigned_to, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		NullString(t.ProjectID), t.Title, t.Description, t.Status, NullString(t.AssignedTo),
		EncodeList(t.Tags), FormatTime(created), FormatTime(created))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetTask(ctx, id)
}

// GetTask returns (nil, nil) when the task does not exist.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func taskWhere(f TaskFilter) (string, []any) {
	var where []string
	var args []any
	if !f.AnyProject {
		where = append(where, `COALESCE(project_id, '') = ?`)
		args = append(args, f.ProjectID)
	}
	if f.AssignedTo != "" {
		where = append(where, `assigned_to = ?`)
		args = append(args, f.AssignedTo)
	}
	if len(f.Statuses) > 0 {
		where = append(where, `status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if len(where) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(where, ` AND `), args
}

// ListTasks returns matching tasks in ascending creation order.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	where, args := taskWhere(f)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *Store) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	where, args := taskWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// ClaimPendingTask assigns one pending task in projectID to agentName and
// moves it to in_progress, writing a status_change comment. Preference goes
// to the oldest task already assigned to agentName, then to the oldest
// unassigned task tagged with agentName or agentType. Returns (nil, nil)
// when nothing is claimable.
func (s *Store) ClaimPendingTask(ctx context.Context, projectID, agentName, agentType string) (*Task, error) {
	if agentName == "" {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM tasks
		WHERE COALESCE(project_id, '') = ? AND status = 'pending' AND assigned_to = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`, projectID, agentName).Scan(&id)
	if err == sql.ErrNoRows {
		tags := []any{agentName}
		if agentType != "" && agentType != agentName {
			tags = append(tags, agentType)
		}
		args := append([]any{projectID}, tags...)
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM tasks
			WHERE COALESCE(project_id, '') = ? AND status = 'pending'
				AND COALESCE(assigned_to, '') = ''
				AND EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE json_each.value IN (`+placeholders(len(tags))+`))
			ORDER BY created_at ASC, id ASC LIMIT 1`, args...).Scan(&id)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	now := FormatTime(s.now())
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'in_progress', assigned_to = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`, agentName, now, id)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	if err := insertComment(ctx, tx, id, agentName, CommentStatusChange,
		fmt.Sprintf("pending -> in_progress (auto-assigned to %s)", agentName), now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim task commit: %w", err)
	}
	return s.GetTask(ctx, id)
}

// CompleteTask moves a task to completed, recording an optional result
// comment and a status_change comment.
func (s *Store) CompleteTask(ctx context.Context, id int64, author, result string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	defer tx.Rollback()

	var prev string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&prev); err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if prev == TaskCompleted {
		return nil
	}
	now := FormatTime(s.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', updated_at = ?, completed_at = ? WHERE id = ?`,
		now, now, id); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if strings.TrimSpace(result) != "" {
		if err := insertComment(ctx, tx, id, author, CommentResult, result, now); err != nil {
			return err
		}
	}
	if err := insertComment(ctx, tx, id, author, CommentStatusChange, prev+" -> completed", now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("complete task commit: %w", err)
	}
	return nil
}

// AddTaskComment appends a comment and returns its id.
func (s *Store) AddTaskComment(ctx context.Context, c TaskComment) (int64, error) {
	if c.CommentType == "" {
		c.CommentType = CommentNote
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_comments (task_id, author, comment_type, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, c.TaskID, c.Author, c.CommentType, c.Content, FormatTime(created))
	if err != nil {
		return 0, fmt.Errorf("add task comment: %w", err)
	}
	return res.LastInsertId()
}

// LatestTaskComment returns the newest comment of commentType, or
// (nil, nil) if there is none.
func (s *Store) LatestTaskComment(ctx context.Context, taskID int64, commentType string) (*TaskComment, error) {
	var c TaskComment
	var created NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, author, comment_type, content, created_at
		FROM task_comments WHERE task_id = ? AND comment_type = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, taskID, commentType,
	).Scan(&c.ID, &c.TaskID, &c.Author, &c.CommentType, &c.Content, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest task comment: %w", err)
	}
	c.CreatedAt = created.Time
	return &c, nil
}

func (s *Store) ListTaskComments(ctx context.Context, taskID int64) ([]TaskComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author, comment_type, content, created_at
		FROM task_comments WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task comments: %w", err)
	}
	defer rows.Close()

	var out []TaskComment
	for rows.Next() {
		var c TaskComment
		var created NullTime
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.CommentType, &c.Content, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = created.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertComment(ctx context.Context, tx *sql.Tx, taskID int64, author, commentType, content, at string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_comments (task_id, author, comment_type, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, taskID, author, commentType, content, at)
	if err != nil {
		return fmt.Errorf("add %s comment: %w", commentType, err)
	}
	return nil
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	var tags sql.NullString
	var created, updated, completed NullTime
	if err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status,
		&t.AssignedTo, &tags, &created, &updated, &completed); err != nil {
		return nil, err
	}
	t.Tags = DecodeList(tags)
	t.CreatedAt = created.Time
	t.UpdatedAt = updated.Time
	t.CompletedAt = completed.Ptr()
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
