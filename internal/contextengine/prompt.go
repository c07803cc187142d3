package contextengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/hivemind/internal/store"
)

const noActivity = "(No active tasks or agents)"

// openTaskOrder is the display order for actionable tasks.
var openTaskOrder = []string{store.TaskInProgress, store.TaskNeedsReview, store.TaskPending}

var backlogStatuses = []string{store.TaskIdea, store.TaskPlanned}

// CheckIncompleteTasks returns a warning listing the pending and
// in-progress tasks still assigned to agentName, or "" when there are none.
func (e *Engine) CheckIncompleteTasks(ctx context.Context, sessionID, agentID, agentName string) (string, error) {
	if agentName == "" {
		return "", nil
	}
	projectID, err := e.store.SessionProject(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("resolve session project: %w", err)
	}
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{
		ProjectID:  projectID,
		AssignedTo: agentName,
		Statuses:   []string{store.TaskPending, store.TaskInProgress},
	})
	if err != nil {
		return "", fmt.Errorf("list incomplete tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent %s (%s) stopped with %d incomplete task(s):\n", agentName, agentID, len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Title)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// BuildPromptContext renders the project digest attached to a user prompt.
func (e *Engine) BuildPromptContext(ctx context.Context, sessionID string) (string, error) {
	projectID, err := e.store.SessionProject(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("resolve session project: %w", err)
	}

	var sections []string
	add := func(s string, err error) error {
		if err != nil {
			return err
		}
		if s != "" {
			sections = append(sections, s)
		}
		return nil
	}
	if err := add(e.activeAgents(ctx, sessionID)); err != nil {
		return "", fmt.Errorf("active agents: %w", err)
	}
	if err := add(e.openTasks(ctx, projectID)); err != nil {
		return "", fmt.Errorf("open tasks: %w", err)
	}
	if err := add(e.decisions(ctx, projectID, sessionID)); err != nil {
		return "", fmt.Errorf("decisions: %w", err)
	}
	if err := add(e.completedSummaries(ctx, sessionID)); err != nil {
		return "", fmt.Errorf("completed agents: %w", err)
	}

	if len(sections) == 0 {
		return "# Project Status\n\n" + noActivity, nil
	}
	return "# Project Status\n\n" + joinSections(sections), nil
}

func (e *Engine) activeAgents(ctx context.Context, sessionID string) (string, error) {
	agents, err := e.store.ListAgents(ctx, store.AgentFilter{
		SessionID: sessionID,
		Status:    store.AgentActive,
	})
	if err != nil || len(agents) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("## Active Agents\n\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s\n", agentLabel(a))
	}
	return b.String(), nil
}

func (e *Engine) openTasks(ctx context.Context, projectID string) (string, error) {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{
		ProjectID: projectID,
		Statuses:  openTaskOrder,
	})
	if err != nil {
		return "", err
	}
	backlog, err := e.store.CountTasks(ctx, store.TaskFilter{
		ProjectID: projectID,
		Statuses:  backlogStatuses,
	})
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 && backlog == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## Open Tasks\n\n")
	for _, status := range openTaskOrder {
		for _, t := range tasks {
			if t.Status != status {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s", t.Status, t.Title)
			if t.AssignedTo != "" {
				fmt.Fprintf(&b, " -> %s", t.AssignedTo)
			}
			b.WriteString("\n")
		}
	}
	if backlog > 0 {
		fmt.Fprintf(&b, "(+%d in backlog)\n", backlog)
	}
	return b.String(), nil
}

func (e *Engine) decisions(ctx context.Context, projectID, sessionID string) (string, error) {
	f := store.EntryFilter{
		Types:       alwaysRelevantTypes,
		NewestFirst: true,
		Limit:       e.limits.Decisions,
	}
	if projectID != "" {
		f.ProjectID = projectID
	} else {
		f.SessionID = sessionID
	}
	entries, err := e.store.ListContextEntries(ctx, f)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return "## Recent Decisions & Blockers\n\n" + e.renderEntries(entries), nil
}

func (e *Engine) completedSummaries(ctx context.Context, sessionID string) (string, error) {
	agents, err := e.store.ListAgents(ctx, store.AgentFilter{
		SessionID:   sessionID,
		Status:      store.AgentCompleted,
		WithSummary: true,
		NewestFirst: true,
		Limit:       e.limits.AgentHistory,
	})
	if err != nil || len(agents) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("## Completed Agent Summaries\n\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", agentLabel(a), firstLine(e.truncate(a.ContextSummary)))
	}
	return b.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
