// Package contextengine assembles the context injected into newly spawned
// agents and the project digest attached to user prompts. It only reads.
package contextengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/hivemind/internal/store"
)

// Limits caps how many rows each section pulls.
type Limits struct {
	RecentEntries   int
	RelevantEntries int
	AgentHistory    int
	CrossSession    int
	Decisions       int
	SummaryChars    int
}

func (l Limits) withDefaults() Limits {
	if l.RecentEntries <= 0 {
		l.RecentEntries = 10
	}
	if l.RelevantEntries <= 0 {
		l.RelevantEntries = 20
	}
	if l.AgentHistory <= 0 {
		l.AgentHistory = 5
	}
	if l.CrossSession <= 0 {
		l.CrossSession = 10
	}
	if l.Decisions <= 0 {
		l.Decisions = 10
	}
	if l.SummaryChars <= 0 {
		l.SummaryChars = 1500
	}
	return l
}

// Engine builds context strings from the store.
type Engine struct {
	store  *store.Store
	limits Limits
}

func NewEngine(st *store.Store, limits Limits) *Engine {
	return &Engine{store: st, limits: limits.withDefaults()}
}

// SmartContextRequest identifies the agent being started.
type SmartContextRequest struct {
	SessionID     string
	AgentName     string
	AgentType     string
	ParentAgentID string
}

var crossSessionTypes = []string{store.EntryDecision, store.EntryBlocker, store.EntryHandoff, store.EntryAgentSummary}

var alwaysRelevantTypes = []string{store.EntryDecision, store.EntryBlocker, store.EntryHandoff}

// BuildSmartContext renders the sections for a starting agent in fixed
// order. Sections load in parallel; one that fails is logged and left
// out. The result is "" iff every section is empty.
func (e *Engine) BuildSmartContext(ctx context.Context, req SmartContextRequest) (string, error) {
	projectID, err := e.store.SessionProject(ctx, req.SessionID)
	if err != nil {
		return "", fmt.Errorf("resolve session project: %w", err)
	}

	loaders := []struct {
		name string
		load func(context.Context) (string, error)
	}{
		{"siblings", func(ctx context.Context) (string, error) { return e.siblingResults(ctx, req) }},
		{"agent_history", func(ctx context.Context) (string, error) { return e.previousTypeResults(ctx, projectID, req.AgentType) }},
		{"cross_session", func(ctx context.Context) (string, error) { return e.crossSession(ctx, projectID, req.SessionID) }},
		{"relevant", func(ctx context.Context) (string, error) { return e.relevant(ctx, req) }},
		{"recent", func(ctx context.Context) (string, error) { return e.recent(ctx, req.SessionID) }},
		{"assigned_tasks", func(ctx context.Context) (string, error) { return e.assignedTasks(ctx, projectID, req.AgentName) }},
	}
	sections := make([]string, len(loaders))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range loaders {
		g.Go(func() error {
			text, err := l.load(gctx)
			if err != nil {
				slog.Warn("Context section failed", "section", l.name, "session", req.SessionID, "error", err)
				return nil
			}
			sections[i] = text
			return nil
		})
	}
	_ = g.Wait()

	// Recent Context only stands in for an empty Relevant Context.
	if sections[3] != "" {
		sections[4] = ""
	}
	return joinSections(sections), nil
}

func (e *Engine) siblingResults(ctx context.Context, req SmartContextRequest) (string, error) {
	if req.ParentAgentID == "" {
		return "", nil
	}
	agents, err := e.store.ListAgents(ctx, store.AgentFilter{
		SessionID:     req.SessionID,
		ParentAgentID: req.ParentAgentID,
		Status:        store.AgentCompleted,
		WithSummary:   true,
		NewestFirst:   true,
		Limit:         e.limits.AgentHistory,
	})
	if err != nil || len(agents) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("## Sibling Agent Results\n\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", agentLabel(a), e.truncate(a.ContextSummary))
	}
	return b.String(), nil
}

func (e *Engine) previousTypeResults(ctx context.Context, projectID, agentType string) (string, error) {
	if agentType == "" || projectID == "" {
		return "", nil
	}
	agents, err := e.store.ListAgents(ctx, store.AgentFilter{
		ProjectID:   projectID,
		AgentType:   agentType,
		Status:      store.AgentCompleted,
		WithSummary: true,
		NewestFirst: true,
		Limit:       e.limits.AgentHistory,
	})
	if err != nil || len(agents) == 0 {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Previous %s Agent Results\n\n", agentType)
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", agentLabel(a), e.truncate(a.ContextSummary))
	}
	return b.String(), nil
}

func (e *Engine) crossSession(ctx context.Context, projectID, sessionID string) (string, error) {
	if projectID == "" {
		return "", nil
	}
	entries, err := e.store.ListContextEntries(ctx, store.EntryFilter{
		ProjectID:        projectID,
		ExcludeSessionID: sessionID,
		Types:            crossSessionTypes,
		NewestFirst:      true,
		Limit:            e.limits.CrossSession,
	})
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return "## Cross-Session Context\n\n" + e.renderEntries(entries), nil
}

func (e *Engine) relevant(ctx context.Context, req SmartContextRequest) (string, error) {
	tags := []string{"all"}
	for _, t := range []string{req.AgentName, req.AgentType} {
		if t != "" {
			tags = append(tags, t)
		}
	}
	entries, err := e.store.ListContextEntries(ctx, store.EntryFilter{
		SessionID:   req.SessionID,
		MatchTags:   tags,
		MatchTypes:  alwaysRelevantTypes,
		NewestFirst: true,
		Limit:       e.limits.RelevantEntries,
	})
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return "## Relevant Context\n\n" + e.renderEntries(chronological(entries)), nil
}

func (e *Engine) recent(ctx context.Context, sessionID string) (string, error) {
	entries, err := e.store.ListContextEntries(ctx, store.EntryFilter{
		SessionID:   sessionID,
		NewestFirst: true,
		Limit:       e.limits.RecentEntries,
	})
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return "## Recent Context\n\n" + e.renderEntries(chronological(entries)), nil
}

func (e *Engine) assignedTasks(ctx context.Context, projectID, agentName string) (string, error) {
	if agentName == "" {
		return "", nil
	}
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{
		ProjectID:  projectID,
		AssignedTo: agentName,
		Statuses:   []string{store.TaskPending, store.TaskInProgress, store.TaskNeedsReview},
	})
	if err != nil || len(tasks) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("## Your Assigned Tasks\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] #%d %s\n", t.Status, t.ID, t.Title)
		if len(t.Tags) > 0 {
			fmt.Fprintf(&b, "  Tags: %s\n", strings.Join(t.Tags, ", "))
		}
		plan, err := e.store.LatestTaskComment(ctx, t.ID, store.CommentPlan)
		if err != nil {
			return "", err
		}
		if plan != nil {
			fmt.Fprintf(&b, "  Plan: %s\n", e.truncate(plan.Content))
		}
	}
	return b.String(), nil
}

func (e *Engine) renderEntries(entries []store.ContextEntry) string {
	var b strings.Builder
	for _, en := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", en.EntryType, e.truncate(en.Content))
	}
	return b.String()
}

func (e *Engine) truncate(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > e.limits.SummaryChars {
		return string(r[:e.limits.SummaryChars]) + "..."
	}
	return s
}

func agentLabel(a store.Agent) string {
	name := a.AgentName
	if name == "" {
		name = a.ID
	}
	if a.AgentType != "" && a.AgentType != name {
		return name + " (" + a.AgentType + ")"
	}
	return name
}

// chronological reverses a newest-first slice in place.
func chronological(entries []store.ContextEntry) []store.ContextEntry {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func joinSections(sections []string) string {
	var parts []string
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
