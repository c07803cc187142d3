package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/KafClaw/hivemind/internal/contextengine"
	"github.com/KafClaw/hivemind/internal/store"
)

// sensitiveFields are removed from generic payloads before they are
// logged or broadcast.
var sensitiveFields = []string{"transcript_path", "agent_transcript_path", "tool_input", "tool_response", "result"}

var fileChangeTools = map[string]string{
	"Write":     store.ChangeCreated,
	"Edit":      store.ChangeModified,
	"MultiEdit": store.ChangeModified,
}

func (in *Ingestor) sessionStart(ctx context.Context, e *SessionStartEvent) error {
	if err := requireSession(e); err != nil {
		return err
	}
	projectID := in.resolveProject(ctx, e.Cwd)
	if err := in.store.UpsertSession(ctx, e.SessionID, projectID); err != nil {
		return err
	}
	in.broadcast("session_start", map[string]any{
		"session_id": e.SessionID,
		"project_id": projectID,
		"cwd":        e.Cwd,
		"source":     e.Source,
	})
	return nil
}

func (in *Ingestor) sessionEnd(ctx context.Context, e *SessionEndEvent) error {
	if err := requireSession(e); err != nil {
		return err
	}
	n, err := in.store.EndSession(ctx, e.SessionID)
	if err != nil {
		return err
	}
	in.broadcast("session_end", map[string]any{
		"session_id":       e.SessionID,
		"agents_completed": n,
		"reason":           e.Reason,
	})

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.checkPromotion(context.WithoutCancel(ctx), e.SessionID)
	}()
	return nil
}

// checkPromotion broadcasts concept clusters that could be promoted to
// durable knowledge. Failures are only logged.
func (in *Ingestor) checkPromotion(ctx context.Context, sessionID string) {
	if in.memory == nil {
		return
	}
	projectID, err := in.store.SessionProject(ctx, sessionID)
	if err != nil || projectID == "" {
		if err != nil {
			slog.Warn("Promotion check: session lookup failed", "session", sessionID, "error", err)
		}
		return
	}
	candidates, err := in.memory.PromotionCandidates(ctx, projectID)
	if err != nil {
		slog.Warn("Promotion check failed", "project", projectID, "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	in.broadcast("promotion_candidates", map[string]any{
		"session_id": sessionID,
		"project_id": projectID,
		"candidates": candidates,
	})
}

func (in *Ingestor) subagentStart(ctx context.Context, e *SubagentStartEvent) (Response, error) {
	if err := requireSession(e); err != nil {
		return Response{}, err
	}
	if e.AgentID == "" {
		return Response{}, fmt.Errorf("SubagentStart: missing agent_id")
	}
	name := firstNonEmpty(e.AgentName, e.AgentType, e.AgentID)

	created, err := in.store.EnsureSession(ctx, e.SessionID, in.resolveProject(ctx, e.Cwd))
	if err != nil {
		return Response{}, err
	}
	if !created {
		reactivated, err := in.store.ReactivateSession(ctx, e.SessionID)
		if err != nil {
			return Response{}, err
		}
		if reactivated {
			slog.Info("Session reactivated by agent start", "session", e.SessionID, "agent", e.AgentID)
			in.broadcast("session_reactivated", map[string]any{"session_id": e.SessionID, "agent_id": e.AgentID})
		}
	}

	if err := in.store.UpsertAgentStart(ctx, store.AgentStart{
		ID:            e.AgentID,
		SessionID:     e.SessionID,
		AgentName:     name,
		AgentType:     e.AgentType,
		ParentAgentID: e.ParentAgentID,
	}); err != nil {
		return Response{}, err
	}

	projectID, err := in.store.SessionProject(ctx, e.SessionID)
	if err != nil {
		slog.Warn("Session project lookup failed", "session", e.SessionID, "error", err)
	}
	var taskID int64
	task, err := in.store.ClaimPendingTask(ctx, projectID, name, e.AgentType)
	if err != nil {
		slog.Warn("Task auto-assign failed", "session", e.SessionID, "agent", name, "error", err)
	} else if task != nil {
		taskID = task.ID
		slog.Info("Task auto-assigned", "task", task.ID, "title", task.Title, "agent", name)
	}

	additional, err := FirstOf(ctx, in.cfg.ContextTimeout, func(wctx context.Context) (string, error) {
		return in.engine.BuildSmartContext(wctx, contextengine.SmartContextRequest{
			SessionID:     e.SessionID,
			AgentName:     name,
			AgentType:     e.AgentType,
			ParentAgentID: e.ParentAgentID,
		})
	})
	if err != nil {
		slog.Warn("Smart context unavailable", "session", e.SessionID, "agent", e.AgentID, "error", err)
		additional = ""
	}

	data := map[string]any{
		"session_id":      e.SessionID,
		"agent_id":        e.AgentID,
		"agent_name":      name,
		"agent_type":      e.AgentType,
		"parent_agent_id": e.ParentAgentID,
		"context_chars":   len(additional),
	}
	if taskID != 0 {
		data["task_id"] = taskID
	}
	in.broadcast("agent_start", data)
	return contextResponse(EventSubagentStart, additional), nil
}

func (in *Ingestor) subagentStop(ctx context.Context, e *SubagentStopEvent) error {
	if err := requireSession(e); err != nil {
		return err
	}
	if e.AgentID == "" {
		return fmt.Errorf("SubagentStop: missing agent_id")
	}

	name, agentType := e.AgentName, e.AgentType
	if name == "" || agentType == "" {
		known, err := in.store.GetAgent(ctx, e.AgentID)
		if err != nil {
			return err
		}
		if known != nil {
			name = firstNonEmpty(name, known.AgentName)
			agentType = firstNonEmpty(agentType, known.AgentType)
		}
	}
	name = firstNonEmpty(name, agentType, e.AgentID)

	summary := strings.TrimSpace(firstNonEmpty(e.Summary, e.ContextSummary, e.LastAssistantMessage))
	var inputTokens, outputTokens int64
	if path := firstNonEmpty(e.AgentTranscriptPath, e.TranscriptPath); summary == "" && path != "" {
		res := in.transcripts.Extract(ctx, path)
		summary = res.Summary
		inputTokens, outputTokens = res.Usage.InputTokens, res.Usage.OutputTokens
	}

	if err := in.store.CompleteAgent(ctx, store.AgentCompletion{
		ID:            e.AgentID,
		SessionID:     e.SessionID,
		AgentName:     name,
		AgentType:     agentType,
		ParentAgentID: e.ParentAgentID,
		Summary:       summary,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
	}); err != nil {
		return err
	}

	if summary != "" {
		entryType := store.EntryAgentSummary
		if agentType == "Plan" {
			entryType = store.EntryPlan
		}
		if _, err := in.store.AddContextEntry(ctx, store.ContextEntry{
			SessionID: e.SessionID,
			AgentID:   e.AgentID,
			EntryType: entryType,
			Content:   summary,
			Tags:      []string{"auto", name},
		}); err != nil {
			slog.Warn("Failed to store agent summary", "agent", e.AgentID, "error", err)
		}
	}

	completed := in.completeAgentTasks(ctx, e.SessionID, name, summary)

	warning, err := in.engine.CheckIncompleteTasks(ctx, e.SessionID, e.AgentID, name)
	if err != nil {
		slog.Warn("Incomplete task check failed", "agent", e.AgentID, "error", err)
	} else if warning != "" {
		if _, err := in.store.AddContextEntry(ctx, store.ContextEntry{
			SessionID: e.SessionID,
			AgentID:   e.AgentID,
			EntryType: store.EntryTodoWarning,
			Content:   warning,
			Tags:      []string{"auto", name},
		}); err != nil {
			slog.Warn("Failed to store todo warning", "agent", e.AgentID, "error", err)
		}
	}

	in.broadcast("agent_stop", map[string]any{
		"session_id":      e.SessionID,
		"agent_id":        e.AgentID,
		"agent_name":      name,
		"agent_type":      agentType,
		"summary":         summary,
		"input_tokens":    inputTokens,
		"output_tokens":   outputTokens,
		"tasks_completed": completed,
	})

	if !in.cfg.AutoEndSession {
		return nil
	}
	active, err := in.store.CountActiveAgents(ctx, e.SessionID)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}
	if _, err := in.store.EndSession(ctx, e.SessionID); err != nil {
		return err
	}
	slog.Info("Session auto-ended after last agent stopped", "session", e.SessionID)
	in.broadcast("session_end", map[string]any{"session_id": e.SessionID, "auto": true})
	return nil
}

// completeAgentTasks closes every in_progress task assigned to agentName
// and returns how many were completed.
func (in *Ingestor) completeAgentTasks(ctx context.Context, sessionID, agentName, summary string) int {
	projectID, err := in.store.SessionProject(ctx, sessionID)
	if err != nil {
		slog.Warn("Session project lookup failed", "session", sessionID, "error", err)
		return 0
	}
	tasks, err := in.store.ListTasks(ctx, store.TaskFilter{
		ProjectID:  projectID,
		AssignedTo: agentName,
		Statuses:   []string{store.TaskInProgress},
	})
	if err != nil {
		slog.Warn("Listing agent tasks failed", "agent", agentName, "error", err)
		return 0
	}
	result := summary
	if result == "" {
		result = fmt.Sprintf("Completed when agent %s stopped", agentName)
	}
	n := 0
	for _, t := range tasks {
		if err := in.store.CompleteTask(ctx, t.ID, agentName, result); err != nil {
			slog.Warn("Task auto-complete failed", "task", t.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

func (in *Ingestor) postToolUse(ctx context.Context, e *PostToolUseEvent) error {
	changeType, ok := fileChangeTools[e.ToolName]
	if !ok || e.ToolInput.FilePath == "" {
		return nil
	}
	if err := requireSession(e); err != nil {
		return err
	}
	if _, err := in.store.RecordFileChange(ctx, store.FileChange{
		SessionID:  e.SessionID,
		AgentID:    e.AgentID,
		FilePath:   e.ToolInput.FilePath,
		ChangeType: changeType,
		ToolName:   e.ToolName,
	}); err != nil {
		return err
	}
	in.broadcast("file_change", map[string]any{
		"session_id":  e.SessionID,
		"agent_id":    e.AgentID,
		"file_path":   e.ToolInput.FilePath,
		"change_type": changeType,
		"tool_name":   e.ToolName,
	})
	return nil
}

func (in *Ingestor) userPromptSubmit(ctx context.Context, e *UserPromptSubmitEvent) (Response, error) {
	if err := requireSession(e); err != nil {
		return Response{}, err
	}
	text, err := in.engine.BuildPromptContext(ctx, e.SessionID)
	if err != nil {
		return Response{}, err
	}
	return contextResponse(EventUserPromptSubmit, text), nil
}

func (in *Ingestor) teammateIdle(ctx context.Context, e *TeammateIdleEvent) error {
	if err := requireSession(e); err != nil {
		return err
	}
	name := firstNonEmpty(e.TeammateName, e.AgentName)
	id := e.AgentID
	if id == "" {
		if name == "" {
			return fmt.Errorf("TeammateIdle: missing agent_id and teammate_name")
		}
		id = TeammateID(e.SessionID, name)
	}
	if _, err := in.store.EnsureSession(ctx, e.SessionID, in.resolveProject(ctx, e.Cwd)); err != nil {
		return err
	}
	if err := in.store.UpsertAgentStart(ctx, store.AgentStart{
		ID:        id,
		SessionID: e.SessionID,
		AgentName: firstNonEmpty(name, id),
		AgentType: e.AgentType,
	}); err != nil {
		return err
	}
	in.broadcast("teammate_idle", map[string]any{
		"session_id": e.SessionID,
		"agent_id":   id,
		"agent_name": name,
		"team_name":  e.TeamName,
	})
	return nil
}

func (in *Ingestor) taskCompleted(ctx context.Context, e *TaskCompletedEvent) error {
	if err := requireSession(e); err != nil {
		return err
	}
	name := firstNonEmpty(e.AgentName, e.TeammateName)
	if name == "" && e.AgentID != "" {
		known, err := in.store.GetAgent(ctx, e.AgentID)
		if err != nil {
			return err
		}
		if known != nil {
			name = known.AgentName
		}
	}
	title := e.Title()

	var taskID int64
	if name != "" && title != "" {
		projectID, err := in.store.SessionProject(ctx, e.SessionID)
		if err != nil {
			return err
		}
		tasks, err := in.store.ListTasks(ctx, store.TaskFilter{
			ProjectID:  projectID,
			AssignedTo: name,
			Statuses:   []string{store.TaskInProgress},
		})
		if err != nil {
			return err
		}
		if t := matchTaskTitle(tasks, title); t != nil {
			result := firstNonEmpty(e.Result, "Completed: "+title)
			if err := in.store.CompleteTask(ctx, t.ID, name, result); err != nil {
				return err
			}
			taskID = t.ID
		}
	}

	in.broadcast("task_completed", map[string]any{
		"session_id": e.SessionID,
		"agent_name": name,
		"task_title": title,
		"task_id":    taskID,
	})
	return nil
}

// matchTaskTitle returns the first task whose lower-cased title contains,
// or is contained by, title. tasks must be in creation order.
func matchTaskTitle(tasks []store.Task, title string) *store.Task {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return nil
	}
	for i := range tasks {
		have := strings.ToLower(strings.TrimSpace(tasks[i].Title))
		if have == "" {
			continue
		}
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return &tasks[i]
		}
	}
	return nil
}

func (in *Ingestor) statuslineUpdate(ctx context.Context, e *StatuslineUpdateEvent) error {
	if err := requireSession(e); err != nil {
		return err
	}
	if err := in.store.UpsertStatusline(ctx, e.SessionID, e.Raw); err != nil {
		return err
	}
	in.broadcast("statusline_update", map[string]any{
		"session_id": e.SessionID,
		"payload":    e.Raw,
	})
	return nil
}

func (in *Ingestor) registerProject(ctx context.Context, e *RegisterProjectEvent) error {
	path := firstNonEmpty(e.Path, e.ProjectPath, e.Cwd)
	if path == "" {
		return fmt.Errorf("RegisterProject: missing path")
	}
	path = filepath.Clean(path)
	name := firstNonEmpty(e.Name, filepath.Base(path))
	p, err := in.store.UpsertProject(ctx, path, name)
	if err != nil {
		return err
	}
	in.broadcast("project_registered", p)
	return nil
}

func (in *Ingestor) generic(ctx context.Context, e *GenericEvent) error {
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	for _, k := range sensitiveFields {
		delete(fields, k)
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Name, err)
	}
	if _, err := in.store.LogHookEvent(ctx, e.SessionID, e.Name, payload); err != nil {
		return err
	}
	in.broadcast(e.Name, fields)
	return nil
}
