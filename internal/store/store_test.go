package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// stepClock advances by one millisecond on every read so insertion order
// is reflected in timestamps.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hivemind.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clock := &stepClock{cur: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEndSessionCompletesActiveAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, "s1", ""); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := s.UpsertAgentStart(ctx, AgentStart{ID: id, SessionID: "s1", AgentName: id}); err != nil {
			t.Fatalf("start agent %s: %v", id, err)
		}
	}
	if err := s.CompleteAgent(ctx, AgentCompletion{ID: "a3", SessionID: "s1"}); err != nil {
		t.Fatalf("complete agent: %v", err)
	}

	n, err := s.EndSession(ctx, "s1")
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 agents completed by cascade, got %d", n)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != SessionEnded || sess.EndedAt == nil {
		t.Fatalf("expected ended session, got %+v", sess)
	}
	agents, err := s.ListAgents(ctx, AgentFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	for _, a := range agents {
		if a.Status != AgentCompleted || a.CompletedAt == nil {
			t.Fatalf("agent %s not completed: %+v", a.ID, a)
		}
	}
	active, _ := s.CountActiveAgents(ctx, "s1")
	if active != 0 {
		t.Fatalf("expected no active agents, got %d", active)
	}
}

func TestUpsertSessionKeepsProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, "s1", "p1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.UpsertSession(ctx, "s1", ""); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	sess, _ := s.GetSession(ctx, "s1")
	if sess.ProjectID != "p1" {
		t.Fatalf("expected project p1 to survive re-registration, got %q", sess.ProjectID)
	}
	if sess.Status != SessionActive || sess.EndedAt != nil {
		t.Fatalf("expected reactivated session, got %+v", sess)
	}
}

func TestEnsureAndReactivateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.EnsureSession(ctx, "s1", "")
	if err != nil || !created {
		t.Fatalf("ensure new session: created=%v err=%v", created, err)
	}
	created, err = s.EnsureSession(ctx, "s1", "p9")
	if err != nil || created {
		t.Fatalf("ensure existing session: created=%v err=%v", created, err)
	}
	if p, _ := s.SessionProject(ctx, "s1"); p != "p9" {
		t.Fatalf("expected project backfilled, got %q", p)
	}

	if ok, _ := s.ReactivateSession(ctx, "s1"); ok {
		t.Fatalf("active session should not report reactivation")
	}
	_, _ = s.EndSession(ctx, "s1")
	if ok, _ := s.ReactivateSession(ctx, "s1"); !ok {
		t.Fatalf("expected ended session to reactivate")
	}
	if missing, err := s.GetSession(ctx, "nope"); missing != nil || err != nil {
		t.Fatalf("expected (nil, nil) for unknown session, got %v %v", missing, err)
	}
}

func TestCompleteAgentTokensSetOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CompleteAgent(ctx, AgentCompletion{ID: "a1", SessionID: "s1", AgentName: "coder", InputTokens: 10, OutputTokens: 5, Summary: "first"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.CompleteAgent(ctx, AgentCompletion{ID: "a1", SessionID: "s1", InputTokens: 99, OutputTokens: 99}); err != nil {
		t.Fatalf("complete again: %v", err)
	}
	a, err := s.GetAgent(ctx, "a1")
	if err != nil || a == nil {
		t.Fatalf("get agent: %v", err)
	}
	if a.InputTokens != 10 || a.OutputTokens != 5 {
		t.Fatalf("tokens overwritten: %d/%d", a.InputTokens, a.OutputTokens)
	}
	if a.ContextSummary != "first" || a.AgentName != "coder" {
		t.Fatalf("unexpected agent %+v", a)
	}
}

func TestResolveProjectByPathLongestPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outer, err := s.UpsertProject(ctx, "/work/repo", "")
	if err != nil {
		t.Fatalf("upsert outer: %v", err)
	}
	inner, err := s.UpsertProject(ctx, "/work/repo/services/api", "api")
	if err != nil {
		t.Fatalf("upsert inner: %v", err)
	}
	if outer.Name != "repo" {
		t.Fatalf("expected default name from path, got %q", outer.Name)
	}

	cases := []struct{ cwd, want string }{
		{"/work/repo", outer.ID},
		{"/work/repo/cmd", outer.ID},
		{"/work/repo/services/api/internal", inner.ID},
		{"/work/repo/services/api", inner.ID},
		{"/work/repository", ""},
		{"/elsewhere", ""},
	}
	for _, tc := range cases {
		got, err := s.ResolveProjectByPath(ctx, tc.cwd)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.cwd, err)
		}
		if got != tc.want {
			t.Fatalf("resolve %s: got %q want %q", tc.cwd, got, tc.want)
		}
	}
}

func TestContextEntryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	add := func(typ string, tags ...string) {
		t.Helper()
		if _, err := s.AddContextEntry(ctx, ContextEntry{SessionID: "s1", EntryType: typ, Content: typ, Tags: tags}); err != nil {
			t.Fatalf("add entry: %v", err)
		}
	}
	add(EntryNote, "reviewer")
	add(EntryNote, "coder")
	add(EntryDecision)
	add(EntryNote, "all")

	got, err := s.ListContextEntries(ctx, EntryFilter{
		SessionID:  "s1",
		MatchTags:  []string{"coder", "all"},
		MatchTypes: []string{EntryDecision, EntryBlocker},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 relevant entries, got %d", len(got))
	}
	if !got[0].HasTag("coder") || got[1].EntryType != EntryDecision || !got[2].HasTag("all") {
		t.Fatalf("unexpected order/content: %+v", got)
	}

	recent, _ := s.ListContextEntries(ctx, EntryFilter{SessionID: "s1", NewestFirst: true, Limit: 2})
	if len(recent) != 2 || !recent[0].HasTag("all") {
		t.Fatalf("unexpected recent entries: %+v", recent)
	}

	n, err := s.DeleteContextEntriesByType(ctx, "s1", EntryNote)
	if err != nil || n != 3 {
		t.Fatalf("delete by type: n=%d err=%v", n, err)
	}
}

func TestClaimPendingTaskPrefersDirectAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagged, _ := s.CreateTask(ctx, Task{ProjectID: "p1", Title: "tagged", Tags: []string{"coder"}})
	direct, _ := s.CreateTask(ctx, Task{ProjectID: "p1", Title: "direct", AssignedTo: "coder"})

	got, err := s.ClaimPendingTask(ctx, "p1", "coder", "general")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got == nil || got.ID != direct.ID || got.Status != TaskInProgress {
		t.Fatalf("expected direct task claimed, got %+v", got)
	}

	got, err = s.ClaimPendingTask(ctx, "p1", "coder", "general")
	if err != nil || got == nil || got.ID != tagged.ID || got.AssignedTo != "coder" {
		t.Fatalf("expected tagged task claimed, got %+v err=%v", got, err)
	}
	comment, _ := s.LatestTaskComment(ctx, tagged.ID, CommentStatusChange)
	if comment == nil {
		t.Fatalf("expected status_change comment")
	}

	got, err = s.ClaimPendingTask(ctx, "p1", "coder", "general")
	if got != nil || err != nil {
		t.Fatalf("expected nothing left to claim, got %+v err=%v", got, err)
	}
}

func TestClaimPendingTaskByAgentType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.CreateTask(ctx, Task{ProjectID: "p1", Title: "other project", Tags: []string{"Explore"}, AssignedTo: ""})
	want, _ := s.CreateTask(ctx, Task{Title: "no project", Tags: []string{"Explore"}})

	got, err := s.ClaimPendingTask(ctx, "", "scout", "Explore")
	if err != nil || got == nil || got.ID != want.ID {
		t.Fatalf("expected projectless task claimed by type, got %+v err=%v", got, err)
	}
}

func TestCompleteTaskWritesComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, Task{Title: "ship it", Status: TaskInProgress, AssignedTo: "coder"})
	if err := s.CompleteTask(ctx, task.ID, "coder", "shipped"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != TaskCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed task, got %+v", got)
	}
	comments, _ := s.ListTaskComments(ctx, task.ID)
	if len(comments) != 2 || comments[0].CommentType != CommentResult || comments[1].CommentType != CommentStatusChange {
		t.Fatalf("unexpected comments: %+v", comments)
	}
	// completing twice is a no-op
	if err := s.CompleteTask(ctx, task.ID, "coder", "again"); err != nil {
		t.Fatalf("complete again: %v", err)
	}
	comments, _ = s.ListTaskComments(ctx, task.ID)
	if len(comments) != 2 {
		t.Fatalf("expected no new comments, got %d", len(comments))
	}
}

func TestCompleteStaleAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.UpsertAgentStart(ctx, AgentStart{ID: "old", SessionID: "s1", AgentName: "old"})
	cutoff := s.Now()
	_ = s.UpsertAgentStart(ctx, AgentStart{ID: "new", SessionID: "s1", AgentName: "new"})

	swept, err := s.CompleteStaleAgents(ctx, cutoff)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0].ID != "old" {
		t.Fatalf("expected only the old agent swept, got %+v", swept)
	}
	if n, _ := s.CountActiveAgents(ctx, "s1"); n != 1 {
		t.Fatalf("expected one active agent left, got %d", n)
	}
}

func TestEventsAndScheduledJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.RecordFileChange(ctx, FileChange{SessionID: "s1", FilePath: "/a.go", ChangeType: ChangeCreated, ToolName: "Write"}); err != nil {
		t.Fatalf("record file change: %v", err)
	}
	changes, _ := s.ListFileChanges(ctx, "s1")
	if len(changes) != 1 || changes[0].ChangeType != ChangeCreated {
		t.Fatalf("unexpected file changes: %+v", changes)
	}

	if err := s.UpsertStatusline(ctx, "s1", json.RawMessage(`{"model":"x"}`)); err != nil {
		t.Fatalf("statusline: %v", err)
	}
	if err := s.UpsertStatusline(ctx, "s1", json.RawMessage(`{"model":"y"}`)); err != nil {
		t.Fatalf("statusline: %v", err)
	}
	payload, _ := s.GetStatusline(ctx, "s1")
	if string(payload) != `{"model":"y"}` {
		t.Fatalf("unexpected statusline %s", payload)
	}

	if _, err := s.LogHookEvent(ctx, "s1", "Notification", nil); err != nil {
		t.Fatalf("log hook event: %v", err)
	}
	if n, _ := s.CountHookEvents(ctx, "Notification"); n != 1 {
		t.Fatalf("expected one hook event, got %d", n)
	}

	for i := 0; i < 2; i++ {
		if err := s.UpsertScheduledJob(ctx, "backfill", "ok", s.Now()); err != nil {
			t.Fatalf("upsert job: %v", err)
		}
	}
	job, err := s.GetScheduledJob(ctx, "backfill")
	if err != nil || job == nil {
		t.Fatalf("get job: %v", err)
	}
	if job.RunCount != 2 || job.LastRunAt == nil {
		t.Fatalf("unexpected job record %+v", job)
	}
}

func TestCheckpoint(t *testing.T) {
	s := newTestStore(t)
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
}

func TestOpenWithCgoDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cgo.db")
	s, err := OpenWithDriver("sqlite3", DSN("sqlite3", path))
	if err != nil {
		t.Fatalf("open with sqlite3 driver: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.UpsertSession(ctx, "s1", "p1"); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	sess, err := s.GetSession(ctx, "s1")
	if err != nil || sess == nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.StartedAt.IsZero() {
		t.Fatalf("expected started_at to round-trip through the driver")
	}
	task, err := s.CreateTask(ctx, Task{ProjectID: "p1", Title: "t", Tags: []string{"coder"}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if len(task.Tags) != 1 || task.Tags[0] != "coder" {
		t.Fatalf("unexpected tags %v", task.Tags)
	}
}
