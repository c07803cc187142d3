package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/hivemind/internal/broadcast"
	"github.com/KafClaw/hivemind/internal/contextengine"
	"github.com/KafClaw/hivemind/internal/memory"
	"github.com/KafClaw/hivemind/internal/store"
	"github.com/KafClaw/hivemind/internal/transcript"
)

// Config tunes the ingestor.
type Config struct {
	// ContextTimeout bounds how long SubagentStart waits for smart context.
	ContextTimeout time.Duration
	// StaleAgentAfter is the age at which an active agent is force-completed.
	StaleAgentAfter time.Duration
	// AutoEndSession ends a session once its last active agent stops.
	AutoEndSession bool
	// TranscriptSettle is how long to wait before reading a transcript.
	TranscriptSettle time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ContextTimeout:   4500 * time.Millisecond,
		StaleAgentAfter:  2 * time.Hour,
		AutoEndSession:   true,
		TranscriptSettle: transcript.DefaultSettleDelay,
	}
}

// Response is the JSON body returned to the hook caller. It encodes as {}
// unless HookSpecificOutput is set.
type Response struct {
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

type HookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

func contextResponse(event, additional string) Response {
	return Response{HookSpecificOutput: &HookSpecificOutput{HookEventName: event, AdditionalContext: additional}}
}

// baseResponse is the success shape for ev when its handler produced
// nothing.
func baseResponse(ev Event) Response {
	switch ev.EventName() {
	case EventSubagentStart, EventUserPromptSubmit:
		return contextResponse(ev.EventName(), "")
	}
	return Response{}
}

var eventNamePattern = regexp.MustCompile(`"(?:hook_)?event_name"\s*:\s*"([^"\\]*)"`)

// FallbackResponse is the success shape for a payload that could not be
// read in full. The event name is taken from whatever prefix arrived.
func FallbackResponse(partial []byte) Response {
	m := eventNamePattern.FindSubmatch(partial)
	if m == nil {
		return Response{}
	}
	return baseResponse(&GenericEvent{Base: Base{Name: string(m[1])}})
}

var teammateNamespace = uuid.MustParse("5b0c1f7e-3c52-4f0e-9a8d-6e1f2a4b7c90")

// TeammateID derives a stable agent id for a named teammate in a session.
func TeammateID(sessionID, name string) string {
	return uuid.NewSHA1(teammateNamespace, []byte(sessionID+"/"+name)).String()
}

// Ingestor dispatches hook events.
type Ingestor struct {
	store       *store.Store
	engine      *contextengine.Engine
	memory      *memory.Service
	hub         broadcast.Broadcaster
	transcripts *transcript.Extractor
	cfg         Config

	wg sync.WaitGroup
}

// NewIngestor wires an ingestor. mem may be nil, which disables the
// promotion check on session end.
func NewIngestor(st *store.Store, engine *contextengine.Engine, mem *memory.Service, hub broadcast.Broadcaster, cfg Config) *Ingestor {
	def := DefaultConfig()
	if cfg.ContextTimeout <= 0 {
		cfg.ContextTimeout = def.ContextTimeout
	}
	if cfg.StaleAgentAfter <= 0 {
		cfg.StaleAgentAfter = def.StaleAgentAfter
	}
	return &Ingestor{
		store:       st,
		engine:      engine,
		memory:      mem,
		hub:         hub,
		transcripts: transcript.NewExtractor(cfg.TranscriptSettle),
		cfg:         cfg,
	}
}

// Handle processes ev and always returns a success-shaped response.
// Handler errors and panics are logged.
func (in *Ingestor) Handle(ctx context.Context, ev Event) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hook handler panicked", "event", ev.EventName(), "session", ev.Session(), "panic", r, "stack", string(debug.Stack()))
			resp = baseResponse(ev)
		}
	}()

	resp, err := in.dispatch(ctx, ev)
	if err != nil {
		slog.Warn("Hook handler failed", "event", ev.EventName(), "session", ev.Session(), "error", err)
	}
	if resp.HookSpecificOutput == nil {
		resp = baseResponse(ev)
	}
	return resp
}

func (in *Ingestor) dispatch(ctx context.Context, ev Event) (Response, error) {
	switch e := ev.(type) {
	case *SessionStartEvent:
		return Response{}, in.sessionStart(ctx, e)
	case *SessionEndEvent:
		return Response{}, in.sessionEnd(ctx, e)
	case *SubagentStartEvent:
		return in.subagentStart(ctx, e)
	case *SubagentStopEvent:
		return Response{}, in.subagentStop(ctx, e)
	case *PostToolUseEvent:
		return Response{}, in.postToolUse(ctx, e)
	case *UserPromptSubmitEvent:
		return in.userPromptSubmit(ctx, e)
	case *TeammateIdleEvent:
		return Response{}, in.teammateIdle(ctx, e)
	case *TaskCompletedEvent:
		return Response{}, in.taskCompleted(ctx, e)
	case *StatuslineUpdateEvent:
		return Response{}, in.statuslineUpdate(ctx, e)
	case *RegisterProjectEvent:
		return Response{}, in.registerProject(ctx, e)
	case *GenericEvent:
		return Response{}, in.generic(ctx, e)
	default:
		return Response{}, fmt.Errorf("unsupported event type %T", ev)
	}
}

// Wait blocks until background work started by Handle has finished.
func (in *Ingestor) Wait() {
	in.wg.Wait()
}

func (in *Ingestor) broadcast(event string, data any) {
	if in.hub != nil {
		in.hub.Broadcast(event, data)
	}
}

func (in *Ingestor) resolveProject(ctx context.Context, cwd string) string {
	if cwd == "" {
		return ""
	}
	projectID, err := in.store.ResolveProjectByPath(ctx, cwd)
	if err != nil {
		slog.Warn("Project resolution failed", "cwd", cwd, "error", err)
		return ""
	}
	return projectID
}

func requireSession(ev Event) error {
	if ev.Session() == "" {
		return fmt.Errorf("%s: missing session_id", ev.EventName())
	}
	return nil
}
