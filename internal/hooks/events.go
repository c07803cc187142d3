// Package hooks ingests agent lifecycle events posted by the agent runtime
// and turns them into store mutations, injected context and broadcasts.
package hooks

import (
	"encoding/json"
	"errors"
)

// Recognized event names.
const (
	EventSessionStart     = "SessionStart"
	EventSessionEnd       = "SessionEnd"
	EventSubagentStart    = "SubagentStart"
	EventSubagentStop     = "SubagentStop"
	EventPostToolUse      = "PostToolUse"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventTeammateIdle     = "TeammateIdle"
	EventTaskCompleted    = "TaskCompleted"
	EventStatuslineUpdate = "StatuslineUpdate"
	EventRegisterProject  = "RegisterProject"

	eventUnknown = "unknown"
)

// Event is one decoded hook payload. The concrete type identifies the
// variant; GenericEvent covers names without a dedicated handler.
type Event interface {
	EventName() string
	Session() string
}

// Base carries the fields every payload may have.
type Base struct {
	Name      string `json:"-"`
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

func (b Base) EventName() string { return b.Name }
func (b Base) Session() string   { return b.SessionID }

type SessionStartEvent struct {
	Base
	Source string `json:"source"`
}

type SessionEndEvent struct {
	Base
	Reason string `json:"reason"`
}

type SubagentStartEvent struct {
	Base
	AgentID       string `json:"agent_id"`
	AgentName     string `json:"agent_name"`
	AgentType     string `json:"agent_type"`
	ParentAgentID string `json:"parent_agent_id"`
}

type SubagentStopEvent struct {
	Base
	AgentID              string `json:"agent_id"`
	AgentName            string `json:"agent_name"`
	AgentType            string `json:"agent_type"`
	ParentAgentID        string `json:"parent_agent_id"`
	Summary              string `json:"summary"`
	ContextSummary       string `json:"context_summary"`
	LastAssistantMessage string `json:"last_assistant_message"`
	AgentTranscriptPath  string `json:"agent_transcript_path"`
	TranscriptPath       string `json:"transcript_path"`
}

// ToolInput holds the subset of tool arguments hivemind looks at.
type ToolInput struct {
	FilePath string `json:"file_path"`
}

type PostToolUseEvent struct {
	Base
	AgentID   string    `json:"agent_id"`
	ToolName  string    `json:"tool_name"`
	ToolInput ToolInput `json:"tool_input"`
}

type UserPromptSubmitEvent struct {
	Base
	Prompt string `json:"prompt"`
}

type TeammateIdleEvent struct {
	Base
	AgentID      string `json:"agent_id"`
	AgentName    string `json:"agent_name"`
	AgentType    string `json:"agent_type"`
	TeammateName string `json:"teammate_name"`
	TeamName     string `json:"team_name"`
}

type TaskCompletedEvent struct {
	Base
	AgentID      string `json:"agent_id"`
	AgentName    string `json:"agent_name"`
	TeammateName string `json:"teammate_name"`
	TaskTitle    string `json:"task_title"`
	TaskSubject  string `json:"task_subject"`
	Result       string `json:"result"`
}

// Title returns the supplied task title, preferring task_title.
func (e TaskCompletedEvent) Title() string {
	return firstNonEmpty(e.TaskTitle, e.TaskSubject)
}

// StatuslineUpdateEvent keeps the raw payload for storage.
type StatuslineUpdateEvent struct {
	Base
	Raw json.RawMessage `json:"-"`
}

type RegisterProjectEvent struct {
	Base
	Path        string `json:"path"`
	ProjectPath string `json:"project_path"`
	Name        string `json:"name"`
}

// GenericEvent is any event without a dedicated variant.
type GenericEvent struct {
	Base
	Fields map[string]any `json:"-"`
}

// ParseEvent decodes a hook payload. Missing or mistyped fields are left
// at their zero value. Input that is not a JSON object yields a
// GenericEvent named "unknown" together with the decode error.
func ParseEvent(data []byte) (Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("hook payload is not an object")
		}
		return &GenericEvent{Base: Base{Name: eventUnknown}, Fields: map[string]any{}}, err
	}

	name := stringField(fields, "event_name")
	if name == "" {
		name = stringField(fields, "hook_event_name")
	}

	var ev Event
	switch name {
	case EventSessionStart:
		ev = decodeInto[SessionStartEvent](data)
	case EventSessionEnd:
		ev = decodeInto[SessionEndEvent](data)
	case EventSubagentStart:
		ev = decodeInto[SubagentStartEvent](data)
	case EventSubagentStop:
		ev = decodeInto[SubagentStopEvent](data)
	case EventPostToolUse:
		ev = decodeInto[PostToolUseEvent](data)
	case EventUserPromptSubmit:
		ev = decodeInto[UserPromptSubmitEvent](data)
	case EventTeammateIdle:
		ev = decodeInto[TeammateIdleEvent](data)
	case EventTaskCompleted:
		ev = decodeInto[TaskCompletedEvent](data)
	case EventStatuslineUpdate:
		e := decodeInto[StatuslineUpdateEvent](data)
		e.Raw = append(json.RawMessage(nil), data...)
		ev = e
	case EventRegisterProject:
		ev = decodeInto[RegisterProjectEvent](data)
	default:
		if name == "" {
			name = eventUnknown
		}
		e := decodeInto[GenericEvent](data)
		e.Fields = fields
		ev = e
	}
	setName(ev, name)
	return ev, nil
}

// decodeInto fills a fresh T from data, tolerating type mismatches on
// individual fields.
func decodeInto[T any](data []byte) *T {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return new(T)
		}
	}
	return v
}

func setName(ev Event, name string) {
	if b, ok := ev.(interface{ base() *Base }); ok {
		b.base().Name = name
	}
}

func (b *Base) base() *Base { return b }

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
