package core

import (
	"encoding/json"
	"time"
)

// EventType discriminates Event variants.
type EventType string

const (
	// EventInit announces backend session identity (ThreadID, Model).
	EventInit EventType = "init"
	// EventMessage carries text content, either complete or an incremental
	// delta (Delta true).
	EventMessage EventType = "message"
	// EventToolUse announces a tool invocation by the agent.
	EventToolUse EventType = "tool_use"
	// EventToolResult carries the outcome of a tool invocation.
	EventToolResult EventType = "tool_result"
	// EventProgress is informational (reasoning summaries, status).
	EventProgress EventType = "progress"
	// EventPermission reports a permission decision made by the backend.
	EventPermission EventType = "permission"
	// EventFileChange reports a file touched by the agent.
	EventFileChange EventType = "file_change"
	// EventPlanUpdate carries the agent's plan / todo list.
	EventPlanUpdate EventType = "plan_update"
	// EventUsage carries token accounting.
	EventUsage EventType = "usage"
	// EventError reports a failure. Terminal unless Recoverable.
	EventError EventType = "error"
	// EventCancelled ends a stream that was aborted. Terminal.
	EventCancelled EventType = "cancelled"
	// EventDone ends a stream that completed. Terminal.
	EventDone EventType = "done"
)

// Usage contains token accounting reported by a backend.
type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens,omitempty"`
	OutputTokens      int64 `json:"output_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o *Usage) {
	if o == nil {
		return
	}
	u.InputTokens += o.InputTokens
	u.CachedInputTokens += o.CachedInputTokens
	u.OutputTokens += o.OutputTokens
}

// Event is the normalized unit of a stream. Fields beyond Type are set per
// variant; unknown Type values must be ignored by consumers.
type Event struct {
	Type      EventType `json:"type"`
	Provider  CoderType `json:"provider,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Timestamp time.Time `json:"ts"`

	// message
	Role  Role   `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Delta bool   `json:"delta,omitempty"`

	// init
	Model string `json:"model,omitempty"`

	// tool_use / tool_result
	ToolName string          `json:"name,omitempty"`
	CallID   string          `json:"call_id,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	ExitCode *int            `json:"exit_code,omitempty"`

	// progress / permission / file_change / plan_update
	Label string `json:"label,omitempty"`
	Path  string `json:"path,omitempty"`
	Op    string `json:"op,omitempty"`

	// usage
	Usage *Usage `json:"usage,omitempty"`

	// error / cancelled
	Code        Code   `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`

	// done
	JSON any `json:"json,omitempty"`

	// Original is the backend item this event was derived from.
	Original json.RawMessage `json:"original_item,omitempty"`

	// Err is the Go error behind a terminal error event. Not serialized.
	Err error `json:"-"`
}

// NewEvent creates a bare event of the given type stamped with the current
// UTC time. Prefer the typed constructors for common variants.
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

// NewMessageEvent creates an assistant message event.
func NewMessageEvent(text string, delta bool) Event {
	e := NewEvent(EventMessage)
	e.Role = RoleAssistant
	e.Text = text
	e.Delta = delta
	return e
}

// NewInitEvent creates an init event announcing a thread id.
func NewInitEvent(threadID, model string) Event {
	e := NewEvent(EventInit)
	e.ThreadID = threadID
	e.Model = model
	return e
}

// NewToolUseEvent creates a tool_use event.
func NewToolUseEvent(name, callID string, args json.RawMessage) Event {
	e := NewEvent(EventToolUse)
	e.ToolName = name
	e.CallID = callID
	e.Args = args
	return e
}

// NewToolResultEvent creates a tool_result event.
func NewToolResultEvent(name, callID string, result json.RawMessage, exitCode *int) Event {
	e := NewEvent(EventToolResult)
	e.ToolName = name
	e.CallID = callID
	e.Result = result
	e.ExitCode = exitCode
	return e
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(label, text string) Event {
	e := NewEvent(EventProgress)
	e.Label = label
	e.Text = text
	return e
}

// NewUsageEvent creates a usage event.
func NewUsageEvent(u Usage) Event {
	e := NewEvent(EventUsage)
	e.Usage = &u
	return e
}

// NewErrorEvent creates a terminal error event from err. The code is derived
// with CodeOf.
func NewErrorEvent(err error) Event {
	e := NewEvent(EventError)
	e.Code = CodeOf(err)
	e.Message = err.Error()
	e.Err = err
	return e
}

// NewWarningEvent creates a recoverable error event; the stream continues.
func NewWarningEvent(code Code, message string) Event {
	e := NewEvent(EventError)
	e.Code = code
	e.Message = message
	e.Recoverable = true
	return e
}

// NewCancelledEvent creates the terminal cancelled event.
func NewCancelledEvent(reason string) Event {
	e := NewEvent(EventCancelled)
	e.Code = CodeInterrupted
	e.Message = reason
	return e
}

// NewDoneEvent creates the terminal done event carrying the final text.
func NewDoneEvent(text string, usage *Usage, value any) Event {
	e := NewEvent(EventDone)
	e.Role = RoleAssistant
	e.Text = text
	e.Usage = usage
	e.JSON = value
	return e
}

// IsTerminal reports whether nothing may follow e in a stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventCancelled, EventDone:
		return true
	case EventError:
		return !e.Recoverable
	default:
		return false
	}
}

// IsDelta reports whether e is an incremental text fragment.
func (e Event) IsDelta() bool { return e.Type == EventMessage && e.Delta }
