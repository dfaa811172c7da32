package testutil

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/headlesscoder/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Provider("codex").Thread("t-1").Delta("hel").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	ev core.Event
}

// NewEventBuilder creates a builder for a progress event.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{ev: core.NewEvent(core.EventProgress)}
}

// Type sets the event type (chainable).
func (b *EventBuilder) Type(t core.EventType) *EventBuilder { b.ev.Type = t; return b }

// Provider sets the provider (chainable).
func (b *EventBuilder) Provider(p core.CoderType) *EventBuilder { b.ev.Provider = p; return b }

// Thread sets the thread id (chainable).
func (b *EventBuilder) Thread(id string) *EventBuilder { b.ev.ThreadID = id; return b }

// At fixes the timestamp (chainable). Use mainly where determinism matters.
func (b *EventBuilder) At(ts time.Time) *EventBuilder { b.ev.Timestamp = ts; return b }

// Message turns the event into a complete assistant message (chainable).
func (b *EventBuilder) Message(text string) *EventBuilder {
	b.ev.Type = core.EventMessage
	b.ev.Role = core.RoleAssistant
	b.ev.Text = text
	b.ev.Delta = false
	return b
}

// Delta turns the event into an assistant text delta (chainable).
func (b *EventBuilder) Delta(text string) *EventBuilder {
	b.Message(text)
	b.ev.Delta = true
	return b
}

// ToolUse turns the event into a tool invocation with JSON args (chainable).
func (b *EventBuilder) ToolUse(name, callID, args string) *EventBuilder {
	b.ev.Type = core.EventToolUse
	b.ev.ToolName = name
	b.ev.CallID = callID
	if args != "" {
		b.ev.Args = json.RawMessage(args)
	}
	return b
}

// Usage turns the event into a usage report (chainable).
func (b *EventBuilder) Usage(in, out int64) *EventBuilder {
	b.ev.Type = core.EventUsage
	b.ev.Usage = &core.Usage{InputTokens: in, OutputTokens: out}
	return b
}

// Warning turns the event into a recoverable error (chainable).
func (b *EventBuilder) Warning(msg string) *EventBuilder {
	b.ev.Type = core.EventError
	b.ev.Code = core.CodeBackend
	b.ev.Message = msg
	b.ev.Recoverable = true
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() core.Event { return b.ev }
