package testutil

import (
	"iter"

	"github.com/hupe1980/headlesscoder/core"
)

// Collect drains seq into a slice.
func Collect(seq iter.Seq[core.Event]) []core.Event {
	var out []core.Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

// Types returns the type of every event, in order.
func Types(events []core.Event) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// Last returns the final event, or the zero Event when events is empty.
func Last(events []core.Event) core.Event {
	if len(events) == 0 {
		return core.Event{}
	}
	return events[len(events)-1]
}

// TerminalCount reports how many terminal events events holds.
func TerminalCount(events []core.Event) int {
	n := 0
	for _, ev := range events {
		if ev.IsTerminal() {
			n++
		}
	}
	return n
}

// Text concatenates the text of all assistant message deltas.
func Text(events []core.Event) string {
	var s string
	for _, ev := range events {
		if ev.IsDelta() {
			s += ev.Text
		}
	}
	return s
}
