// Package thread implements the ThreadHandle lifecycle shared by every
// adapter. Adapters supply a Driver that talks to the backend; the Handle
// owns state transitions, cancellation, terminal-event enforcement and
// structured output reconciliation.
package thread

import (
	"context"

	"github.com/hupe1980/headlesscoder/core"
)

// Request is the input of one driver run.
type Request struct {
	Prompt core.Prompt
	// OutputSchema is set when the caller asked for structured output. Drivers
	// forward it to the backend by their own means.
	OutputSchema map[string]any
	// Signal is aborted when the run must stop (interrupt, caller signal,
	// context cancellation, consumer break or thread close).
	Signal *core.Signal
}

// Outcome is what a driver reports after a successful run.
type Outcome struct {
	// Text is the final assistant text. When empty the handle falls back to
	// the concatenated deltas, then to the last complete message.
	Text string
	// Usage overrides the usage accumulated from usage events.
	Usage *core.Usage
}

// Driver performs runs against one backend session.
//
// Run must deliver events in production order through emit and stop
// promptly once emit returns false or ctx is done. Drivers never emit
// terminal events (done, cancelled or non-recoverable errors); they return
// an error instead and the handle produces the terminal event. Run is never
// called concurrently on one driver.
type Driver interface {
	Run(ctx context.Context, req Request, emit func(core.Event) bool) (Outcome, error)

	// SessionID returns the backend session id, or "" before it is known.
	SessionID() string

	// Close releases backend resources. Called exactly once.
	Close(ctx context.Context) error
}

// Interrupter is implemented by drivers with a native interrupt mechanism.
// The handle calls it in addition to aborting the run signal.
type Interrupter interface {
	Interrupt(reason string) error
}
