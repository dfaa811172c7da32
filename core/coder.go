package core

import (
	"context"
	"iter"
)

// CoderType names a backend family. It is the registry key.
type CoderType string

// ThreadState is the lifecycle state of a ThreadHandle.
type ThreadState string

const (
	StateCreated ThreadState = "created"
	StateRunning ThreadState = "running"
	StateIdle    ThreadState = "idle"
	StateClosed  ThreadState = "closed"
)

// HeadlessCoder is a configured instance of one backend. It creates threads
// and owns them until they are closed.
type HeadlessCoder interface {
	// Type returns the backend family of this coder.
	Type() CoderType

	// StartThread creates a new thread. Its ID is empty until the first run
	// obtains identity from the backend.
	StartThread(ctx context.Context) (ThreadHandle, error)

	// ResumeThread rebuilds a handle bound to a previously observed id.
	// Implementations return ErrUnknownThread when the backend rejects id.
	ResumeThread(ctx context.Context, id string) (ThreadHandle, error)

	// Close releases the resources of thread. Equivalent to thread.Close.
	Close(ctx context.Context, thread ThreadHandle) error
}

// ThreadHandle is one conversational session with a backend.
//
// A handle runs at most one operation at a time. Close is idempotent and must
// be called on every exit path by whoever started or resumed the thread.
type ThreadHandle interface {
	// ID returns the backend-assigned session id or "" before it is known.
	ID() string

	// Coder returns the coder that created this handle.
	Coder() HeadlessCoder

	// State returns the current lifecycle state.
	State() ThreadState

	// Run executes prompt to completion and returns the buffered result.
	Run(ctx context.Context, prompt Prompt, optFns ...RunOption) (*RunResult, error)

	// RunStreamed returns a lazy, single-use sequence of events. The backend
	// makes progress only while the sequence is being iterated.
	RunStreamed(ctx context.Context, prompt Prompt, optFns ...RunOption) (iter.Seq[Event], error)

	// Interrupt asks the in-flight run to stop at its next checkpoint.
	Interrupt(reason string) error

	// Close releases backend resources. Safe to call more than once.
	Close(ctx context.Context) error
}

// AdapterFactory builds coders for one CoderType.
type AdapterFactory interface {
	CoderType() CoderType
	New(opts StartOptions) (HeadlessCoder, error)
}

type factoryFunc struct {
	name CoderType
	fn   func(StartOptions) (HeadlessCoder, error)
}

func (f factoryFunc) CoderType() CoderType { return f.name }

func (f factoryFunc) New(opts StartOptions) (HeadlessCoder, error) { return f.fn(opts) }

// NewFactory adapts a constructor function into an AdapterFactory.
func NewFactory(name CoderType, fn func(StartOptions) (HeadlessCoder, error)) AdapterFactory {
	return factoryFunc{name: name, fn: fn}
}
