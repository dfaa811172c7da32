package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is the read-only view of a cancellation state. It is safe for
// concurrent use; the transition to aborted is visible to every goroutine as
// soon as Abort returns.
//
// A Signal carries no power over native resources. Cooperating code checks it
// at its checkpoints (between events, before blocking calls) and unwinds.
type Signal struct {
	aborted atomic.Bool
	done    chan struct{}

	mu        sync.Mutex
	reason    string
	listeners map[uint64]func(reason string)
	nextID    uint64
	parents   []*Signal
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{}), listeners: make(map[uint64]func(string))}
}

// Aborted reports whether the signal has been aborted.
func (s *Signal) Aborted() bool { return s.aborted.Load() }

// Reason returns the reason recorded by the first Abort call, or "".
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns a channel closed when the signal is aborted.
func (s *Signal) Done() <-chan struct{} { return s.done }

// Context derives a context that is cancelled when either parent is done or
// the signal is aborted.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := s.onAbort(func(reason string) {
		cancel(&Error{Code: CodeInterrupted, Message: reason})
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// onAbort registers fn to run once when the signal aborts. If the signal is
// already aborted fn runs synchronously. The returned func unregisters fn and
// reports whether it was still pending.
func (s *Signal) onAbort(fn func(reason string)) func() bool {
	s.mu.Lock()
	if s.aborted.Load() {
		reason := s.reason
		s.mu.Unlock()
		fn(reason)
		return func() bool { return false }
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[id]; !ok {
			return false
		}
		delete(s.listeners, id)
		return true
	}
}

func (s *Signal) abort(reason string) {
	s.mu.Lock()
	if s.aborted.Load() {
		s.mu.Unlock()
		return
	}
	s.reason = reason
	s.aborted.Store(true)
	close(s.done)
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}

// hasAncestor reports whether target is s or one of the signals linked into s.
func (s *Signal) hasAncestor(target *Signal) bool {
	if s == target {
		return true
	}
	s.mu.Lock()
	parents := append([]*Signal(nil), s.parents...)
	s.mu.Unlock()
	for _, p := range parents {
		if p.hasAncestor(target) {
			return true
		}
	}
	return false
}

// AbortController owns a Signal and is the only way to abort it.
type AbortController struct {
	signal *Signal
}

// NewAbortController returns a controller with a fresh, non-aborted signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: newSignal()}
}

// Signal returns the controlled signal.
func (c *AbortController) Signal() *Signal { return c.signal }

// Abort transitions the signal to aborted. Repeated calls are no-ops and
// keep the first reason.
func (c *AbortController) Abort(reason string) { c.signal.abort(reason) }

// LinkSignal propagates abortion of parent to child. The wiring happens once;
// if parent is already aborted the child is aborted immediately. The returned
// stop func removes the link and reports whether it was still active.
//
// Linking fails with ErrSignalCycle when child's signal is parent itself or
// one of parent's ancestors.
func LinkSignal(parent *Signal, child *AbortController) (func() bool, error) {
	if parent.hasAncestor(child.signal) {
		return nil, ErrSignalCycle
	}

	child.signal.mu.Lock()
	child.signal.parents = append(child.signal.parents, parent)
	child.signal.mu.Unlock()

	stop := parent.onAbort(child.Abort)
	return func() bool {
		removed := stop()
		child.signal.mu.Lock()
		for i, p := range child.signal.parents {
			if p == parent {
				child.signal.parents = append(child.signal.parents[:i], child.signal.parents[i+1:]...)
				break
			}
		}
		child.signal.mu.Unlock()
		return removed
	}, nil
}
