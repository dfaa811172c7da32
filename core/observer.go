package core

import "time"

// RunOutcome classifies how a run ended.
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed"
	OutcomeCancelled RunOutcome = "cancelled"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeAbandoned RunOutcome = "abandoned"
)

// Observer receives lifecycle notifications from threads. Calls happen
// synchronously on the run's goroutine, so implementations must be fast and
// must not block.
type Observer interface {
	RunStarted(provider CoderType)
	EventEmitted(provider CoderType, ev Event)
	RunFinished(provider CoderType, outcome RunOutcome, elapsed time.Duration)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) RunStarted(CoderType)                            {}
func (NopObserver) EventEmitted(CoderType, Event)                   {}
func (NopObserver) RunFinished(CoderType, RunOutcome, time.Duration) {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(p CoderType) {
	for _, o := range m {
		o.RunStarted(p)
	}
}

func (m MultiObserver) EventEmitted(p CoderType, ev Event) {
	for _, o := range m {
		o.EventEmitted(p, ev)
	}
}

func (m MultiObserver) RunFinished(p CoderType, outcome RunOutcome, elapsed time.Duration) {
	for _, o := range m {
		o.RunFinished(p, outcome, elapsed)
	}
}
