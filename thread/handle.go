package thread

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
	"github.com/hupe1980/headlesscoder/structured"
)

// Options configures a Handle.
type Options struct {
	// Logger receives run diagnostics. Defaults to NoOp logger.
	Logger logging.Logger
	// Observer receives lifecycle notifications. Defaults to core.NopObserver.
	Observer core.Observer
}

// Handle implements core.ThreadHandle on top of a Driver.
//
// State machine:
//
//	created -> running -> idle <-> running
//	   any  -> closed (absorbing)
//
// A Handle runs one operation at a time; a second run issued while one is in
// flight is rejected with core.ErrThreadBusy.
type Handle struct {
	coder    core.HeadlessCoder
	provider core.CoderType
	driver   Driver
	logger   logging.Logger
	observer core.Observer

	mu      sync.Mutex
	state   core.ThreadState
	active  *core.AbortController
	runDone chan struct{}

	// delivering is set while a stream consumer handles an event.
	delivering atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New wraps driver in a Handle owned by coder.
func New(coder core.HeadlessCoder, driver Driver, optFns ...func(o *Options)) *Handle {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Observer: core.NopObserver{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Observer == nil {
		opts.Observer = core.NopObserver{}
	}

	return &Handle{
		coder:    coder,
		provider: coder.Type(),
		driver:   driver,
		logger:   logging.With(opts.Logger, "provider", string(coder.Type())),
		observer: opts.Observer,
		state:    core.StateCreated,
	}
}

// ID returns the backend session id, or "" before the first run assigned one.
func (h *Handle) ID() string { return h.driver.SessionID() }

// Coder returns the owning coder.
func (h *Handle) Coder() core.HeadlessCoder { return h.coder }

// State returns the current lifecycle state.
func (h *Handle) State() core.ThreadState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Driver returns the underlying driver.
func (h *Handle) Driver() Driver { return h.driver }

func (h *Handle) begin() (*core.AbortController, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case core.StateClosed:
		return nil, core.ErrClosedThread
	case core.StateRunning:
		return nil, core.ErrThreadBusy
	}

	h.state = core.StateRunning
	h.active = core.NewAbortController()
	h.runDone = make(chan struct{})

	return h.active, nil
}

func (h *Handle) finish() {
	h.mu.Lock()
	closed := h.state == core.StateClosed
	if !closed {
		h.state = core.StateIdle
	}
	h.active = nil
	close(h.runDone)
	h.mu.Unlock()

	if closed {
		_ = h.closeDriver(context.Background())
	}
}

// Run executes prompt and returns the buffered result.
//
// A signal that is already aborted fails the call with core.ErrInterrupted
// before any backend work. An abort during the run fails it with
// core.ErrInterrupted; backend failures are returned as core.ErrBackend.
func (h *Handle) Run(ctx context.Context, prompt core.Prompt, optFns ...core.RunOption) (*core.RunResult, error) {
	opts := core.ResolveRunOptions(optFns...)

	if h.State() == core.StateClosed {
		return nil, core.ErrClosedThread
	}
	if opts.Signal != nil && opts.Signal.Aborted() {
		return nil, core.Interrupted(opts.Signal.Reason())
	}

	ctrl, err := h.begin()
	if err != nil {
		return nil, err
	}
	defer h.finish()

	return h.execute(ctx, ctrl, prompt, opts, func(core.Event) bool { return true })
}

// RunStreamed returns a lazy sequence of the run's events. No backend work
// happens until the sequence is iterated, and the backend only makes progress
// while the consumer pulls. The sequence is single-use: iterating it again
// yields nothing.
//
// Breaking out of the iteration aborts the run and returns once the backend
// has unwound, leaving the handle idle.
func (h *Handle) RunStreamed(ctx context.Context, prompt core.Prompt, optFns ...core.RunOption) (iter.Seq[core.Event], error) {
	if h.State() == core.StateClosed {
		return nil, core.ErrClosedThread
	}

	opts := core.ResolveRunOptions(optFns...)

	var consumed atomic.Bool

	return func(yield func(core.Event) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}

		if opts.Signal != nil && opts.Signal.Aborted() {
			yield(h.stamp(core.NewCancelledEvent(opts.Signal.Reason())))
			return
		}

		ctrl, err := h.begin()
		if err != nil {
			yield(h.stamp(core.NewErrorEvent(err)))
			return
		}
		defer h.finish()

		_, _ = h.execute(ctx, ctrl, prompt, opts, func(ev core.Event) bool {
			h.delivering.Store(true)
			defer h.delivering.Store(false)
			return yield(ev)
		})
	}, nil
}

// Interrupt aborts the in-flight run. It is a no-op when the thread is idle.
func (h *Handle) Interrupt(reason string) error {
	h.mu.Lock()
	if h.state == core.StateClosed {
		h.mu.Unlock()
		return core.ErrClosedThread
	}
	ctrl := h.active
	h.mu.Unlock()

	if ctrl == nil {
		return nil
	}

	if reason == "" {
		reason = "interrupted"
	}

	h.logger.Info("Interrupting run", "thread_id", h.ID(), "reason", reason)
	ctrl.Abort(reason)

	if in, ok := h.driver.(Interrupter); ok {
		if err := in.Interrupt(reason); err != nil {
			return core.WrapError(core.CodeBackend, err, "native interrupt")
		}
	}

	return nil
}

// Close aborts any in-flight run, waits for it to unwind (bounded by ctx)
// and releases the driver. Calling Close again is a no-op.
//
// Called while a consumer of one of the thread's streams is handling an
// event, typically from inside the range body, Close aborts the run and
// returns without waiting; the stream then ends with a cancelled event and
// the driver is released once the run has unwound.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.state == core.StateClosed {
		h.mu.Unlock()
		return nil
	}
	h.state = core.StateClosed
	ctrl, done := h.active, h.runDone
	h.mu.Unlock()

	if ctrl != nil {
		ctrl.Abort("thread closed")
		if in, ok := h.driver.(Interrupter); ok {
			_ = in.Interrupt("thread closed")
		}

		if h.delivering.Load() {
			h.logger.Debug("Close during event delivery, driver released after unwind", "thread_id", h.ID())
			return nil
		}

		select {
		case <-done:
		case <-ctx.Done():
			h.logger.Warn("Close timed out waiting for run", "thread_id", h.ID())
			return ctx.Err()
		}
	}

	return h.closeDriver(ctx)
}

func (h *Handle) closeDriver(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closeErr = h.driver.Close(ctx)
		h.logger.Debug("Thread closed", "thread_id", h.ID())
	})
	return h.closeErr
}

func (h *Handle) stamp(ev core.Event) core.Event {
	if ev.Provider == "" {
		ev.Provider = h.provider
	}
	if ev.ThreadID == "" {
		ev.ThreadID = h.ID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// execute drives one run and produces exactly one terminal event unless the
// consumer stopped pulling.
func (h *Handle) execute(
	ctx context.Context,
	ctrl *core.AbortController,
	prompt core.Prompt,
	opts core.RunOptions,
	yield func(core.Event) bool,
) (*core.RunResult, error) {
	start := time.Now()
	signal := ctrl.Signal()

	if opts.Signal != nil {
		stop, err := core.LinkSignal(opts.Signal, ctrl)
		if err == nil {
			defer stop()
		}
	}

	stopAfter := context.AfterFunc(ctx, func() {
		reason := "context cancelled"
		if cause := context.Cause(ctx); cause != nil {
			reason = cause.Error()
		}
		ctrl.Abort(reason)
	})
	defer stopAfter()

	runCtx, cancel := signal.Context(ctx)
	defer cancel()

	h.observer.RunStarted(h.provider)
	h.logger.Debug("Run started", "thread_id", h.ID(), "structured", opts.OutputSchema != nil)

	var (
		events       []core.Event
		deltas       strings.Builder
		lastMessage  string
		usage        *core.Usage
		driverFailed error
		consumerGone bool
	)

	deliver := func(ev core.Event) bool {
		events = append(events, ev)
		h.observer.EventEmitted(h.provider, ev)
		if !yield(ev) {
			consumerGone = true
			ctrl.Abort("consumer stopped reading")
			return false
		}
		return true
	}

	emit := func(ev core.Event) bool {
		if consumerGone || driverFailed != nil || signal.Aborted() {
			return false
		}

		switch {
		case ev.Type == core.EventDone || ev.Type == core.EventCancelled:
			h.logger.Debug("Dropping terminal event from driver", "type", string(ev.Type))
			return true
		case ev.Type == core.EventError && !ev.Recoverable:
			if ev.Err != nil {
				driverFailed = ev.Err
			} else {
				driverFailed = &core.Error{Code: ev.Code, Message: ev.Message}
			}
			return false
		case ev.Type == core.EventMessage && ev.Role != core.RoleUser:
			if ev.Delta {
				deltas.WriteString(ev.Text)
			} else {
				lastMessage = ev.Text
			}
		case ev.Type == core.EventUsage && ev.Usage != nil:
			if usage == nil {
				usage = &core.Usage{}
			}
			usage.Add(ev.Usage)
		}

		return deliver(h.stamp(ev))
	}

	req := Request{Prompt: prompt, OutputSchema: opts.OutputSchema, Signal: signal}
	out, err := h.driver.Run(runCtx, req, emit)
	if err == nil {
		err = driverFailed
	}
	if ctx.Err() != nil {
		ctrl.Abort(context.Cause(ctx).Error())
	}

	if consumerGone {
		h.finishRun(core.OutcomeAbandoned, start, len(events), nil)
		return nil, core.Interrupted(signal.Reason())
	}

	var (
		terminal core.Event
		result   *core.RunResult
		runErr   error
		outcome  core.RunOutcome
	)

	switch {
	case signal.Aborted():
		runErr = core.Interrupted(signal.Reason())
		terminal = core.NewCancelledEvent(signal.Reason())
		outcome = core.OutcomeCancelled
	case err != nil:
		runErr = core.WrapError(core.CodeBackend, err, string(h.provider)+" run failed")
		terminal = core.NewErrorEvent(runErr)
		outcome = core.OutcomeFailed
	default:
		text := out.Text
		if text == "" {
			text = deltas.String()
		}
		if text == "" {
			text = lastMessage
		}
		if out.Usage != nil {
			usage = out.Usage
		}

		var value any
		if opts.OutputSchema != nil {
			value, runErr = structured.Parse(text, opts.OutputSchema)
		}

		if runErr != nil {
			terminal = core.NewErrorEvent(runErr)
			outcome = core.OutcomeFailed
		} else {
			terminal = core.NewDoneEvent(text, usage, value)
			outcome = core.OutcomeCompleted
			result = &core.RunResult{Text: text, JSON: value, Usage: usage}
		}
	}

	deliver(h.stamp(terminal))
	h.finishRun(outcome, start, len(events), runErr)

	if result != nil {
		result.ThreadID = h.ID()
		result.Events = events
	}

	return result, runErr
}

func (h *Handle) finishRun(outcome core.RunOutcome, start time.Time, events int, err error) {
	elapsed := time.Since(start)
	h.observer.RunFinished(h.provider, outcome, elapsed)
	logging.LogRun(h.logger, string(outcome), elapsed, events, err, "thread_id", h.ID())
}

var _ core.ThreadHandle = (*Handle)(nil)
