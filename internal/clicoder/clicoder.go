// Package clicoder turns an agent CLI that prints JSON lines into a
// core.HeadlessCoder. A Backend describes the CLI (argv, line parser, error
// classification); this package owns process lifetime and session identity.
package clicoder

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/cliproc"
	"github.com/hupe1980/headlesscoder/logging"
	"github.com/hupe1980/headlesscoder/thread"
)

// Backend describes one agent CLI.
type Backend interface {
	// Name is the registry name of the adapter.
	Name() core.CoderType

	// DefaultBinary is used when StartOptions.ExecutablePath is empty.
	DefaultBinary() string

	// Command builds the argv for one run. sessionID is "" for the first run
	// of a fresh thread. The returned cleanup is always called after the
	// process exited.
	Command(start core.StartOptions, req thread.Request, sessionID string) (args []string, cleanup func(), err error)

	// NewParser returns the parser state for one run.
	NewParser() Parser
}

// Parser converts stdout lines of one run into normalized events.
type Parser interface {
	// Parse returns the events derived from line. Init events carrying a
	// ThreadID publish the session id. A returned error is logged and the
	// line is skipped.
	Parse(line []byte) ([]core.Event, error)

	// Finish is called after the process exited cleanly. A non-nil error
	// fails the run (e.g. a turn.failed record without a non-zero exit).
	Finish() (thread.Outcome, error)
}

// IDValidator is implemented by backends that can reject malformed ids
// before a process is spawned.
type IDValidator interface {
	ValidateID(id string) error
}

// ExitClassifier is implemented by backends that map process failures to
// specific error codes (e.g. an unknown session to CodeUnknownThread).
type ExitClassifier interface {
	ClassifyExit(err *cliproc.ExitError) error
}

// Options tunes process handling.
type Options struct {
	GracePeriod time.Duration
}

// Coder implements core.HeadlessCoder on top of a Backend.
type Coder struct {
	backend Backend
	start   core.StartOptions
	opts    Options
}

// New builds a coder for backend.
func New(backend Backend, start core.StartOptions, optFns ...func(o *Options)) *Coder {
	o := Options{GracePeriod: cliproc.DefaultGracePeriod}
	for _, fn := range optFns {
		fn(&o)
	}
	start.Logger = logging.OrNop(start.Logger)
	return &Coder{backend: backend, start: start, opts: o}
}

// Type returns the backend name.
func (c *Coder) Type() core.CoderType { return c.backend.Name() }

// Binary returns the executable that runs will spawn.
func (c *Coder) Binary() string {
	if c.start.ExecutablePath != "" {
		return c.start.ExecutablePath
	}
	return c.backend.DefaultBinary()
}

// StartThread returns a thread whose id is learned from the first run.
func (c *Coder) StartThread(context.Context) (core.ThreadHandle, error) {
	return c.handle(&driver{coder: c}), nil
}

// ResumeThread binds a thread to id. The CLI itself is the authority on
// whether id exists; a rejection surfaces as CodeUnknownThread on the first
// run.
func (c *Coder) ResumeThread(_ context.Context, id string) (core.ThreadHandle, error) {
	if id == "" {
		return nil, core.NewError(core.CodeUnknownThread, "%s: empty thread id", c.backend.Name())
	}
	if v, ok := c.backend.(IDValidator); ok {
		if err := v.ValidateID(id); err != nil {
			return nil, &core.Error{Code: core.CodeUnknownThread, Message: string(c.backend.Name()) + ": invalid thread id", Err: err}
		}
	}
	return c.handle(&driver{coder: c, id: id}), nil
}

// Close closes t.
func (c *Coder) Close(ctx context.Context, t core.ThreadHandle) error { return t.Close(ctx) }

func (c *Coder) handle(d *driver) *thread.Handle {
	return thread.New(c, d, func(o *thread.Options) {
		o.Logger = c.start.Logger
		o.Observer = c.start.Observer
	})
}

type driver struct {
	coder *Coder

	mu sync.Mutex
	id string
}

func (d *driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *driver) setID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id == "" {
		d.id = id
	}
}

// Close is a no-op: the CLI persists sessions itself and no process
// outlives a run.
func (d *driver) Close(context.Context) error { return nil }

func (d *driver) Run(ctx context.Context, req thread.Request, emit func(core.Event) bool) (thread.Outcome, error) {
	c := d.coder
	name := c.backend.Name()
	logger := logging.With(c.start.Logger, "provider", string(name))

	args, cleanup, err := c.backend.Command(c.start, req, d.SessionID())
	if err != nil {
		return thread.Outcome{}, core.WrapError(core.CodeBackend, err, string(name)+": build command")
	}
	if cleanup != nil {
		defer cleanup()
	}

	parser := c.backend.NewParser()
	handle := func(line []byte) bool {
		events, perr := parser.Parse(line)
		if perr != nil {
			logger.Warn("Skipping unparseable line", "error", perr, "bytes", len(line))
			return true
		}
		for _, ev := range events {
			if ev.Type == core.EventInit && ev.ThreadID != "" {
				d.setID(ev.ThreadID)
			}
			if ev.Original == nil {
				ev.Original = append([]byte(nil), line...)
			}
			if !emit(ev) {
				return false
			}
		}
		return true
	}

	spec := cliproc.Spec{
		Binary:      c.Binary(),
		Args:        args,
		Dir:         c.start.WorkingDirectory,
		Env:         c.start.Env,
		GracePeriod: c.opts.GracePeriod,
		Logger:      logger,
	}

	if err := cliproc.Run(ctx, spec, handle); err != nil {
		if ctx.Err() != nil {
			return thread.Outcome{}, ctx.Err()
		}
		return thread.Outcome{}, d.classify(err)
	}

	return parser.Finish()
}

func (d *driver) classify(err error) error {
	name := string(d.coder.backend.Name())

	var exitErr *cliproc.ExitError
	if errors.As(err, &exitErr) {
		if cl, ok := d.coder.backend.(ExitClassifier); ok {
			if mapped := cl.ClassifyExit(exitErr); mapped != nil {
				return mapped
			}
		}
		return &core.Error{Code: core.CodeBackend, Message: name + " exited with an error", Err: err}
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return &core.Error{Code: core.CodeBackend, Message: name + " executable not found", Err: err}
	}
	return core.WrapError(core.CodeBackend, err, name+" process failed")
}
