// Package sdkcoder turns a stateless model API into a core.HeadlessCoder.
//
// The API itself has no sessions, so the conversation is kept in a
// session.Store. A thread's id is the transcript id; it is published only
// after the first run succeeded and its exchange was persisted.
package sdkcoder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
	"github.com/hupe1980/headlesscoder/session"
	"github.com/hupe1980/headlesscoder/structured"
	"github.com/hupe1980/headlesscoder/thread"
)

// Call is one completion request.
type Call struct {
	// System joins the system messages of the stored history and the run.
	System string
	// Messages is the stored history followed by the run's prompt, without
	// system messages.
	Messages core.Prompt
	// OutputSchema is set when structured output was requested.
	OutputSchema map[string]any
}

// Reply is the result of a completion.
type Reply struct {
	Text  string
	Usage *core.Usage
	// Model is the model that served the request, if reported.
	Model string
}

// Completer sends a Call to the API. Implementations stream intermediate
// events through emit and must stop once emit returns false.
type Completer interface {
	Complete(ctx context.Context, call Call, emit func(core.Event) bool) (Reply, error)
}

// Config describes one SDK-backed coder.
type Config struct {
	Name      core.CoderType
	Model     string
	Store     session.Store
	Completer Completer
	Start     core.StartOptions
}

// Coder implements core.HeadlessCoder for a Completer.
type Coder struct {
	cfg Config
}

// New builds a coder. A nil Store gets a private in-memory store.
func New(cfg Config) *Coder {
	if cfg.Store == nil {
		cfg.Store = session.NewInMemoryStore()
	}
	cfg.Start.Logger = logging.OrNop(cfg.Start.Logger)
	return &Coder{cfg: cfg}
}

func (c *Coder) Type() core.CoderType { return c.cfg.Name }

// StartThread creates a thread without an id.
func (c *Coder) StartThread(context.Context) (core.ThreadHandle, error) {
	return c.handle(&driver{coder: c}), nil
}

// ResumeThread binds a thread to a stored transcript.
func (c *Coder) ResumeThread(ctx context.Context, id string) (core.ThreadHandle, error) {
	if _, err := c.cfg.Store.Get(ctx, id); err != nil {
		return nil, c.loadError(id, err)
	}
	return c.handle(&driver{coder: c, id: id}), nil
}

func (c *Coder) loadError(id string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return core.NewError(core.CodeUnknownThread, "%s thread %q not found", c.cfg.Name, id)
	}
	return core.WrapError(core.CodeBackend, err, "load transcript")
}

func (c *Coder) Close(ctx context.Context, t core.ThreadHandle) error { return t.Close(ctx) }

func (c *Coder) handle(d *driver) *thread.Handle {
	return thread.New(c, d, func(o *thread.Options) {
		o.Logger = c.cfg.Start.Logger
		o.Observer = c.cfg.Start.Observer
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

func (d *driver) Close(context.Context) error { return nil }

func (d *driver) Run(ctx context.Context, req thread.Request, emit func(core.Event) bool) (thread.Outcome, error) {
	cfg := d.coder.cfg

	id := d.SessionID()
	var history core.Prompt
	if id != "" {
		tr, err := cfg.Store.Get(ctx, id)
		if err != nil {
			return thread.Outcome{}, d.coder.loadError(id, err)
		}
		history = tr.Prompt()
	}

	pending := id
	if pending == "" {
		pending = session.NewID()
	}

	if !emit(core.NewInitEvent(pending, cfg.Model)) {
		return thread.Outcome{}, ctx.Err()
	}

	full := append(append(core.Prompt(nil), history...), req.Prompt...)
	call := Call{
		System:       full.System(),
		Messages:     full.Conversation(),
		OutputSchema: req.OutputSchema,
	}

	reply, err := cfg.Completer.Complete(ctx, call, func(ev core.Event) bool {
		ev.ThreadID = pending
		return emit(ev)
	})
	if err != nil {
		return thread.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return thread.Outcome{}, err
	}

	// The transcript and the id are published only for output the handle
	// will accept.
	if req.OutputSchema != nil {
		if _, err := structured.Parse(reply.Text, req.OutputSchema); err != nil {
			return thread.Outcome{}, err
		}
	}

	if reply.Usage != nil {
		ev := core.NewUsageEvent(*reply.Usage)
		ev.ThreadID = pending
		if !emit(ev) {
			return thread.Outcome{}, ctx.Err()
		}
	}

	// System messages are persisted too, so a resumed thread keeps them.
	msgs := append(append([]core.PromptMessage(nil), req.Prompt...), core.PromptMessage{Role: core.RoleAssistant, Content: reply.Text})
	if err := d.persist(ctx, id, pending, msgs); err != nil {
		return thread.Outcome{}, err
	}

	return thread.Outcome{Text: reply.Text, Usage: reply.Usage}, nil
}

func (d *driver) persist(ctx context.Context, id, pending string, msgs []core.PromptMessage) error {
	store := d.coder.cfg.Store

	if id != "" {
		if err := store.Append(ctx, id, msgs...); err != nil {
			return fmt.Errorf("%s: append transcript: %w", d.coder.cfg.Name, err)
		}
		return nil
	}

	tr := session.NewTranscript(d.coder.cfg.Name)
	tr.ID = pending
	tr.Messages = msgs
	if err := store.Save(ctx, tr); err != nil {
		return fmt.Errorf("%s: save transcript: %w", d.coder.cfg.Name, err)
	}

	d.mu.Lock()
	d.id = pending
	d.mu.Unlock()
	return nil
}
