// Package echo provides a deterministic, in-process coder. It needs no
// credentials or binaries and is used by tests, examples and the CLI's dry
// runs.
//
// Replies are "Echo: <last user message>" unless a canned response matches
// the message exactly. A message mentioning "previous message" is answered
// from the thread's transcript, which makes resume behavior observable.
// Requests with an output schema are answered with a fenced JSON document
// synthesized from the schema.
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/sdkcoder"
	"github.com/hupe1980/headlesscoder/session"
)

// CoderName is the default registry name of the echo adapter.
const CoderName core.CoderType = "echo"

// Options configures echo coders.
type Options struct {
	// Name overrides the registry name, allowing several independent echo
	// registrations (e.g. "echoA" and "echoB").
	Name core.CoderType
	// Delay is slept before every streamed word.
	Delay time.Duration
	// Responses maps an exact user message to a canned reply.
	Responses map[string]string
	// Store persists transcripts. Coders built by one Factory share a store
	// so threads can be resumed across coder instances.
	Store session.Store
	// Model is reported in init events.
	Model string
}

// New builds an echo coder with a private in-memory store.
func New(opts core.StartOptions) (core.HeadlessCoder, error) {
	return newCoder(Options{}, opts), nil
}

// Factory returns an AdapterFactory whose coders share one transcript store.
func Factory(optFns ...func(o *Options)) core.AdapterFactory {
	o := Options{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Store == nil {
		o.Store = session.NewInMemoryStore()
	}
	if o.Name == "" {
		o.Name = CoderName
	}

	return core.NewFactory(o.Name, func(start core.StartOptions) (core.HeadlessCoder, error) {
		return newCoder(o, start), nil
	})
}

func newCoder(o Options, start core.StartOptions) *sdkcoder.Coder {
	if o.Name == "" {
		o.Name = CoderName
	}
	if o.Model == "" {
		o.Model = start.Model
	}
	if o.Model == "" {
		o.Model = "echo-1"
	}
	return sdkcoder.New(sdkcoder.Config{
		Name:      o.Name,
		Model:     o.Model,
		Store:     o.Store,
		Completer: &completer{opts: o},
		Start:     start,
	})
}

type completer struct {
	opts Options
}

func (c *completer) Complete(ctx context.Context, call sdkcoder.Call, emit func(core.Event) bool) (sdkcoder.Reply, error) {
	users := userMessages(call.Messages)
	var userText, previous string
	if n := len(users); n > 0 {
		userText = users[n-1]
		if n > 1 {
			previous = users[n-2]
		}
	}

	reply, err := c.reply(userText, previous, call.OutputSchema)
	if err != nil {
		return sdkcoder.Reply{}, err
	}

	for _, word := range splitWords(reply) {
		if delay := c.opts.Delay; delay > 0 {
			select {
			case <-ctx.Done():
				return sdkcoder.Reply{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		if !emit(core.NewMessageEvent(word, true)) {
			return sdkcoder.Reply{}, ctx.Err()
		}
	}

	usage := core.Usage{
		InputTokens:  int64(len(strings.Fields(call.Messages.Flatten()))),
		OutputTokens: int64(len(strings.Fields(reply))),
	}
	return sdkcoder.Reply{Text: reply, Usage: &usage, Model: c.opts.Model}, nil
}

func (c *completer) reply(userText, previous string, schema map[string]any) (string, error) {
	if schema != nil {
		return sampleReply(userText, schema)
	}

	if canned, ok := c.opts.Responses[userText]; ok {
		return canned, nil
	}

	if strings.Contains(strings.ToLower(userText), "previous message") {
		if previous != "" {
			return "Your previous message was: " + previous, nil
		}
		return "There is no previous message in this thread.", nil
	}

	return "Echo: " + userText, nil
}

func userMessages(msgs []core.PromptMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.Role == core.RoleUser || m.Role == "" {
			out = append(out, m.Content)
		}
	}
	return out
}

// splitWords splits s into words keeping the separating whitespace attached,
// so concatenating the parts yields s.
func splitWords(s string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i-1] == ' ' && s[i] != ' ' {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
