// Package headlesscoder provides a high-level façade over the adapter
// registry with the built-in adapters pre-registered. Most applications
// interact with this package by:
//  1. Creating an SDK via New() (optionally overriding logger, observer or
//     the transcript store shared by the SDK-backed adapters)
//  2. Creating a coder by name with CreateCoder
//  3. Starting or resuming threads and running prompts on them
//
// Run is a one-shot helper for the common start, run, close sequence.
// Custom adapters are added with Register; the registry is available
// through Registry for anything else.
package headlesscoder

import (
	"context"

	"github.com/hupe1980/headlesscoder/adapter/anthropic"
	"github.com/hupe1980/headlesscoder/adapter/claude"
	"github.com/hupe1980/headlesscoder/adapter/codex"
	"github.com/hupe1980/headlesscoder/adapter/echo"
	"github.com/hupe1980/headlesscoder/adapter/gemini"
	"github.com/hupe1980/headlesscoder/adapter/openai"
	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
	"github.com/hupe1980/headlesscoder/registry"
	"github.com/hupe1980/headlesscoder/session"
)

// Options configures the SDK instance.
type Options struct {
	// Logger is injected into coders created without one. Defaults to a
	// no-op logger.
	Logger logging.Logger

	// Observer is injected into coders created without one.
	Observer core.Observer

	// SessionStore persists transcripts of the echo, anthropic and openai
	// adapters. Defaults to an in-memory store, so threads can be resumed
	// only within the process.
	SessionStore session.Store

	// APIKeys maps SDK adapter names ("anthropic", "openai") to API keys.
	// Missing keys fall back to the provider's environment variable.
	APIKeys map[string]string

	// SkipBuiltins leaves the registry empty.
	SkipBuiltins bool
}

// SDK is the high-level façade aggregating the registry and the built-in
// adapters.
type SDK struct {
	opts     Options
	registry *registry.Registry
}

// New creates an SDK with the built-in adapters registered under their
// default names (codex, claude, gemini, anthropic, openai, echo).
func New(optFns ...func(o *Options)) *SDK {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		SessionStore: session.NewInMemoryStore(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := registry.New(func(o *registry.Options) {
		o.Logger = opts.Logger
		o.Observer = opts.Observer
	})

	sdk := &SDK{opts: opts, registry: r}
	if !opts.SkipBuiltins {
		for _, f := range sdk.builtins() {
			r.MustRegister(f)
		}
	}
	return sdk
}

func (s *SDK) builtins() []core.AdapterFactory {
	store := s.opts.SessionStore
	return []core.AdapterFactory{
		codex.Factory(),
		claude.Factory(),
		gemini.Factory(),
		anthropic.Factory(func(o *anthropic.Options) {
			o.Store = store
			o.APIKey = s.opts.APIKeys[string(anthropic.CoderName)]
		}),
		openai.Factory(func(o *openai.Options) {
			o.Store = store
			o.APIKey = s.opts.APIKeys[string(openai.CoderName)]
		}),
		echo.Factory(func(o *echo.Options) { o.Store = store }),
	}
}

// Registry returns the underlying registry.
func (s *SDK) Registry() *registry.Registry { return s.registry }

// Register adds a custom adapter factory.
func (s *SDK) Register(factory core.AdapterFactory, optFns ...func(o *registry.RegisterOptions)) error {
	return s.registry.Register(factory, optFns...)
}

// CreateCoder builds a coder for name.
func (s *SDK) CreateCoder(name core.CoderType, opts core.StartOptions) (core.HeadlessCoder, error) {
	return s.registry.CreateCoder(name, opts)
}

// Run is a synchronous helper: it creates a coder, starts a thread (or
// resumes threadID when non-empty), runs prompt and closes the thread.
func (s *SDK) Run(
	ctx context.Context,
	name core.CoderType,
	start core.StartOptions,
	threadID string,
	prompt core.Prompt,
	optFns ...core.RunOption,
) (*core.RunResult, error) {
	coder, err := s.CreateCoder(name, start)
	if err != nil {
		return nil, err
	}

	var th core.ThreadHandle
	if threadID != "" {
		th, err = coder.ResumeThread(ctx, threadID)
	} else {
		th, err = coder.StartThread(ctx)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = coder.Close(context.WithoutCancel(ctx), th) }()

	return th.Run(ctx, prompt, optFns...)
}
