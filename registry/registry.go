// Package registry maps coder-type names to adapter factories.
package registry

import (
	"sort"
	"sync"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
)

// Options configures a Registry instance using the functional options pattern.
type Options struct {
	// Logger is injected into StartOptions that carry none.
	// Defaults to NoOp logger.
	Logger logging.Logger

	// Observer is injected into StartOptions that carry none.
	// Defaults to core.NopObserver.
	Observer core.Observer
}

// WithLogger sets the default logger handed to created coders.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithObserver sets the default observer handed to created coders.
func WithObserver(obs core.Observer) func(o *Options) {
	return func(o *Options) { o.Observer = obs }
}

// Registry maps coder-type names to factories and constructs coders on
// demand.
//
// Concurrency Model:
//   - Lookups (Get, CreateCoder, Names) take the read lock and never block
//     each other
//   - Mutations (Register, Unregister, Clear) are serialized by the write lock
//   - The presence check and the insert of Register happen under one lock, so
//     the first of two concurrent registrations for a name wins
//
// There is no package-level registry. Applications own one (usually through
// the root headlesscoder.SDK) and tests build fresh instances.
//
// Example:
//
//	reg := registry.New()
//	_ = reg.Register(codex.Factory())
//
//	coder, err := reg.CreateCoder("codex", core.StartOptions{WorkingDirectory: dir})
//	if err != nil {
//	    return err
//	}
type Registry struct {
	factories map[core.CoderType]core.AdapterFactory
	mu        sync.RWMutex

	logger   logging.Logger
	observer core.Observer
}

// New creates an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Observer: core.NopObserver{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		factories: make(map[core.CoderType]core.AdapterFactory),
		logger:    opts.Logger,
		observer:  opts.Observer,
	}
}

// RegisterOptions configures a single Register call.
type RegisterOptions struct {
	// Overwrite replaces an existing factory instead of failing.
	Overwrite bool
}

// WithOverwrite lets Register replace a factory already bound to the name.
func WithOverwrite() func(o *RegisterOptions) {
	return func(o *RegisterOptions) { o.Overwrite = true }
}

// Register binds factory under factory.CoderType().
//
// It fails with core.ErrDuplicateAdapter when the name is taken, unless
// WithOverwrite is given.
func (r *Registry) Register(factory core.AdapterFactory, optFns ...func(o *RegisterOptions)) error {
	if factory == nil {
		return core.NewError(core.CodeUnknownAdapter, "nil adapter factory")
	}

	opts := RegisterOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	name := factory.CoderType()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists && !opts.Overwrite {
		return core.NewError(core.CodeDuplicateAdapter, "adapter %q already registered", name)
	}

	r.factories[name] = factory
	r.logger.Debug("Adapter registered", "coder", string(name), "overwrite", opts.Overwrite)

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(factory core.AdapterFactory, optFns ...func(o *RegisterOptions)) {
	if err := r.Register(factory, optFns...); err != nil {
		panic(err)
	}
}

// Get returns the factory bound to name. The boolean is false when absent.
func (r *Registry) Get(name core.CoderType) (core.AdapterFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Unregister removes name. Removing an absent name is a no-op.
func (r *Registry) Unregister(name core.CoderType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[core.CoderType]core.AdapterFactory)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []core.CoderType {
	r.mu.RLock()
	names := make([]core.CoderType, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// CreateCoder resolves name and invokes its factory with opts. It fails with
// core.ErrUnknownAdapter when nothing is registered under name. Factory
// errors are returned wrapped as backend errors.
func (r *Registry) CreateCoder(name core.CoderType, opts core.StartOptions) (core.HeadlessCoder, error) {
	factory, ok := r.Get(name)
	if !ok {
		return nil, core.NewError(core.CodeUnknownAdapter, "no adapter registered for %q", name)
	}

	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	if opts.Observer == nil {
		opts.Observer = r.observer
	}

	coder, err := factory.New(opts)
	if err != nil {
		return nil, core.WrapError(core.CodeBackend, err, "create "+string(name)+" coder")
	}

	r.logger.Debug("Coder created", "coder", string(name))

	return coder, nil
}
