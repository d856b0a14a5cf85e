// Package pluggable holds the per-category handler registry and the
// priority-ordered dispatcher that fans calls out to it.
package pluggable

import (
	"log/slog"
	"sort"
	"sync"
)

const (
	// DefaultPriority is used when a registration does not set one.
	DefaultPriority = 50

	MetaModule     = "module"
	MetaModulePath = "module.path"

	defaultModulePath = "core"
)

// Metadata is plugin-defined and handler-specific registration metadata.
type Metadata map[string]string

// MetadataSource supplies the metadata of the plugin currently being loaded.
type MetadataSource interface {
	Current() Metadata
}

// Registration is one registered handler within one category. It is never
// mutated after registration; reordering replaces the category's list.
type Registration struct {
	category string
	handler  Handler
	original any
	identity any
	priority int
	metadata Metadata
	params   []Param
	name     string
	suspends bool
}

func (r *Registration) Category() string   { return r.category }
func (r *Registration) Priority() int      { return r.priority }
func (r *Registration) Name() string       { return r.name }
func (r *Registration) Params() []Param    { return append([]Param(nil), r.params...) }
func (r *Registration) Suspends() bool     { return r.suspends }
func (r *Registration) ModulePath() string { return r.metadata[MetaModulePath] }

// Metadata returns a copy of the registration metadata.
func (r *Registration) Metadata() Metadata {
	out := make(Metadata, len(r.metadata))
	for key, value := range r.metadata {
		out[key] = value
	}

	return out
}

func (r *Registration) label() string {
	return r.ModulePath() + "." + r.name
}

// Option customizes a registration.
type Option func(*registerOptions)

type registerOptions struct {
	priority int
	metadata Metadata
	params   []Param
}

// WithPriority sets the ordering key; lower runs earlier.
func WithPriority(priority int) Option {
	return func(o *registerOptions) { o.priority = priority }
}

// WithMetadata adds handler-specific metadata on top of the plugin metadata.
func WithMetadata(metadata Metadata) Option {
	return func(o *registerOptions) {
		for key, value := range metadata {
			o.metadata[key] = value
		}
	}
}

// WithParams declares the handler's parameter names explicitly.
func WithParams(params ...Param) Option {
	return func(o *registerOptions) { o.params = append([]Param{}, params...) }
}

// Names is a shorthand for required params.
func Names(names ...string) []Param {
	params := make([]Param, 0, len(names))
	for _, name := range names {
		params = append(params, Param{Name: name})
	}

	return params
}

// Registry owns the ordered handler list of every category.
type Registry struct {
	log    *slog.Logger
	source MetadataSource
	hooks  Hooks

	mu      sync.RWMutex
	entries map[string][]*Registration
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithMetadataSource sets the plugin metadata collaborator.
func WithMetadataSource(source MetadataSource) RegistryOption {
	return func(r *Registry) { r.source = source }
}

// WithHooks installs dispatch observers.
func WithHooks(hooks Hooks) RegistryOption {
	return func(r *Registry) { r.hooks = r.hooks.Merge(hooks) }
}

// NewRegistry builds an empty registry with every category present.
func NewRegistry(log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		log:     log.With("component", "pluggable.registry"),
		entries: make(map[string][]*Registration, len(categories)),
	}
	for _, category := range categories {
		r.entries[category] = nil
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds handler to category and keeps the category ordered by
// priority, ties in insertion order.
func (r *Registry) Register(handler any, category string, opts ...Option) (*Registration, error) {
	if !IsCategory(category) {
		return nil, newError(ErrUnknownCategory, "%q", category)
	}

	options := registerOptions{priority: DefaultPriority, metadata: Metadata{}}
	for _, opt := range opts {
		opt(&options)
	}

	a, err := adapt(handler, options.params)
	if err != nil {
		return nil, err
	}
	if forbidsSuspension(category) && a.suspends {
		return nil, newError(ErrIncompatibleHandler, "%s handler %s must not suspend", category, a.name)
	}

	metadata := Metadata{}
	if r.source != nil {
		for key, value := range r.source.Current() {
			metadata[key] = value
		}
	}
	for key, value := range options.metadata {
		metadata[key] = value
	}
	if metadata[MetaModulePath] == "" {
		metadata[MetaModulePath] = defaultModulePath
	}

	registration := &Registration{
		category: category,
		handler:  a.handler,
		original: handler,
		identity: identityOf(handler),
		priority: options.priority,
		metadata: metadata,
		params:   a.params,
		name:     a.name,
		suspends: a.suspends,
	}

	r.mu.Lock()
	current := r.entries[category]
	next := make([]*Registration, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, registration)
	sort.SliceStable(next, func(i, j int) bool { return next[i].priority < next[j].priority })
	r.entries[category] = next
	r.mu.Unlock()

	r.log.Debug("Registered handler", "category", category, "handler", registration.label(), "priority", registration.priority)

	return registration, nil
}

// Deregister removes the first registration matching target, which is either
// a *Registration or the handler value originally registered. Func literals
// and method values only deregister by their *Registration. An empty
// categories list searches every category.
func (r *Registry) Deregister(target any, categories []string, strict bool) error {
	if len(categories) == 0 {
		categories = Categories()
	}

	identity := identityOf(target)
	registration, _ := target.(*Registration)
	if registration == nil && identity == nil && target != nil {
		return newError(ErrIncompatibleHandler, "%s has no stable identity, deregister it by its registration", funcName(target))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, category := range categories {
		current, ok := r.entries[category]
		if !ok {
			if strict {
				return newError(ErrUnknownCategory, "%q", category)
			}
			continue
		}

		for i, entry := range current {
			if !matches(entry, registration, identity) {
				continue
			}

			next := make([]*Registration, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			r.entries[category] = next

			r.log.Debug("Deregistered handler", "category", category, "handler", entry.label())
			return nil
		}
	}

	if strict {
		return newError(ErrNotFound, "%v in %v", target, categories)
	}

	return nil
}

func matches(entry *Registration, registration *Registration, identity any) bool {
	if registration != nil {
		return entry == registration
	}
	if identity == nil {
		return false
	}
	if entry.identity == identity {
		return true
	}

	return identityOf(entry.handler) == identity
}

// Handlers returns a snapshot of the category's registrations in dispatch order.
func (r *Registry) Handlers(category string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*Registration(nil), r.entries[category]...)
}

func (r *Registry) snapshot(category string) ([]*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, ok := r.entries[category]
	return entries, ok
}
