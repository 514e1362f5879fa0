package inputs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// DefaultRegistry is where input packages register their factory in init().
var DefaultRegistry = NewRegistry()

// Registry holds registered input factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for an input type, replacing any with the same name.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Name()] = factory
}

// Create builds a MessageInput for the given type and config.
func (r *Registry) Create(name string, cfg Config, sink Sink) (MessageInput, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown input type: %s", name)
	}
	if v, ok := factory.(interface{ ValidateConfig(Config) error }); ok {
		if err := v.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("%s input: %w", name, err)
		}
	}
	return factory.Create(cfg, sink)
}

// Types returns the registered input type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeInfo returns the config spec for the given input type.
func (r *Registry) TypeInfo(name string) (InputTypeInfo, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return InputTypeInfo{}, false
	}
	return factory.ConfigSpec(), true
}

// AllTypesInfo returns config specs for all registered input types, sorted by type.
func (r *Registry) AllTypesInfo() []InputTypeInfo {
	names := r.Types()
	out := make([]InputTypeInfo, 0, len(names))
	for _, name := range names {
		if info, ok := r.TypeInfo(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// Mount creates and starts an input per spec. HTTP endpoint inputs that do
// not run their own listener are handed to mount. The started inputs are
// returned so the caller can stop them; on error, those already started are
// stopped.
func (r *Registry) Mount(specs []InputSpec, sink Sink, mount func(path string, h http.Handler)) ([]MessageInput, error) {
	started := make([]MessageInput, 0, len(specs))
	for _, spec := range specs {
		cfg := spec.ConfigWithDescription()
		input, err := r.Create(spec.Type, cfg, sink)
		if err == nil {
			err = input.Start()
		}
		if err != nil {
			return nil, errors.Join(err, StopAll(started))
		}
		started = append(started, input)

		if listen, _ := cfg["listen"].(string); listen != "" {
			continue
		}
		if ep, ok := input.(HTTPEndpointInput); ok && mount != nil {
			mount(ep.Path(), ep.Handler())
		}
	}
	return started, nil
}

// StopAll stops every input and joins their errors.
func StopAll(running []MessageInput) error {
	var errs []error
	for _, in := range running {
		if err := in.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
