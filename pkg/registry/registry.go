// Package registry implements the process-wide capability catalog (§4.A):
// it maps source_type/process_type names to factories, validates
// properties at creation time, and never relies on runtime reflection over
// arbitrary packages — plugins call Register (or RegisterSource /
// RegisterProcessor) from their own init path, populating a static table.
package registry

import (
	"sort"
	"sync"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry/cueschema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// Registry is the process-wide catalog of source and processor factories.
// The zero value is not usable; use New.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]component.SourceFactory
	processors map[string]component.ProcessorFactory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sources:    make(map[string]component.SourceFactory),
		processors: make(map[string]component.ProcessorFactory),
	}
}

// RegisterSource adds a source factory under the given type name. Safe for
// concurrent callers — Discover is idempotent with respect to the final
// state of the catalog. Registering the same type name twice overwrites
// the previous factory, matching a plugin re-registering itself on reload.
func (r *Registry) RegisterSource(sourceType string, factory component.SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[sourceType] = factory
}

// RegisterProcessor adds a processor factory under the given type name.
func (r *Registry) RegisterProcessor(processType string, factory component.ProcessorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[processType] = factory
}

// DiscoveryFunc is a plugin's static registration entry point, called once
// by Discover. Plugins never need reflection; they just hand the registry
// their own Register calls.
type DiscoveryFunc func(*Registry)

// Discover runs each DiscoveryFunc against r. It is idempotent: calling it
// repeatedly, even concurrently (each call guarded by r's own locks inside
// Register*), converges to the same final catalog because registration is
// an overwrite, not an append.
func Discover(r *Registry, plugins ...DiscoveryFunc) {
	for _, p := range plugins {
		p(r)
	}
}

// SourceFactory looks up a source factory by type name.
func (r *Registry) SourceFactory(sourceType string) (component.SourceFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sources[sourceType]
	return f, ok
}

// ProcessorFactory looks up a processor factory by type name.
func (r *Registry) ProcessorFactory(processType string) (component.ProcessorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.processors[processType]
	return f, ok
}

// CreateSource validates properties against the factory's declared schema
// and returns a ready-to-use Source.
func (r *Registry) CreateSource(sourceType string, properties component.Properties) (component.Source, error) {
	factory, ok := r.SourceFactory(sourceType)
	if !ok {
		return nil, waivernerr.New(waivernerr.KindUnknownComponent, "unknown source_type: "+sourceType, nil).
			WithCode(waivernerr.CodeUnknownComponent)
	}
	if err := cueschema.Validate(factory.ConfigSchema(), properties); err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "invalid properties for source "+sourceType, err).
			WithCode(waivernerr.CodeConfig)
	}
	src, err := factory.Create(properties)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "source factory rejected properties: "+sourceType, err).
			WithCode(waivernerr.CodeConfig)
	}
	return src, nil
}

// CreateProcessor validates properties against the factory's declared
// schema and returns a ready-to-use Processor.
func (r *Registry) CreateProcessor(processType string, properties component.Properties) (component.Processor, error) {
	factory, ok := r.ProcessorFactory(processType)
	if !ok {
		return nil, waivernerr.New(waivernerr.KindUnknownComponent, "unknown process_type: "+processType, nil).
			WithCode(waivernerr.CodeUnknownComponent)
	}
	if err := cueschema.Validate(factory.ConfigSchema(), properties); err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "invalid properties for processor "+processType, err).
			WithCode(waivernerr.CodeConfig)
	}
	proc, err := factory.Create(properties)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "processor factory rejected properties: "+processType, err).
			WithCode(waivernerr.CodeConfig)
	}
	return proc, nil
}

// ListSources returns registered source type names in deterministic,
// lexicographic order.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysSource(r.sources)
}

// ListProcessors returns registered process type names in deterministic,
// lexicographic order.
func (r *Registry) ListProcessors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysProcessor(r.processors)
}

func sortedKeysSource(m map[string]component.SourceFactory) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysProcessor(m map[string]component.ProcessorFactory) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
