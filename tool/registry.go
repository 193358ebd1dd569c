package tool

import (
	"sort"
	"sync"
)

// Registry is the catalog of named callable capabilities. Registration
// happens once at process startup; the registry is immutable thereafter
// during normal operation, so reads after startup need no synchronization
// (the mutex only guards the registration phase).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the catalog. Descriptors with an unset retry
// policy receive DefaultRetryPolicy via the tool's own constructor; the
// registry stores entries as-is.
func (r *Registry) Register(t Tool) error {
	name := t.Descriptor().Name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = t
	return nil
}

// RegisterAll registers multiple tools, stopping at the first failure.
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	if !exists {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// Descriptors returns all registered descriptors sorted by name, used by the
// decision engine to advertise capabilities. Read-only, no side effects.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
