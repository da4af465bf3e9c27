package venue

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the named collection of venue adapters. It is safe for
// concurrent use; lookups during detection run alongside registration at
// startup.
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its own name. An adapter registered twice
// replaces the earlier registration.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by venue name. It returns an error when the venue
// is not registered.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("venue %q: not registered", name)
	}
	return a, nil
}

// FeeBps returns the fee for a venue, or 0 when the venue is unknown.
func (r *Registry) FeeBps(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.adapters[name]; ok {
		return a.FeeBps()
	}
	return 0
}

// Names returns all registered venue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns all registered adapters ordered by name.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Adapter, 0, len(names))
	for _, n := range names {
		out = append(out, r.adapters[n])
	}
	return out
}
