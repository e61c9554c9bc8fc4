package actors

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dohr-michael/capq/internal/resources"
)

// Binding ties a capability set to the actor type that serves it.
type Binding struct {
	Name string
	Set  resources.CapabilitySet
	New  Factory
}

// Registry maps capability sets to bindings. Lookups are exact set matches;
// a binding for {a, b} never serves a task requiring only {a}.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Bind registers factory under set. Binding the same set twice is an error.
func (r *Registry) Bind(set resources.CapabilitySet, name string, factory Factory) error {
	if set.IsEmpty() {
		return errors.New("bind: capability set is empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("bind %s: actor name is empty", set)
	}
	if factory == nil {
		return fmt.Errorf("bind %s: factory is nil", set)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bindings[set.Key()]; ok {
		return fmt.Errorf("bind %s: already bound to %q", set, existing.Name)
	}
	r.bindings[set.Key()] = Binding{Name: name, Set: set, New: factory}
	return nil
}

// MustBind is Bind that panics on error, for static wiring.
func (r *Registry) MustBind(set resources.CapabilitySet, name string, factory Factory) {
	if err := r.Bind(set, name, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the binding registered for exactly set.
func (r *Registry) Lookup(set resources.CapabilitySet) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[set.Key()]
	return b, ok
}

// LookupKey is Lookup by canonical set key.
func (r *Registry) LookupKey(key string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[key]
	return b, ok
}

// Bindings returns all bindings sorted by set key.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Binding) int {
		return strings.Compare(a.Set.Key(), b.Set.Key())
	})
	return out
}

// Len returns the number of bound sets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// FactoryByName returns the factory of the first binding (in key order)
// registered under name. Remote workers resolve spawn requests this way.
func (r *Registry) FactoryByName(name string) (Factory, bool) {
	for _, b := range r.Bindings() {
		if b.Name == name {
			return b.New, true
		}
	}
	return nil, false
}
