package world

import (
	"reflect"
	"sort"
	"sync"
)

// TypeRegistry maps script-visible names to Go types so scripts can name
// component and resource types. Types are registered under their short name
// (Health) and their qualified name (game.Health).
type TypeRegistry struct {
	byName map[string]reflect.Type
	mu     sync.RWMutex
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{byName: make(map[string]reflect.Type)}
}

// Register adds t under its short and qualified names, plus any aliases.
// The first type registered under a short name keeps it.
func (r *TypeRegistry) Register(t reflect.Type, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name := t.Name(); name != "" {
		if _, taken := r.byName[name]; !taken {
			r.byName[name] = t
		}
	}
	r.byName[t.String()] = t
	for _, a := range aliases {
		r.byName[a] = t
	}
}

// Lookup finds a type by name.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Names returns every registered name, sorted.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Register adds T to the world's type registry.
func Register[T any](w *World, aliases ...string) reflect.Type {
	t := TypeOf[T]()
	w.types.Register(t, aliases...)
	return t
}
