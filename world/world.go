package world

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/errors"
)

// World is an in-memory entity/component/resource store. Reads and writes
// of stored values go through the world's access guard; structural changes
// (spawn, insert, remove, despawn) take its whole-world claim, see Commands.
type World struct {
	entities   map[Entity]map[reflect.Type]reflect.Value
	resources  map[reflect.Type]reflect.Value
	arena      *Arena
	types      *TypeRegistry
	guard      *access.Guard[RootID]
	observers  []Observer
	host       access.ExecutionID
	nextEntity Entity
	mu         sync.RWMutex
	obsMu      sync.RWMutex
}

// Option configures a World.
type Option func(*World)

// WithGuardOptions passes options to the world's access guard.
func WithGuardOptions(opts ...access.Option) Option {
	return func(w *World) {
		w.guard = access.NewGuard[RootID](opts...)
	}
}

// New creates an empty world.
func New(opts ...Option) *World {
	w := &World{
		entities:  make(map[Entity]map[reflect.Type]reflect.Value),
		resources: make(map[reflect.Type]reflect.Value),
		arena:     NewArena(),
		types:     NewTypeRegistry(),
		host:      access.NewExecutionID(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.guard == nil {
		w.guard = access.NewGuard[RootID]()
	}
	return w
}

// Guard returns the access guard governing this world.
func (w *World) Guard() *access.Guard[RootID] { return w.guard }

// Host returns the holder identity of structural changes made directly on
// the world rather than through As.
func (w *World) Host() access.ExecutionID { return w.host }

// Types returns the world's type registry.
func (w *World) Types() *TypeRegistry { return w.types }

// Arena returns the allocator for script-owned values.
func (w *World) Arena() *Arena { return w.arena }

// Subscribe adds an observer for structural changes.
func (w *World) Subscribe(o Observer) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	w.observers = append(w.observers, o)
}

// Alive reports whether e exists.
func (w *World) Alive(e Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entities[e]
	return ok
}

// Entities returns all live entities in ascending order.
func (w *World) Entities() []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Entity, 0, len(w.entities))
	for e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether e has a component of type t.
func (w *World) Has(e Entity, t reflect.Type) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entities[e][t]
	return ok
}

// Components returns the component types present on e, sorted by name.
func (w *World) Components(e Entity) []reflect.Type {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]reflect.Type, 0, len(w.entities[e]))
	for t := range w.entities[e] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Spawn creates an entity with the given components on behalf of the host.
func (w *World) Spawn(components ...any) (Entity, error) {
	return w.As(w.host).Spawn(components...)
}

// Despawn removes an entity and all of its components on behalf of the host.
func (w *World) Despawn(e Entity) (bool, error) { return w.As(w.host).Despawn(e) }

// Insert stores a copy of component on e on behalf of the host.
func (w *World) Insert(e Entity, component any) error { return w.As(w.host).Insert(e, component) }

// Remove deletes the component of type t from e on behalf of the host.
func (w *World) Remove(e Entity, t reflect.Type) (bool, error) { return w.As(w.host).Remove(e, t) }

// InsertResource stores a copy of v as a resource on behalf of the host.
func (w *World) InsertResource(v any) error { return w.As(w.host).InsertResource(v) }

// Allocate places a copy of v in the arena and returns its root. The root
// is new, so nobody can hold a claim on it and no claim is taken.
func (w *World) Allocate(v any) (RootID, error) {
	rv, err := ownedValue(v)
	if err != nil {
		return RootID{}, err
	}
	slot, err := w.arena.Allocate(rv.Interface())
	if err != nil {
		return RootID{}, err
	}
	w.types.Register(rv.Type())
	return AllocatedRoot(slot), nil
}

// Root resolves a root identity to its live, addressable value. Resolution
// re-validates the root on every call, so a root that was removed, despawned
// or freed yields a stale-root error.
func (w *World) Root(id RootID) (reflect.Value, error) {
	switch id.Kind {
	case RootComponent:
		w.mu.RLock()
		ptr, ok := w.entities[id.Entity][id.Type]
		w.mu.RUnlock()
		if ok {
			return ptr.Elem(), nil
		}
	case RootResource:
		w.mu.RLock()
		ptr, ok := w.resources[id.Type]
		w.mu.RUnlock()
		if ok {
			return ptr.Elem(), nil
		}
	case RootAllocated:
		if v, ok := w.arena.Get(id.Slot); ok {
			return v, nil
		}
	}
	return reflect.Value{}, errors.StaleRoot(id.String())
}

// RootType returns the stored type behind a live root.
func (w *World) RootType(id RootID) (reflect.Type, error) {
	v, err := w.Root(id)
	if err != nil {
		return nil, err
	}
	return v.Type(), nil
}

// Read runs fn with the root's value under a Read claim held by exec.
func (w *World) Read(exec access.ExecutionID, id RootID, fn func(reflect.Value) error) error {
	return w.guard.WithRead(exec, id, func() error {
		v, err := w.Root(id)
		if err != nil {
			return err
		}
		return fn(v)
	})
}

// Write runs fn with the root's addressable value under a Write claim held
// by exec.
func (w *World) Write(exec access.ExecutionID, id RootID, fn func(reflect.Value) error) error {
	return w.guard.WithWrite(exec, id, func() error {
		v, err := w.Root(id)
		if err != nil {
			return err
		}
		return fn(v)
	})
}

// View runs fn with a pointer to the component of type T on e under a Read
// claim. fn must not retain or modify the pointer.
func View[T any](w *World, exec access.ExecutionID, e Entity, fn func(*T) error) error {
	return w.Read(exec, ComponentRootOf[T](e), func(v reflect.Value) error {
		return fn(v.Addr().Interface().(*T))
	})
}

// Mutate runs fn with a pointer to the component of type T on e under a
// Write claim. fn must not retain the pointer.
func Mutate[T any](w *World, exec access.ExecutionID, e Entity, fn func(*T) error) error {
	return w.Write(exec, ComponentRootOf[T](e), func(v reflect.Value) error {
		return fn(v.Addr().Interface().(*T))
	})
}

func (w *World) notify(e Event) {
	w.obsMu.RLock()
	observers := make([]Observer, len(w.observers))
	copy(observers, w.observers)
	w.obsMu.RUnlock()

	for _, o := range observers {
		o.OnWorldEvent(e)
	}
}

func ownedValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return reflect.Value{}, errors.InvalidInput(errors.PhaseHost, "nil value")
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("nil %s", rv.Type()))
		}
		rv = rv.Elem()
	}
	return rv, nil
}
