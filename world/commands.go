package world

import (
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/errors"
)

// Commands performs structural changes on behalf of one holder. Each
// operation runs under that holder's whole-world claim, so it is refused
// with a *access.ConflictError while anyone else holds a claim on any root.
// A holder that already owns the whole-world claim, such as a lifecycle
// batch, may issue commands freely.
//
// Observers are notified after the claim is released.
type Commands struct {
	w    *World
	exec access.ExecutionID
}

// As returns the structural operations performed on behalf of exec.
func (w *World) As(exec access.ExecutionID) Commands {
	return Commands{w: w, exec: exec}
}

// Execution returns the holder the commands claim for.
func (c Commands) Execution() access.ExecutionID { return c.exec }

func (c Commands) run(fn func() ([]Event, error)) error {
	var events []Event
	err := c.w.guard.WithGlobal(c.exec, func() error {
		var err error
		events, err = fn()
		return err
	})
	for _, ev := range events {
		c.w.notify(ev)
	}
	return err
}

// Spawn creates an entity with the given components.
func (c Commands) Spawn(components ...any) (Entity, error) {
	values := make([]reflect.Value, len(components))
	for i, comp := range components {
		rv, err := ownedValue(comp)
		if err != nil {
			return NoEntity, err
		}
		values[i] = rv
	}

	var e Entity
	err := c.run(func() ([]Event, error) {
		w := c.w
		w.mu.Lock()
		w.nextEntity++
		e = w.nextEntity
		comps := make(map[reflect.Type]reflect.Value, len(values))
		w.entities[e] = comps
		events := []Event{{Kind: EventSpawned, Entity: e}}
		for _, rv := range values {
			var previous any
			if old, ok := comps[rv.Type()]; ok {
				previous = old.Elem().Interface()
			}
			comps[rv.Type()] = stored(rv)
			events = append(events, Event{Kind: EventInserted, Entity: e, Type: rv.Type(), Value: rv.Interface(), Previous: previous})
		}
		w.mu.Unlock()

		for _, rv := range values {
			w.types.Register(rv.Type())
		}
		return events, nil
	})
	if err != nil {
		return NoEntity, err
	}
	Logger().Debug("entity spawned", zap.Stringer("entity", e), zap.Int("components", len(values)))
	return e, nil
}

// Despawn removes an entity and all of its components. It reports whether
// the entity existed.
func (c Commands) Despawn(e Entity) (bool, error) {
	var found bool
	err := c.run(func() ([]Event, error) {
		w := c.w
		w.mu.Lock()
		comps, ok := w.entities[e]
		if ok {
			delete(w.entities, e)
		}
		w.mu.Unlock()
		if !ok {
			return nil, nil
		}
		found = true

		types := make([]reflect.Type, 0, len(comps))
		for t := range comps {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })

		events := make([]Event, 0, len(types)+1)
		for _, t := range types {
			events = append(events, Event{Kind: EventRemoved, Entity: e, Type: t, Value: comps[t].Elem().Interface()})
		}
		return append(events, Event{Kind: EventDespawned, Entity: e}), nil
	})
	return found, err
}

// Insert stores a copy of component on e, replacing any component of the
// same type. Pointers are dereferenced: the world owns its values.
func (c Commands) Insert(e Entity, component any) error {
	rv, err := ownedValue(component)
	if err != nil {
		return err
	}
	t := rv.Type()

	return c.run(func() ([]Event, error) {
		w := c.w
		w.mu.Lock()
		comps, ok := w.entities[e]
		if !ok {
			w.mu.Unlock()
			return nil, errors.NotFound(errors.PhaseHost, "entity", e.String())
		}
		var previous any
		if old, exists := comps[t]; exists {
			previous = old.Elem().Interface()
		}
		comps[t] = stored(rv)
		w.mu.Unlock()

		w.types.Register(t)
		return []Event{{Kind: EventInserted, Entity: e, Type: t, Value: rv.Interface(), Previous: previous}}, nil
	})
}

// Remove deletes the component of type t from e. It reports whether the
// component existed.
func (c Commands) Remove(e Entity, t reflect.Type) (bool, error) {
	var found bool
	err := c.run(func() ([]Event, error) {
		w := c.w
		w.mu.Lock()
		old, ok := w.entities[e][t]
		if ok {
			delete(w.entities[e], t)
		}
		w.mu.Unlock()
		if !ok {
			return nil, nil
		}
		found = true
		return []Event{{Kind: EventRemoved, Entity: e, Type: t, Value: old.Elem().Interface()}}, nil
	})
	return found, err
}

// InsertResource stores a copy of v as the resource of its type.
func (c Commands) InsertResource(v any) error {
	rv, err := ownedValue(v)
	if err != nil {
		return err
	}
	return c.run(func() ([]Event, error) {
		w := c.w
		w.mu.Lock()
		w.resources[rv.Type()] = stored(rv)
		w.mu.Unlock()

		w.types.Register(rv.Type())
		return nil, nil
	})
}

// stored copies rv into a fresh pointer owned by the world.
func stored(rv reflect.Value) reflect.Value {
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	return ptr
}
