package world

import (
	"fmt"
	"reflect"
)

// Entity identifies an entity in a World. Entity 0 is reserved and never
// returned by Spawn.
type Entity uint64

// NoEntity is the reserved zero entity.
const NoEntity Entity = 0

func (e Entity) String() string {
	return fmt.Sprintf("entity#%d", uint64(e))
}

// RootKind distinguishes the independently allocated values of a world.
type RootKind uint8

const (
	RootComponent RootKind = iota + 1 // one component on one entity
	RootResource                      // one world resource
	RootAllocated                     // one arena slot
)

// Slot addresses an arena entry. Index 0 is reserved; Generation changes
// every time the entry is freed so stale slots fail validation.
type Slot struct {
	Index      uint32
	Generation uint32
}

// RootID identifies one independently allocated host value. It is the unit
// of access control: two references with the same RootID may alias.
type RootID struct {
	Type   reflect.Type
	Entity Entity
	Slot   Slot
	Kind   RootKind
}

// ComponentRoot identifies the component of type t on entity e.
func ComponentRoot(e Entity, t reflect.Type) RootID {
	return RootID{Kind: RootComponent, Entity: e, Type: t}
}

// ResourceRoot identifies the resource of type t.
func ResourceRoot(t reflect.Type) RootID {
	return RootID{Kind: RootResource, Type: t}
}

// AllocatedRoot identifies an arena slot.
func AllocatedRoot(s Slot) RootID {
	return RootID{Kind: RootAllocated, Slot: s}
}

// ComponentRootOf is ComponentRoot for a static type.
func ComponentRootOf[T any](e Entity) RootID {
	return ComponentRoot(e, TypeOf[T]())
}

// ResourceRootOf is ResourceRoot for a static type.
func ResourceRootOf[T any]() RootID {
	return ResourceRoot(TypeOf[T]())
}

// TypeOf returns the reflect.Type of T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (r RootID) String() string {
	switch r.Kind {
	case RootComponent:
		return fmt.Sprintf("%s/%s", r.Entity, typeName(r.Type))
	case RootResource:
		return fmt.Sprintf("resource/%s", typeName(r.Type))
	case RootAllocated:
		return fmt.Sprintf("allocated#%d.%d", r.Slot.Index, r.Slot.Generation)
	default:
		return "root(invalid)"
	}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// EventType enumerates world change notifications.
type EventType uint8

const (
	EventSpawned EventType = iota
	EventDespawned
	EventInserted
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventSpawned:
		return "spawned"
	case EventDespawned:
		return "despawned"
	case EventInserted:
		return "inserted"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one structural change. For EventInserted, Previous holds
// the replaced component value (nil if none). Values are copies.
type Event struct {
	Value    any
	Previous any
	Type     reflect.Type
	Entity   Entity
	Kind     EventType
}

// Observer receives world change notifications. Observers are called after
// the change is applied, outside of the world's internal lock.
type Observer interface {
	OnWorldEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnWorldEvent calls f(e).
func (f ObserverFunc) OnWorldEvent(e Event) { f(e) }

// Dropper is optionally implemented by arena values that need cleanup
// when their last strong reference is released.
type Dropper interface {
	Drop()
}
