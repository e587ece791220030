// Package world provides the host store that scripts reach into: entities
// with components, world resources, and an arena of script-allocated values.
//
// Every independently allocated value is addressed by a RootID:
//
//	world.ComponentRoot(entity, reflect.TypeOf(Health{}))
//	world.ResourceRoot(reflect.TypeOf(Clock{}))
//	world.AllocatedRoot(slot)
//
// Roots are the unit of access control. Reads and writes of stored values go
// through the world's access guard:
//
//	err := world.Mutate[Health](w, exec, e, func(h *Health) error {
//	    h.Current -= 10
//	    return nil
//	})
//
// Structural changes (Spawn, Insert, Remove, Despawn) are reported to
// observers, which is how the script lifecycle learns about script lists
// attached to entities.
//
// # Arena
//
// Values allocated on behalf of scripts live in an Arena slot with a strong
// count. Slots carry a generation so a reference to a freed and reused slot
// fails with a stale-root error instead of aliasing the new occupant.
package world
