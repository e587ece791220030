// Package ref provides reflective references into host data.
//
// A Reference names a root (a component on an entity, a world resource or
// an arena slot) plus a path of field, index and key elements. Building a
// reference never touches the data. Every Read or Write resolves the path
// afresh under an access claim taken from the world's guard:
//
//	health := ref.New(world.ComponentRootOf[Health](e)).Field("Current")
//	err := health.Write(cc, func(v reflect.Value) error {
//		v.SetInt(v.Int() - 10)
//		return nil
//	})
//
// Resolution fails with a path error at the first element that does not
// apply, and with a stale-root error when the root no longer exists.
package ref
