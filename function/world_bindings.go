package function

import (
	"fmt"
	"reflect"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/value"
	"github.com/wippyai/scriptbridge/world"
)

// RegisterWorld registers the global functions that let scripts reach
// world data: get_component, has_component, get_resource, spawn, despawn
// and allocate. Type names are resolved through the world's type registry.
// spawn and despawn change the world's structure and run under the
// whole-world claim.
func RegisterWorld(reg *Registry) error {
	return Globals(reg).
		Method("get_component", getComponent, Args("entity", "type"),
			Doc("Reference to a component of an entity.")).
		Method("has_component", hasComponent, Args("entity", "type"),
			Doc("Whether an entity has a component.")).
		Method("get_resource", getResource, Args("type"),
			Doc("Reference to a world resource.")).
		Method("spawn", spawn,
			Doc("Create an empty entity.")).
		Method("despawn", despawn, Args("entity"),
			Doc("Remove an entity and all of its components.")).
		Method("allocate", allocate, Args("value"),
			Doc("Move a value into world storage and return a reference to it.")).
		Err()
}

func lookupType(w *world.World, name string) (reflect.Type, error) {
	t, ok := w.Types().Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseInterop, "type", name)
	}
	return t, nil
}

func entityOf(id int64) (world.Entity, error) {
	if id <= 0 {
		return world.NoEntity, errors.InvalidInput(errors.PhaseInterop, fmt.Sprintf("invalid entity %d", id))
	}
	return world.Entity(id), nil
}

func getComponent(cc *CallContext, entity int64, typ string) (ref.Reference, error) {
	e, err := entityOf(entity)
	if err != nil {
		return ref.Reference{}, err
	}
	t, err := lookupType(cc.World(), typ)
	if err != nil {
		return ref.Reference{}, err
	}
	if !cc.World().Has(e, t) {
		return ref.Reference{}, errors.NotFound(errors.PhaseInterop, "component", e.String()+"/"+typ)
	}
	return ref.New(world.ComponentRoot(e, t)), nil
}

func hasComponent(cc *CallContext, entity int64, typ string) (bool, error) {
	e, err := entityOf(entity)
	if err != nil {
		return false, err
	}
	t, err := lookupType(cc.World(), typ)
	if err != nil {
		return false, err
	}
	return cc.World().Has(e, t), nil
}

func getResource(cc *CallContext, typ string) (ref.Reference, error) {
	t, err := lookupType(cc.World(), typ)
	if err != nil {
		return ref.Reference{}, err
	}
	root := world.ResourceRoot(t)
	if _, err := cc.World().RootType(root); err != nil {
		return ref.Reference{}, err
	}
	return ref.New(root), nil
}

func spawn(cc *CallContext) (int64, error) {
	e, err := cc.World().As(cc.Execution()).Spawn()
	return int64(e), err
}

func despawn(cc *CallContext, entity int64) (bool, error) {
	e, err := entityOf(entity)
	if err != nil {
		return false, err
	}
	return cc.World().As(cc.Execution()).Despawn(e)
}

func allocate(cc *CallContext, v value.Value) (ref.Reference, error) {
	if r, ok := v.Ref(); ok {
		return r, nil
	}
	if v.IsUnit() {
		return ref.Reference{}, errors.InvalidInput(errors.PhaseInterop, "cannot allocate unit")
	}
	return cc.Allocate(v.Interface())
}
