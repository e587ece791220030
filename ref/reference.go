package ref

import (
	"reflect"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/world"
)

// Accessor yields the world and the holder identity used for claims.
// Every native call receives one; references never reach ambient state.
type Accessor interface {
	World() *world.World
	Execution() access.ExecutionID
}

// Reference is a handle to host data: a root identity plus a path into it.
// It is an immutable value, cheap to copy, and carries no lock. Resolving a
// reference re-validates its root, so using one after the value it points
// at is gone is an error rather than a dangling access.
type Reference struct {
	tail *node
	root world.RootID
}

// New returns a reference to the whole root.
func New(root world.RootID) Reference {
	return Reference{root: root}
}

// Root returns the root identity.
func (r Reference) Root() world.RootID { return r.root }

// Path returns the elements from the root to the referenced value.
func (r Reference) Path() Path { return r.tail.path() }

// Depth returns the number of path elements.
func (r Reference) Depth() int {
	if r.tail == nil {
		return 0
	}
	return r.tail.depth
}

// Index returns a new reference one element deeper. No resolution is
// performed and the receiver is not modified.
func (r Reference) Index(e Element) Reference {
	depth := 1
	if r.tail != nil {
		depth = r.tail.depth + 1
	}
	return Reference{root: r.root, tail: &node{parent: r.tail, elem: e, depth: depth}}
}

// Field is shorthand for r.Index(Field(name)).
func (r Reference) Field(name string) Reference { return r.Index(Field(name)) }

// At is shorthand for r.Index(Index(i)).
func (r Reference) At(i int) Reference { return r.Index(Index(i)) }

// Key is shorthand for r.Index(Key(k)).
func (r Reference) Key(k any) Reference { return r.Index(Key(k)) }

// Parent returns the reference one element up, or false at the root.
func (r Reference) Parent() (Reference, Element, bool) {
	if r.tail == nil {
		return r, Element{}, false
	}
	return Reference{root: r.root, tail: r.tail.parent}, r.tail.elem, true
}

func (r Reference) String() string {
	return r.root.String() + r.Path().String()
}

// Equal reports whether both references name the same root and path.
func (r Reference) Equal(o Reference) bool {
	if r.root != o.root || r.Depth() != o.Depth() {
		return false
	}
	a, b := r.tail, o.tail
	for a != nil {
		if a == b {
			return true
		}
		if a.elem.Kind != b.elem.Kind || a.elem.Name != b.elem.Name || a.elem.Index != b.elem.Index ||
			!reflect.DeepEqual(a.elem.Key, b.elem.Key) {
			return false
		}
		a, b = a.parent, b.parent
	}
	return true
}

// Read resolves the reference under a Read claim and calls fn with the
// value. The value must not escape fn.
func (r Reference) Read(acc Accessor, fn func(reflect.Value) error) error {
	return acc.World().Read(acc.Execution(), r.root, func(root reflect.Value) error {
		v, err := Resolve(root, r.Path())
		if err != nil {
			return err
		}
		return fn(v)
	})
}

// Write resolves the reference under a Write claim and calls fn with a
// settable value. The value must not escape fn.
func (r Reference) Write(acc Accessor, fn func(reflect.Value) error) error {
	return acc.World().Write(acc.Execution(), r.root, func(root reflect.Value) error {
		return ResolveMut(root, r.Path(), fn)
	})
}

// Type returns the dynamic type of the referenced value.
func (r Reference) Type(acc Accessor) (reflect.Type, error) {
	var t reflect.Type
	err := r.Read(acc, func(v reflect.Value) error {
		for (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) && !v.IsNil() {
			v = v.Elem()
		}
		t = v.Type()
		return nil
	})
	return t, err
}

// Copy returns a deep copy of the referenced value.
func (r Reference) Copy(acc Accessor) (reflect.Value, error) {
	var out reflect.Value
	err := r.Read(acc, func(v reflect.Value) error {
		out = Clone(v)
		return nil
	})
	return out, err
}

// Set replaces the referenced value with v, which must be assignable to it.
func (r Reference) Set(acc Accessor, v reflect.Value) error {
	return r.Write(acc, func(dst reflect.Value) error {
		return Assign(dst, v, r.Path())
	})
}

// Assign stores v into dst, converting between numeric kinds. at is used for
// error paths only.
func Assign(dst, v reflect.Value, at Path) error {
	if !dst.CanSet() {
		return errors.New(errors.PhasePath, errors.KindUnsupported).
			Path(at.Strings()...).
			Detail("value is not settable").
			Build()
	}
	if !v.IsValid() {
		return errors.TypeMismatch(at.Strings(), dst.Type().String(), "nil")
	}
	if !v.Type().AssignableTo(dst.Type()) {
		if isNumeric(v.Kind()) && isNumeric(dst.Kind()) {
			dst.Set(v.Convert(dst.Type()))
			return nil
		}
		return errors.TypeMismatch(at.Strings(), dst.Type().String(), v.Type().String())
	}
	dst.Set(v)
	return nil
}
