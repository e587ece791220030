package value

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
)

// Allocator places a host value in storage owned by the world and returns
// a reference to it. Conversions that meet a structured value with no home
// in the world use it to hand the script a reference instead of a copy.
type Allocator interface {
	Allocate(v any) (ref.Reference, error)
}

// IntoScript is implemented by host types that convert themselves.
type IntoScript interface {
	IntoScript(alloc Allocator) (Value, error)
}

var (
	valueType     = reflect.TypeOf(Value{})
	referenceType = reflect.TypeOf(ref.Reference{})
	handleType    = reflect.TypeOf(FunctionHandle{})
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	intoType      = reflect.TypeOf((*IntoScript)(nil)).Elem()
)

// Into converts a host value into a Value. Structs cannot be converted
// without an allocator; see IntoWith.
func Into(v any) (Value, error) {
	return IntoWith(nil, v)
}

// IntoWith converts a host value into a Value. Primitives, strings,
// sequences and string-keyed maps convert structurally. A nil pointer is
// Unit and a non-nil pointer converts its target. Structs are moved into
// the world through alloc and returned as a Reference.
func IntoWith(alloc Allocator, v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Unit(), nil
	case Value:
		return x, nil
	case ref.Reference:
		return Reference(x), nil
	case FunctionHandle:
		return Function(x), nil
	case IntoScript:
		return x.IntoScript(alloc)
	case error:
		return Error(x), nil
	case bool:
		return Bool(x), nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(int64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	}
	return intoReflect(alloc, reflect.ValueOf(v), nil)
}

func intoReflect(alloc Allocator, rv reflect.Value, at ref.Path) (Value, error) {
	if !rv.IsValid() {
		return Unit(), nil
	}
	t := rv.Type()
	switch {
	case t == valueType:
		return rv.Interface().(Value), nil
	case t == referenceType:
		return Reference(rv.Interface().(ref.Reference)), nil
	case t == handleType:
		return Function(rv.Interface().(FunctionHandle)), nil
	case t.Implements(intoType) && rv.CanInterface():
		if t.Kind() == reflect.Pointer && rv.IsNil() {
			return Unit(), nil
		}
		return rv.Interface().(IntoScript).IntoScript(alloc)
	case t.Implements(errorType) && rv.CanInterface():
		if (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && rv.IsNil() {
			return Unit(), nil
		}
		return Error(rv.Interface().(error)), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, errors.Overflow(at.Strings(), u, "integer")
		}
		return Integer(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Unit(), nil
		}
		return intoReflect(alloc, rv.Elem(), at)

	case reflect.Slice, reflect.Array:
		if t.Kind() == reflect.Slice && rv.IsNil() {
			return ListOf(nil), nil
		}
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := intoReflect(alloc, rv.Index(i), append(at, ref.Index(i)))
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return ListOf(items), nil

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return allocate(alloc, rv, at)
		}
		out := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			item, err := intoReflect(alloc, iter.Value(), append(at, ref.Key(k)))
			if err != nil {
				return Value{}, err
			}
			out[k] = item
		}
		return Map(out), nil

	case reflect.Struct:
		return allocate(alloc, rv, at)

	default:
		return Value{}, errors.New(errors.PhaseInterop, errors.KindUnsupported).
			Path(at.Strings()...).
			Received(t.String()).
			Detail("no script representation").
			Build()
	}
}

func allocate(alloc Allocator, rv reflect.Value, at ref.Path) (Value, error) {
	if alloc == nil {
		return Value{}, errors.New(errors.PhaseInterop, errors.KindUnsupported).
			Path(at.Strings()...).
			Received(rv.Type().String()).
			Detail("structured value needs an allocator").
			Build()
	}
	r, err := alloc.Allocate(rv.Interface())
	if err != nil {
		return Value{}, err
	}
	return Reference(r), nil
}

// FromReflect converts a value reached through r. Primitive leaves (bool,
// integers, floats, strings) are copied; a nil pointer or interface is
// Unit; anything else is returned as r itself so that writes through it
// reach the host value.
func FromReflect(v reflect.Value, r ref.Reference) Value {
	if !v.IsValid() {
		return Unit()
	}
	switch v.Type() {
	case valueType:
		return v.Interface().(Value)
	case referenceType:
		return Reference(v.Interface().(ref.Reference))
	case handleType:
		return Function(v.Interface().(FunctionHandle))
	}

	switch v.Kind() {
	case reflect.Bool:
		return Bool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return Error(errors.Overflow(r.Path().Strings(), u, "integer"))
		}
		return Integer(int64(u))
	case reflect.Float32, reflect.Float64:
		return Float(v.Float())
	case reflect.String:
		return String(v.String())
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return Unit()
		}
		if isLeaf(v.Elem()) {
			return FromReflect(v.Elem(), r)
		}
		return Reference(r)
	default:
		return Reference(r)
	}
}

func isLeaf(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Display renders v for humans: error messages, logs and the console.
func Display(v Value) string {
	switch v.kind {
	case KindUnit:
		return "()"
	case KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case KindInteger:
		return fmt.Sprintf("%d", v.Int())
	case KindFloat:
		return fmt.Sprintf("%g", v.Float())
	case KindString:
		return v.Str()
	case KindList:
		items := v.Items()
		b := make([]byte, 0, 2+len(items)*4)
		b = append(b, '[')
		for i, item := range items {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = append(b, displayNested(item)...)
		}
		return string(append(b, ']'))
	case KindMap:
		m := v.Entries()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = append(b, k...)
			b = append(b, ": "...)
			b = append(b, displayNested(m[k])...)
		}
		return string(append(b, '}'))
	case KindReference:
		r, _ := v.Ref()
		return "<ref " + r.String() + ">"
	case KindFunction:
		h, _ := v.Func()
		return "<fn " + h.String() + ">"
	case KindError:
		if err := v.Err(); err != nil {
			return "error: " + err.Error()
		}
		return "error"
	default:
		return "<invalid>"
	}
}

func displayNested(v Value) string {
	if v.kind == KindString {
		return fmt.Sprintf("%q", v.Str())
	}
	return Display(v)
}
