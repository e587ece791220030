package value

import (
	"math"
	"reflect"
	"strconv"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
)

// FromScript is implemented by pointer receivers of host types that
// convert themselves from a Value.
type FromScript interface {
	FromScript(v Value, acc ref.Accessor) error
}

var (
	fromType = reflect.TypeOf((*FromScript)(nil)).Elem()
	anyType  = reflect.TypeOf((*any)(nil)).Elem()
)

// From converts v to a host value of type t. A Reference is resolved
// through acc and its target copied when t is not itself a reference type.
// A nil acc is allowed when v holds no references.
func From(v Value, t reflect.Type, acc ref.Accessor) (reflect.Value, error) {
	return from(v, t, acc, nil)
}

// As is the generic form of From.
func As[T any](v Value, acc ref.Accessor) (T, error) {
	var zero T
	rv, err := From(v, reflect.TypeOf((*T)(nil)).Elem(), acc)
	if err != nil {
		return zero, err
	}
	out, _ := rv.Interface().(T)
	return out, nil
}

func from(v Value, t reflect.Type, acc ref.Accessor, at ref.Path) (reflect.Value, error) {
	switch t {
	case valueType:
		return reflect.ValueOf(v), nil
	case referenceType:
		r, ok := v.Ref()
		if !ok {
			return reflect.Value{}, mismatch(at, t, v)
		}
		return reflect.ValueOf(r), nil
	case handleType:
		h, ok := v.Func()
		if !ok {
			return reflect.Value{}, mismatch(at, t, v)
		}
		return reflect.ValueOf(h), nil
	case anyType:
		out := reflect.New(t).Elem()
		if x := v.Interface(); x != nil {
			out.Set(reflect.ValueOf(x))
		}
		return out, nil
	}

	if reflect.PointerTo(t).Implements(fromType) {
		ptr := reflect.New(t)
		if err := ptr.Interface().(FromScript).FromScript(v, acc); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}

	if t == errorType {
		if v.kind == KindUnit {
			return reflect.Zero(t), nil
		}
		if v.kind != KindError {
			return reflect.Value{}, mismatch(at, t, v)
		}
		out := reflect.New(t).Elem()
		if err := v.Err(); err != nil {
			out.Set(reflect.ValueOf(err))
		}
		return out, nil
	}

	if r, ok := v.Ref(); ok && t.Kind() != reflect.Pointer {
		return fromReference(r, t, acc, at)
	}

	switch t.Kind() {
	case reflect.Bool:
		if v.kind != KindBool {
			return reflect.Value{}, mismatch(at, t, v)
		}
		return reflect.ValueOf(v.Bool()).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := integral(v, t, at)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, errors.Overflow(at.Strings(), i, t.String())
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		i, err := integral(v, t, at)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, errors.Overflow(at.Strings(), i, t.String())
		}
		out.SetUint(uint64(i))
		return out, nil

	case reflect.Float32, reflect.Float64:
		if v.kind != KindFloat && v.kind != KindInteger {
			return reflect.Value{}, mismatch(at, t, v)
		}
		out := reflect.New(t).Elem()
		out.SetFloat(v.Float())
		return out, nil

	case reflect.String:
		if v.kind != KindString {
			return reflect.Value{}, mismatch(at, t, v)
		}
		return reflect.ValueOf(v.Str()).Convert(t), nil

	case reflect.Pointer:
		if v.kind == KindUnit {
			return reflect.Zero(t), nil
		}
		elem, err := from(v, t.Elem(), acc, at)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil

	case reflect.Slice:
		if v.kind != KindList {
			return reflect.Value{}, mismatch(at, t, v)
		}
		items := v.Items()
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			ev, err := from(item, t.Elem(), acc, append(at, ref.Index(i)))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case reflect.Array:
		if v.kind != KindList {
			return reflect.Value{}, mismatch(at, t, v)
		}
		items := v.Items()
		if len(items) != t.Len() {
			return reflect.Value{}, errors.New(errors.PhaseInterop, errors.KindTypeMismatch).
				Path(at.Strings()...).
				Expected(t.String()).
				Received("list of " + strconv.Itoa(len(items))).
				Build()
		}
		out := reflect.New(t).Elem()
		for i, item := range items {
			ev, err := from(item, t.Elem(), acc, append(at, ref.Index(i)))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case reflect.Map:
		if v.kind != KindMap || t.Key().Kind() != reflect.String {
			return reflect.Value{}, mismatch(at, t, v)
		}
		out := reflect.MakeMapWithSize(t, len(v.Entries()))
		for k, item := range v.Entries() {
			ev, err := from(item, t.Elem(), acc, append(at, ref.Key(k)))
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return out, nil

	case reflect.Struct:
		if v.kind != KindMap {
			return reflect.Value{}, mismatch(at, t, v)
		}
		out := reflect.New(t).Elem()
		for k, item := range v.Entries() {
			sf, ok := t.FieldByName(k)
			if !ok || !sf.IsExported() {
				return reflect.Value{}, errors.FieldMissing(append(at, ref.Field(k)).Strings(), t.String(), k)
			}
			ev, err := from(item, sf.Type, acc, append(at, ref.Field(k)))
			if err != nil {
				return reflect.Value{}, err
			}
			out.FieldByIndex(sf.Index).Set(ev)
		}
		return out, nil

	default:
		return reflect.Value{}, mismatch(at, t, v)
	}
}

// fromReference copies the target of r into a fresh value of type t.
func fromReference(r ref.Reference, t reflect.Type, acc ref.Accessor, at ref.Path) (reflect.Value, error) {
	if acc == nil {
		return reflect.Value{}, errors.New(errors.PhaseInterop, errors.KindUnsupported).
			Path(at.Strings()...).
			Expected(t.String()).
			Received("reference").
			Detail("no accessor to resolve reference").
			Build()
	}
	var out reflect.Value
	err := r.Read(acc, func(src reflect.Value) error {
		for (src.Kind() == reflect.Pointer || src.Kind() == reflect.Interface) && !src.IsNil() && src.Type() != t {
			src = src.Elem()
		}
		if !src.Type().AssignableTo(t) {
			if isLeaf(src) {
				// leaf behind a reference converts like the copied value would
				var err error
				out, err = from(FromReflect(src, r), t, nil, at)
				return err
			}
			return errors.TypeMismatch(at.Strings(), t.String(), src.Type().String())
		}
		out = reflect.New(t).Elem()
		out.Set(ref.Clone(src))
		return nil
	})
	if err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func integral(v Value, t reflect.Type, at ref.Path) (int64, error) {
	switch v.kind {
	case KindInteger:
		return v.Int(), nil
	case KindFloat:
		f := v.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, mismatch(at, t, v)
		}
		return int64(f), nil
	default:
		return 0, mismatch(at, t, v)
	}
}

func mismatch(at ref.Path, t reflect.Type, v Value) *errors.Error {
	return errors.TypeMismatch(at.Strings(), t.String(), v.kind.String())
}
