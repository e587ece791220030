package ref

import (
	"fmt"
	"reflect"

	"github.com/wippyai/scriptbridge/errors"
)

// Resolve walks path from root for reading. It fails at the first element
// that does not apply: a partially resolved value is never returned. The
// result may be a map entry and therefore not addressable.
func Resolve(root reflect.Value, path Path) (reflect.Value, error) {
	cur := root
	for i, e := range path {
		next, err := step(cur, e, path[:i+1])
		if err != nil {
			return reflect.Value{}, err
		}
		cur = next
	}
	return cur, nil
}

// ResolveMut walks path from an addressable root and calls fn with a
// settable value at the end of it. Map entries are not addressable in Go:
// the walker copies the entry, descends into the copy, and stores it back
// after fn succeeds.
func ResolveMut(root reflect.Value, path Path, fn func(reflect.Value) error) error {
	return walkMut(root, path, 0, fn)
}

func walkMut(v reflect.Value, path Path, depth int, fn func(reflect.Value) error) error {
	if depth == len(path) {
		return fn(v)
	}
	at := path[:depth+1]

	// a struct stored in an interface is a copy: descend into a settable
	// copy and store it back
	if v.Kind() == reflect.Interface && !v.IsNil() && v.Elem().Kind() != reflect.Pointer {
		inner := v.Elem()
		tmp := reflect.New(inner.Type()).Elem()
		tmp.Set(inner)
		if err := walkMut(tmp, path, depth, fn); err != nil {
			return err
		}
		if !v.CanSet() {
			return errors.New(errors.PhasePath, errors.KindUnsupported).
				Path(at.Strings()...).
				Detail("value behind interface is not settable").
				Build()
		}
		v.Set(tmp)
		return nil
	}

	base, err := indirect(v, at)
	if err != nil {
		return err
	}

	e := path[depth]
	if e.Kind == KeyElement && base.Kind() == reflect.Map {
		key, err := convertKey(e.Key, base.Type().Key(), at)
		if err != nil {
			return err
		}
		entry := base.MapIndex(key)
		if !entry.IsValid() {
			return errors.KeyMissing(at.Strings(), e.Key)
		}
		tmp := reflect.New(entry.Type()).Elem()
		tmp.Set(entry)
		if err := walkMut(tmp, path, depth+1, fn); err != nil {
			return err
		}
		base.SetMapIndex(key, tmp)
		return nil
	}

	next, err := step(base, e, at)
	if err != nil {
		return err
	}
	return walkMut(next, path, depth+1, fn)
}

func step(v reflect.Value, e Element, at Path) (reflect.Value, error) {
	v, err := indirect(v, at)
	if err != nil {
		return reflect.Value{}, err
	}

	switch e.Kind {
	case FieldElement:
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, errors.WrongContainer(at.Strings(), "struct", v.Type().String())
		}
		sf, ok := v.Type().FieldByName(e.Name)
		if !ok || !sf.IsExported() {
			return reflect.Value{}, errors.FieldMissing(at.Strings(), v.Type().String(), e.Name)
		}
		f, err := v.FieldByIndexErr(sf.Index)
		if err != nil {
			return reflect.Value{}, errors.NilPointer(at.Strings(), v.Type().String())
		}
		return f, nil

	case IndexElement:
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return reflect.Value{}, errors.WrongContainer(at.Strings(), "list", v.Type().String())
		}
		if e.Index < 0 || e.Index >= v.Len() {
			return reflect.Value{}, errors.OutOfBounds(at.Strings(), e.Index, v.Len())
		}
		return v.Index(e.Index), nil

	case KeyElement:
		if v.Kind() != reflect.Map {
			return reflect.Value{}, errors.WrongContainer(at.Strings(), "map", v.Type().String())
		}
		key, err := convertKey(e.Key, v.Type().Key(), at)
		if err != nil {
			return reflect.Value{}, err
		}
		entry := v.MapIndex(key)
		if !entry.IsValid() {
			return reflect.Value{}, errors.KeyMissing(at.Strings(), e.Key)
		}
		return entry, nil

	default:
		return reflect.Value{}, errors.InvalidInput(errors.PhasePath, "invalid path element")
	}
}

// indirect follows pointers and interfaces down to a concrete value.
func indirect(v reflect.Value, at Path) (reflect.Value, error) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, errors.NilPointer(at.Strings(), v.Type().String())
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, errors.NilPointer(at.Strings(), "<invalid>")
	}
	return v, nil
}

func convertKey(k any, kt reflect.Type, at Path) (reflect.Value, error) {
	kv := reflect.ValueOf(k)
	if !kv.IsValid() {
		return reflect.Value{}, errors.TypeMismatch(at.Strings(), kt.String(), "nil")
	}
	if !kv.Comparable() {
		return reflect.Value{}, errors.TypeMismatch(at.Strings(), kt.String(), kv.Type().String())
	}
	if kv.Type().AssignableTo(kt) {
		return kv, nil
	}
	if isNumeric(kv.Kind()) && isNumeric(kt.Kind()) {
		// the key must survive the conversion unchanged: no truncation, no wrap
		out := kv.Convert(kt)
		if !out.Convert(kv.Type()).Equal(kv) {
			return reflect.Value{}, errors.TypeMismatch(at.Strings(), kt.String(), fmt.Sprintf("%s %v", kv.Type(), k))
		}
		return out, nil
	}
	if kv.Kind() == reflect.String && kt.Kind() == reflect.String {
		return kv.Convert(kt), nil
	}
	return reflect.Value{}, errors.TypeMismatch(at.Strings(), kt.String(), kv.Type().String())
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of v that shares no slices, maps or pointers
// with it. Unexported fields are copied shallowly.
func Clone(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	out := reflect.New(v.Type()).Elem()

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return out
		}
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(Clone(v.Elem()))
		out.Set(p)
	case reflect.Slice:
		if v.IsNil() {
			return out
		}
		s := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			s.Index(i).Set(Clone(v.Index(i)))
		}
		out.Set(s)
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(Clone(v.Index(i)))
		}
	case reflect.Map:
		if v.IsNil() {
			return out
		}
		m := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m.SetMapIndex(iter.Key(), Clone(iter.Value()))
		}
		out.Set(m)
	case reflect.Struct:
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				out.Field(i).Set(Clone(v.Field(i)))
			}
		}
	case reflect.Interface:
		if v.IsNil() {
			return out
		}
		out.Set(Clone(v.Elem()))
	default:
		out.Set(v)
	}
	return out
}
