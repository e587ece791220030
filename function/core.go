package function

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/value"
)

// RegisterCore registers the indexers and container helpers every script
// runtime expects in the global namespace: get, set, len, push, pop,
// insert, remove, clear, keys, display and type_name.
//
// get and set can be overridden per type by registering functions with the
// same names in the type's namespace.
func RegisterCore(reg *Registry) error {
	return Globals(reg).
		Method("get", indexGet, Args("self", "key"),
			Doc("Index a reference. Primitive results are copies, anything else is a deeper reference.")).
		Method("set", indexSet, Args("self", "key", "value"),
			Doc("Assign through a reference. Map entries are created when missing.")).
		Method("len", length, Args("self"),
			Doc("Length of a list, map or string.")).
		Method("push", push, Args("self", "value"),
			Doc("Append to a list.")).
		Method("pop", pop, Args("self"),
			Doc("Remove and return the last list element, or unit when empty.")).
		Method("insert", insert, Args("self", "key", "value"),
			Doc("Insert into a list at a position, or into a map at a key.")).
		Method("remove", remove, Args("self", "key"),
			Doc("Remove and return a list element or map entry.")).
		Method("clear", clearContainer, Args("self"),
			Doc("Remove every element of a list or map.")).
		Method("keys", keys, Args("self"),
			Doc("Map keys, list positions or struct field names.")).
		Method("display", display, Args("value"),
			Doc("Human-readable rendering of any value.")).
		Method("type_name", typeName, Args("value"),
			Doc("Host type name of a reference, or the kind of any other value.")).
		Err()
}

// container follows pointers and interfaces to the value a path element
// applies to.
func container(v reflect.Value, at ref.Path) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, errors.NilPointer(at.Strings(), v.Type().String())
		}
		v = v.Elem()
	}
	return v, nil
}

// element selects the path element key addresses in c. List positions use
// the caller's index base.
func element(cc *CallContext, c reflect.Value, k value.Value, at ref.Path) (ref.Element, error) {
	switch c.Kind() {
	case reflect.Struct:
		if k.Kind() != value.KindString {
			return ref.Element{}, errors.TypeMismatch(at.Strings(), "string", k.Kind().String())
		}
		return ref.Field(k.Str()), nil
	case reflect.Slice, reflect.Array:
		if k.Kind() != value.KindInteger {
			return ref.Element{}, errors.TypeMismatch(at.Strings(), "integer", k.Kind().String())
		}
		return ref.Index(ref.ToZeroBased(k.Int(), cc.IndexBase())), nil
	case reflect.Map:
		kv, err := mapKey(cc, c, k, at)
		if err != nil {
			return ref.Element{}, err
		}
		return ref.Key(kv.Interface()), nil
	default:
		return ref.Element{}, errors.WrongContainer(at.Strings(), "struct, list or map", c.Type().String())
	}
}

func indexGet(cc *CallContext, self ref.Reference, k value.Value) (value.Value, error) {
	var e ref.Element
	err := self.Read(cc, func(v reflect.Value) error {
		c, err := container(v, self.Path())
		if err != nil {
			return err
		}
		e, err = element(cc, c, k, self.Path())
		return err
	})
	if err != nil {
		return value.Value{}, err
	}

	next := self.Index(e)
	var out value.Value
	err = next.Read(cc, func(v reflect.Value) error {
		out = value.FromReflect(v, next)
		return nil
	})
	return out, err
}

func indexSet(cc *CallContext, self ref.Reference, k, v value.Value) error {
	return self.Write(cc, func(orig reflect.Value) error {
		c, err := container(orig, self.Path())
		if err != nil {
			return err
		}
		if c.Kind() == reflect.Map {
			return mapPut(cc, c, k, v, self.Path())
		}
		e, err := element(cc, c, k, self.Path())
		if err != nil {
			return err
		}
		at := self.Index(e).Path()
		return ref.ResolveMut(orig, ref.Path{e}, func(dst reflect.Value) error {
			hv, err := value.From(v, dst.Type(), cc)
			if err != nil {
				return err
			}
			return ref.Assign(dst, hv, at)
		})
	})
}

// mapKey converts k to the key type of m. Only scalars can index a map.
func mapKey(cc *CallContext, m reflect.Value, k value.Value, at ref.Path) (reflect.Value, error) {
	switch k.Kind() {
	case value.KindBool, value.KindInteger, value.KindFloat, value.KindString:
		return value.From(k, m.Type().Key(), cc)
	default:
		return reflect.Value{}, errors.TypeMismatch(at.Strings(), "scalar key", k.Kind().String())
	}
}

func mapPut(cc *CallContext, m reflect.Value, k, v value.Value, at ref.Path) error {
	kv, err := mapKey(cc, m, k, at)
	if err != nil {
		return err
	}
	ev, err := value.From(v, m.Type().Elem(), cc)
	if err != nil {
		return err
	}
	if m.IsNil() {
		if !m.CanSet() {
			return errors.NilPointer(at.Strings(), m.Type().String())
		}
		m.Set(reflect.MakeMap(m.Type()))
	}
	m.SetMapIndex(kv, ev)
	return nil
}

func length(cc *CallContext, self ref.Reference) (int, error) {
	var n int
	err := self.Read(cc, func(v reflect.Value) error {
		c, err := container(v, self.Path())
		if err != nil {
			return err
		}
		switch c.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
			n = c.Len()
			return nil
		default:
			return errors.WrongContainer(self.Path().Strings(), "list, map or string", c.Type().String())
		}
	})
	return n, err
}

// list resolves self for writing and checks it is a growable slice.
func list(cc *CallContext, self ref.Reference, fn func(reflect.Value) error) error {
	return self.Write(cc, func(v reflect.Value) error {
		c, err := container(v, self.Path())
		if err != nil {
			return err
		}
		if c.Kind() != reflect.Slice {
			return errors.WrongContainer(self.Path().Strings(), "list", c.Type().String())
		}
		if !c.CanSet() {
			return errors.New(errors.PhasePath, errors.KindUnsupported).
				Path(self.Path().Strings()...).
				Detail("list is not settable").
				Build()
		}
		return fn(c)
	})
}

func push(cc *CallContext, self ref.Reference, v value.Value) error {
	return list(cc, self, func(s reflect.Value) error {
		ev, err := value.From(v, s.Type().Elem(), cc)
		if err != nil {
			return err
		}
		s.Set(reflect.Append(s, ev))
		return nil
	})
}

func pop(cc *CallContext, self ref.Reference) (value.Value, error) {
	out := value.Unit()
	err := list(cc, self, func(s reflect.Value) error {
		n := s.Len()
		if n == 0 {
			return nil
		}
		last := ref.Clone(s.Index(n - 1))
		var err error
		if out, err = value.IntoWith(cc, last.Interface()); err != nil {
			return err
		}
		s.Index(n - 1).Set(reflect.Zero(s.Type().Elem()))
		s.Set(s.Slice(0, n-1))
		return nil
	})
	return out, err
}

func insert(cc *CallContext, self ref.Reference, k, v value.Value) error {
	return self.Write(cc, func(orig reflect.Value) error {
		c, err := container(orig, self.Path())
		if err != nil {
			return err
		}
		switch c.Kind() {
		case reflect.Map:
			return mapPut(cc, c, k, v, self.Path())
		case reflect.Slice:
		default:
			return errors.WrongContainer(self.Path().Strings(), "list or map", c.Type().String())
		}
		if k.Kind() != value.KindInteger {
			return errors.TypeMismatch(self.Path().Strings(), "integer", k.Kind().String())
		}
		n := c.Len()
		i := ref.ToZeroBased(k.Int(), cc.IndexBase())
		if i < 0 || i > n {
			return errors.OutOfBounds(self.Index(ref.Index(i)).Path().Strings(), i, n)
		}
		ev, err := value.From(v, c.Type().Elem(), cc)
		if err != nil {
			return err
		}
		if !c.CanSet() {
			return errors.Unsupported(errors.PhasePath, "list is not settable")
		}
		c.Set(reflect.Append(c, reflect.Zero(c.Type().Elem())))
		reflect.Copy(c.Slice(i+1, n+1), c.Slice(i, n))
		c.Index(i).Set(ev)
		return nil
	})
}

func remove(cc *CallContext, self ref.Reference, k value.Value) (value.Value, error) {
	out := value.Unit()
	err := self.Write(cc, func(orig reflect.Value) error {
		c, err := container(orig, self.Path())
		if err != nil {
			return err
		}
		switch c.Kind() {
		case reflect.Map:
			kv, err := mapKey(cc, c, k, self.Path())
			if err != nil {
				return err
			}
			existing := c.MapIndex(kv)
			if !existing.IsValid() {
				return nil
			}
			if out, err = value.IntoWith(cc, ref.Clone(existing).Interface()); err != nil {
				return err
			}
			c.SetMapIndex(kv, reflect.Value{})
			return nil

		case reflect.Slice:
			if k.Kind() != value.KindInteger {
				return errors.TypeMismatch(self.Path().Strings(), "integer", k.Kind().String())
			}
			n := c.Len()
			i := ref.ToZeroBased(k.Int(), cc.IndexBase())
			if i < 0 || i >= n {
				return errors.OutOfBounds(self.Index(ref.Index(i)).Path().Strings(), i, n)
			}
			if !c.CanSet() {
				return errors.Unsupported(errors.PhasePath, "list is not settable")
			}
			if out, err = value.IntoWith(cc, ref.Clone(c.Index(i)).Interface()); err != nil {
				return err
			}
			reflect.Copy(c.Slice(i, n-1), c.Slice(i+1, n))
			c.Index(n - 1).Set(reflect.Zero(c.Type().Elem()))
			c.Set(c.Slice(0, n-1))
			return nil

		default:
			return errors.WrongContainer(self.Path().Strings(), "list or map", c.Type().String())
		}
	})
	return out, err
}

func clearContainer(cc *CallContext, self ref.Reference) error {
	return self.Write(cc, func(orig reflect.Value) error {
		c, err := container(orig, self.Path())
		if err != nil {
			return err
		}
		switch c.Kind() {
		case reflect.Map:
			c.Clear()
			return nil
		case reflect.Slice:
			if !c.CanSet() {
				return errors.Unsupported(errors.PhasePath, "list is not settable")
			}
			c.Clear()
			c.Set(c.Slice(0, 0))
			return nil
		default:
			return errors.WrongContainer(self.Path().Strings(), "list or map", c.Type().String())
		}
	})
}

func keys(cc *CallContext, self ref.Reference) ([]value.Value, error) {
	var out []value.Value
	err := self.Read(cc, func(v reflect.Value) error {
		c, err := container(v, self.Path())
		if err != nil {
			return err
		}
		switch c.Kind() {
		case reflect.Map:
			iter := c.MapRange()
			for iter.Next() {
				k, err := value.IntoWith(cc, iter.Key().Interface())
				if err != nil {
					return err
				}
				out = append(out, k)
			}
			sort.Slice(out, func(i, j int) bool {
				return value.Display(out[i]) < value.Display(out[j])
			})
		case reflect.Slice, reflect.Array:
			for i := 0; i < c.Len(); i++ {
				out = append(out, value.Integer(ref.FromZeroBased(i, cc.IndexBase())))
			}
		case reflect.Struct:
			for _, f := range reflect.VisibleFields(c.Type()) {
				if f.IsExported() && !f.Anonymous {
					out = append(out, value.String(f.Name))
				}
			}
		default:
			return errors.WrongContainer(self.Path().Strings(), "struct, list or map", c.Type().String())
		}
		return nil
	})
	return out, err
}

func display(cc *CallContext, v value.Value) (string, error) {
	r, ok := v.Ref()
	if !ok {
		return value.Display(v), nil
	}
	var s string
	err := r.Read(cc, func(rv reflect.Value) error {
		s = fmt.Sprintf("%+v", rv.Interface())
		return nil
	})
	return s, err
}

func typeName(cc *CallContext, v value.Value) (string, error) {
	r, ok := v.Ref()
	if !ok {
		return v.Kind().String(), nil
	}
	t, err := r.Type(cc)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}
