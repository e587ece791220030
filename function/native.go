package function

import (
	"fmt"
	"reflect"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/value"
)

// Dynamic is a native function that receives raw script values. It is used
// for functions whose shape cannot be expressed as a Go signature, such as
// the indexers. Returning an arity or type mismatch error reports a bad
// call; any other error becomes an Error value.
type Dynamic func(cc *CallContext, args []value.Value) (value.Value, error)

// native is a type-erased callable built from a Go function.
type native struct {
	fn         reflect.Value
	dynamic    Dynamic
	out        reflect.Type
	in         []reflect.Type
	takesCtx   bool
	returnsErr bool
	variadic   bool
}

func newNative(fn any) (*native, error) {
	if d, ok := fn.(Dynamic); ok {
		return &native{dynamic: d}, nil
	}
	if d, ok := fn.(func(*CallContext, []value.Value) (value.Value, error)); ok {
		return &native{dynamic: d}, nil
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Received(fmt.Sprintf("%T", fn)).
			Detail("handler must be a function").
			Build()
	}
	t := rv.Type()

	n := &native{fn: rv, variadic: t.IsVariadic()}
	for i := 0; i < t.NumIn(); i++ {
		if i == 0 && t.In(0) == contextType {
			n.takesCtx = true
			continue
		}
		n.in = append(n.in, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			n.returnsErr = true
		} else {
			n.out = t.Out(0)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Received(t.String()).
				Detail("second result must be error").
				Build()
		}
		n.out = t.Out(0)
		n.returnsErr = true
	default:
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Received(t.String()).
			Detail("at most one value and one error result").
			Build()
	}
	return n, nil
}

func (n *native) info(ns Namespace, name string) Info {
	info := Info{Namespace: ns, Name: name}
	if n.dynamic != nil {
		info.Arity = -1
		info.Variadic = true
		info.Return = typeOf(valueType)
		return info
	}
	info.Arity = len(n.in)
	info.Variadic = n.variadic
	if n.variadic {
		info.Arity = -1
	}
	for _, t := range n.in {
		info.ArgTypes = append(info.ArgTypes, typeOf(t))
	}
	if n.out != nil {
		info.Return = typeOf(n.out)
	}
	return info
}

// call converts args, runs the function and converts the result. A
// non-nil error is an interop failure; errors returned by the function
// itself come back as an Error value.
func (n *native) call(cc *CallContext, qualified string, args []value.Value) (value.Value, error) {
	if n.dynamic != nil {
		out, err := n.dynamic(cc, args)
		if err != nil {
			if isCallError(err) {
				return value.Value{}, err
			}
			return value.Error(errors.External(qualified, err)), nil
		}
		return out, nil
	}

	if err := n.checkArity(qualified, len(args)); err != nil {
		return value.Value{}, err
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if n.takesCtx {
		in = append(in, reflect.ValueOf(cc))
	}
	for i, arg := range args {
		t := n.paramType(i)
		rv, err := value.From(arg, t, cc)
		if err != nil {
			return value.Value{}, argumentError(qualified, i, err)
		}
		in = append(in, rv)
	}

	results := n.fn.Call(in)

	if n.returnsErr {
		if errv := results[len(results)-1]; !errv.IsNil() {
			return value.Error(errors.External(qualified, errv.Interface().(error))), nil
		}
	}
	if n.out == nil {
		return value.Unit(), nil
	}
	out, err := value.IntoWith(cc, results[0].Interface())
	if err != nil {
		return value.Value{}, errors.Wrap(errors.PhaseInterop, errors.KindTypeMismatch, err,
			fmt.Sprintf("result of %s", qualified))
	}
	return out, nil
}

func (n *native) paramType(i int) reflect.Type {
	if n.variadic && i >= len(n.in)-1 {
		return n.in[len(n.in)-1].Elem()
	}
	return n.in[i]
}

func (n *native) checkArity(qualified string, got int) error {
	want := len(n.in)
	switch {
	case n.variadic && got >= want-1:
		return nil
	case !n.variadic && got == want:
		return nil
	case n.variadic:
		return errors.ArityMismatch(qualified, fmt.Sprintf("at least %d %s", want-1, plural(want-1)), fmt.Sprintf("%d", got))
	default:
		return errors.ArityMismatch(qualified, fmt.Sprintf("%d %s", want, plural(want)), fmt.Sprintf("%d", got))
	}
}

func plural(n int) string {
	if n == 1 {
		return "argument"
	}
	return "arguments"
}

func argumentError(qualified string, i int, err error) error {
	detail := fmt.Sprintf("argument %d of %s", i+1, qualified)
	if e, ok := err.(*errors.Error); ok && e.Detail == "" {
		e.Detail = detail
		return e
	}
	return errors.Wrap(errors.PhaseInterop, errors.KindTypeMismatch, err, detail)
}

// isCallError reports whether err describes a malformed call rather than a
// failure of the function itself.
func isCallError(err error) bool {
	e, ok := errors.As(err)
	if !ok || e.Phase != errors.PhaseInterop {
		return false
	}
	switch e.Kind {
	case errors.KindArityMismatch, errors.KindTypeMismatch, errors.KindMissingFunction:
		return true
	default:
		return false
	}
}
