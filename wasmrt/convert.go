package wasmrt

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/value"
)

// valueType maps a numeric type descriptor to its core wasm type.
// Integers of every width travel as i64 and bools as i32.
func valueType(t wit.Type) (api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool:
		return api.ValueTypeI32, true
	case wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.U64, wit.S64:
		return api.ValueTypeI64, true
	case wit.F32, wit.F64:
		return api.ValueTypeF64, true
	default:
		return 0, false
	}
}

// signature returns the core wasm signature of a registered function, or
// false when it takes or returns anything but numbers.
func signature(info function.Info) (params, results []api.ValueType, ok bool) {
	if info.Arity < 0 || info.Variadic {
		return nil, nil, false
	}
	for _, t := range info.ArgTypes {
		vt, ok := valueType(t)
		if !ok {
			return nil, nil, false
		}
		params = append(params, vt)
	}
	if info.Return != nil {
		vt, ok := valueType(info.Return)
		if !ok {
			return nil, nil, false
		}
		results = append(results, vt)
	}
	return params, results, true
}

// lower encodes v as a stack slot of type t.
func lower(v value.Value, t api.ValueType, at string) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		switch v.Kind() {
		case value.KindBool:
			if v.Bool() {
				return 1, nil
			}
			return 0, nil
		case value.KindInteger:
			return api.EncodeI32(int32(v.Int())), nil
		}
	case api.ValueTypeI64:
		switch v.Kind() {
		case value.KindInteger:
			return api.EncodeI64(v.Int()), nil
		case value.KindBool:
			if v.Bool() {
				return 1, nil
			}
			return 0, nil
		case value.KindUnit:
			return 0, nil
		}
	case api.ValueTypeF32:
		switch v.Kind() {
		case value.KindFloat:
			return api.EncodeF32(float32(v.Float())), nil
		case value.KindInteger:
			return api.EncodeF32(float32(v.Int())), nil
		}
	case api.ValueTypeF64:
		switch v.Kind() {
		case value.KindFloat:
			return api.EncodeF64(v.Float()), nil
		case value.KindInteger:
			return api.EncodeF64(float64(v.Int())), nil
		}
	}
	return 0, errors.New(errors.PhaseInterop, errors.KindTypeMismatch).
		Expected(api.ValueTypeName(t)).
		Received(v.Kind().String()).
		Detail("%s", at).
		Build()
}

// lift decodes a stack slot of type t.
func lift(raw uint64, t api.ValueType) value.Value {
	switch t {
	case api.ValueTypeI32:
		return value.Integer(int64(api.DecodeI32(raw)))
	case api.ValueTypeF32:
		return value.Float(float64(api.DecodeF32(raw)))
	case api.ValueTypeF64:
		return value.Float(api.DecodeF64(raw))
	default:
		return value.Integer(int64(raw))
	}
}

// liftParam decodes a host function argument declared as t.
func liftParam(raw uint64, t wit.Type) value.Value {
	switch t.(type) {
	case wit.Bool:
		return value.Bool(api.DecodeI32(raw) != 0)
	case wit.F32, wit.F64:
		return value.Float(api.DecodeF64(raw))
	default:
		return value.Integer(int64(raw))
	}
}

func lowerAll(args []value.Value, types []api.ValueType, fn string) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, errors.ArityMismatch(fn, fmt.Sprintf("%d", len(types)), fmt.Sprintf("%d", len(args)))
	}
	stack := make([]uint64, len(args))
	for i, arg := range args {
		raw, err := lower(arg, types[i], fmt.Sprintf("argument %d of %s", i+1, fn))
		if err != nil {
			return nil, err
		}
		stack[i] = raw
	}
	return stack, nil
}
