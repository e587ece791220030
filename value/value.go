package value

import (
	"reflect"

	"github.com/wippyai/scriptbridge/ref"
)

// Kind is the tag of a Value. The set is closed: every conversion handles
// every kind.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindList
	KindMap
	KindReference
	KindFunction
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindReference:
		return "reference"
	case KindFunction:
		return "function"
	case KindError:
		return "error"
	default:
		return "invalid"
	}
}

// Value is the universal value exchanged between the host and scripts.
// The zero Value is Unit.
type Value struct {
	data any
	kind Kind
}

// FunctionHandle names a registered function. Type is nil for the global
// namespace.
type FunctionHandle struct {
	Type reflect.Type
	Name string
}

func (h FunctionHandle) String() string {
	if h.Type == nil {
		return h.Name
	}
	return h.Type.Name() + "." + h.Name
}

func Unit() Value                      { return Value{} }
func Bool(b bool) Value                { return Value{kind: KindBool, data: b} }
func Integer(i int64) Value            { return Value{kind: KindInteger, data: i} }
func Float(f float64) Value            { return Value{kind: KindFloat, data: f} }
func String(s string) Value            { return Value{kind: KindString, data: s} }
func List(items ...Value) Value        { return Value{kind: KindList, data: items} }
func ListOf(items []Value) Value       { return Value{kind: KindList, data: items} }
func Map(m map[string]Value) Value     { return Value{kind: KindMap, data: m} }
func Reference(r ref.Reference) Value  { return Value{kind: KindReference, data: r} }
func Function(h FunctionHandle) Value  { return Value{kind: KindFunction, data: h} }
func Error(err error) Value            { return Value{kind: KindError, data: err} }
func GlobalFunction(name string) Value { return Function(FunctionHandle{Name: name}) }
func ErrorText(msg string) Value       { return Error(textError(msg)) }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsUnit() bool  { return v.kind == KindUnit }
func (v Value) IsError() bool { return v.kind == KindError }

type textError string

func (e textError) Error() string { return string(e) }

// Bool returns the payload of a Bool value, false otherwise.
func (v Value) Bool() bool {
	if v.kind == KindBool {
		return v.data.(bool)
	}
	return false
}

// Int returns the payload of an Integer value, truncating a Float.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInteger:
		return v.data.(int64)
	case KindFloat:
		return int64(v.data.(float64))
	default:
		return 0
	}
}

// Float returns the payload of a Float value, widening an Integer.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.data.(float64)
	case KindInteger:
		return float64(v.data.(int64))
	default:
		return 0
	}
}

// Str returns the payload of a String value.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.data.(string)
	}
	return ""
}

// Items returns the elements of a List value. The slice is shared.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.data.([]Value)
}

// Entries returns the entries of a Map value. The map is shared.
func (v Value) Entries() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return v.data.(map[string]Value)
}

// Ref returns the reference held by a Reference value.
func (v Value) Ref() (ref.Reference, bool) {
	if v.kind != KindReference {
		return ref.Reference{}, false
	}
	return v.data.(ref.Reference), true
}

// Func returns the handle held by a Function value.
func (v Value) Func() (FunctionHandle, bool) {
	if v.kind != KindFunction {
		return FunctionHandle{}, false
	}
	return v.data.(FunctionHandle), true
}

// Err returns the error held by an Error value.
func (v Value) Err() error {
	if v.kind != KindError {
		return nil
	}
	err, _ := v.data.(error)
	return err
}

// Interface returns the natural Go representation: nil, bool, int64,
// float64, string, []any, map[string]any, ref.Reference, FunctionHandle or
// error.
func (v Value) Interface() any {
	switch v.kind {
	case KindList:
		items := v.Items()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Entries()))
		for k, item := range v.Entries() {
			out[k] = item.Interface()
		}
		return out
	default:
		return v.data
	}
}

func (v Value) String() string { return Display(v) }
