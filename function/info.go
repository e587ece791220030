package function

import (
	"fmt"
	"reflect"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/value"
)

// Namespace groups functions. The zero Namespace is Global; a type
// namespace gives scripts method syntax on values of that type.
type Namespace struct {
	Type reflect.Type
}

// Global is the namespace of free functions.
var Global = Namespace{}

// OnType returns the namespace for methods of t. Pointer types share the
// namespace of their element type.
func OnType(t reflect.Type) Namespace {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Namespace{Type: t}
}

// NamespaceOf returns the namespace for methods of T.
func NamespaceOf[T any]() Namespace {
	return OnType(reflect.TypeOf((*T)(nil)).Elem())
}

// IsGlobal reports whether n is the global namespace.
func (n Namespace) IsGlobal() bool { return n.Type == nil }

func (n Namespace) String() string {
	if n.Type == nil {
		return "global"
	}
	return n.Type.Name()
}

// Handle returns a script-facing handle for name in n.
func (n Namespace) Handle(name string) value.FunctionHandle {
	return value.FunctionHandle{Type: n.Type, Name: name}
}

// Info describes a registered function. It is immutable once registered.
type Info struct {
	Return    wit.Type
	Namespace Namespace
	Name      string
	Docs      string
	ArgNames  []string
	ArgTypes  []wit.Type
	// Arity is the number of script arguments; -1 accepts any number.
	Arity    int
	Variadic bool
}

// Signature renders the function for diagnostics, e.g.
// "Player.heal(amount: s64) -> s64".
func (i Info) Signature() string {
	var b strings.Builder
	if !i.Namespace.IsGlobal() {
		b.WriteString(i.Namespace.String())
		b.WriteByte('.')
	}
	b.WriteString(i.Name)
	b.WriteByte('(')
	for n, t := range i.ArgTypes {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(i.argName(n))
		b.WriteString(": ")
		b.WriteString(TypeString(t))
	}
	if i.Arity < 0 {
		b.WriteString("...")
	}
	b.WriteByte(')')
	if i.Return != nil {
		b.WriteString(" -> ")
		b.WriteString(TypeString(i.Return))
	}
	return b.String()
}

func (i Info) argName(n int) string {
	if n < len(i.ArgNames) && i.ArgNames[n] != "" {
		return i.ArgNames[n]
	}
	return fmt.Sprintf("arg%d", n)
}

func (i Info) qualified() string {
	if i.Namespace.IsGlobal() {
		return i.Name
	}
	return i.Namespace.String() + "." + i.Name
}

var (
	valueType     = reflect.TypeOf(value.Value{})
	referenceType = reflect.TypeOf(ref.Reference{})
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	contextType   = reflect.TypeOf((*CallContext)(nil))
)

// typeOf describes a Go parameter or result type. Values and references
// have no structural description and are named instead.
func typeOf(t reflect.Type) wit.Type {
	switch t {
	case valueType:
		return named("any")
	case referenceType:
		return named("reference")
	}
	switch t.Kind() {
	case reflect.Bool:
		return wit.Bool{}
	case reflect.Int8:
		return wit.S8{}
	case reflect.Int16:
		return wit.S16{}
	case reflect.Int32:
		return wit.S32{}
	case reflect.Int, reflect.Int64:
		return wit.S64{}
	case reflect.Uint8:
		return wit.U8{}
	case reflect.Uint16:
		return wit.U16{}
	case reflect.Uint32:
		return wit.U32{}
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return wit.U64{}
	case reflect.Float32:
		return wit.F32{}
	case reflect.Float64:
		return wit.F64{}
	case reflect.String:
		return wit.String{}
	case reflect.Slice, reflect.Array:
		return &wit.TypeDef{Kind: &wit.List{Type: typeOf(t.Elem())}}
	case reflect.Pointer:
		return &wit.TypeDef{Kind: &wit.Option{Type: typeOf(t.Elem())}}
	default:
		return named(t.String())
	}
}

func named(name string) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: wit.String{}}
}

// TypeString renders a type descriptor the way signatures show it.
func TypeString(t wit.Type) string {
	switch v := t.(type) {
	case nil:
		return "()"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		switch k := v.Kind.(type) {
		case *wit.List:
			return "list<" + TypeString(k.Type) + ">"
		case *wit.Option:
			return "option<" + TypeString(k.Type) + ">"
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// IsNumeric reports whether t is an integer, float or bool descriptor.
func IsNumeric(t wit.Type) bool {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.U64, wit.S64, wit.F32, wit.F64:
		return true
	default:
		return false
	}
}
