package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhasePath      Phase = "path"      // reference path resolution
	PhaseAccess    Phase = "access"    // access guard claims
	PhaseInterop   Phase = "interop"   // value conversion and dispatch
	PhaseScript    Phase = "script"    // compile/runtime errors from a script runtime
	PhaseLifecycle Phase = "lifecycle" // context lifecycle transitions
	PhaseHost      Phase = "host"      // host function registration
	PhaseLoad      Phase = "load"      // asset loading
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindFieldMissing    Kind = "field_missing"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindKeyMissing      Kind = "key_missing"
	KindWrongContainer  Kind = "wrong_container"
	KindNilPointer      Kind = "nil_pointer"
	KindStaleRoot       Kind = "stale_root"
	KindConflict        Kind = "conflict"
	KindTypeMismatch    Kind = "type_mismatch"
	KindArityMismatch   Kind = "arity_mismatch"
	KindMissingFunction Kind = "missing_function"
	KindUnsupported     Kind = "unsupported"
	KindOverflow        Kind = "overflow"
	KindExternal        Kind = "external"
	KindCompile         Kind = "compile"
	KindRuntime         Kind = "runtime"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidState    Kind = "invalid_state"
	KindRegistration    Kind = "registration"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string
	Received string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, ""))
	}

	if e.Expected != "" || e.Received != "" {
		b.WriteString(": ")
		if e.Expected != "" && e.Received != "" {
			b.WriteString("expected ")
			b.WriteString(e.Expected)
			b.WriteString(", received ")
			b.WriteString(e.Received)
		} else if e.Expected != "" {
			b.WriteString("expected ")
			b.WriteString(e.Expected)
		} else {
			b.WriteString("received ")
			b.WriteString(e.Received)
		}
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Received != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Kind matches every error of its Phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Kind == "" {
			return e.Phase == t.Phase
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the element path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Expected sets the expected shape
func (b *Builder) Expected(s string) *Builder {
	b.err.Expected = s
	return b
}

// Received sets the received shape
func (b *Builder) Received(s string) *Builder {
	b.err.Received = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is matching by phase and kind.
var (
	ErrPath            = &Error{Phase: PhasePath}
	ErrFieldMissing    = &Error{Phase: PhasePath, Kind: KindFieldMissing}
	ErrOutOfBounds     = &Error{Phase: PhasePath, Kind: KindOutOfBounds}
	ErrKeyMissing      = &Error{Phase: PhasePath, Kind: KindKeyMissing}
	ErrWrongContainer  = &Error{Phase: PhasePath, Kind: KindWrongContainer}
	ErrStaleRoot       = &Error{Phase: PhasePath, Kind: KindStaleRoot}
	ErrTypeMismatch    = &Error{Phase: PhaseInterop, Kind: KindTypeMismatch}
	ErrArityMismatch   = &Error{Phase: PhaseInterop, Kind: KindArityMismatch}
	ErrMissingFunction = &Error{Phase: PhaseInterop, Kind: KindMissingFunction}
	ErrExternal        = &Error{Phase: PhaseInterop, Kind: KindExternal}
)

// Convenience constructors for common error patterns

// FieldMissing creates a missing struct field error
func FieldMissing(path []string, typeName, field string) *Error {
	return &Error{
		Phase:  PhasePath,
		Kind:   KindFieldMissing,
		Path:   path,
		Detail: fmt.Sprintf("type %s has no field %q", typeName, field),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(path []string, index, length int) *Error {
	return &Error{
		Phase:  PhasePath,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// KeyMissing creates a missing map key error
func KeyMissing(path []string, key any) *Error {
	return &Error{
		Phase:  PhasePath,
		Kind:   KindKeyMissing,
		Path:   path,
		Detail: fmt.Sprintf("key %v not present", key),
		Value:  key,
	}
}

// WrongContainer creates an error for an element applied to the wrong kind of value
func WrongContainer(path []string, element, typeName string) *Error {
	return &Error{
		Phase:    PhasePath,
		Kind:     KindWrongContainer,
		Path:     path,
		Expected: element,
		Received: typeName,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(path []string, typeName string) *Error {
	return &Error{
		Phase:    PhasePath,
		Kind:     KindNilPointer,
		Path:     path,
		Received: typeName,
		Detail:   "nil pointer",
	}
}

// StaleRoot creates an error for a reference whose root no longer exists
func StaleRoot(root string) *Error {
	return &Error{
		Phase:  PhasePath,
		Kind:   KindStaleRoot,
		Detail: fmt.Sprintf("root %s is no longer live", root),
	}
}

// TypeMismatch creates a conversion error carrying expected and received shapes
func TypeMismatch(path []string, expected, received string) *Error {
	return &Error{
		Phase:    PhaseInterop,
		Kind:     KindTypeMismatch,
		Path:     path,
		Expected: expected,
		Received: received,
	}
}

// ArityMismatch creates an argument count error
func ArityMismatch(function string, expected, received string) *Error {
	return &Error{
		Phase:    PhaseInterop,
		Kind:     KindArityMismatch,
		Expected: expected,
		Received: received,
		Detail:   fmt.Sprintf("calling %s", function),
	}
}

// MissingFunction creates an unknown function error
func MissingFunction(namespace, name string) *Error {
	return &Error{
		Phase:  PhaseInterop,
		Kind:   KindMissingFunction,
		Detail: fmt.Sprintf("no function %q in namespace %s", name, namespace),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Overflow creates an overflow error
func Overflow(path []string, value any, target string) *Error {
	return &Error{
		Phase:    PhaseInterop,
		Kind:     KindOverflow,
		Path:     path,
		Expected: target,
		Detail:   fmt.Sprintf("value %v overflows %s", value, target),
		Value:    value,
	}
}

// External wraps an error returned by a native function
func External(function string, cause error) *Error {
	return &Error{
		Phase:  PhaseInterop,
		Kind:   KindExternal,
		Detail: function,
		Cause:  cause,
	}
}

// Compile creates a script compile error
func Compile(script string, cause error) *Error {
	return &Error{
		Phase:  PhaseScript,
		Kind:   KindCompile,
		Detail: fmt.Sprintf("compile %s", script),
		Cause:  cause,
	}
}

// Runtime creates a script runtime error
func Runtime(script, callback string, cause error) *Error {
	return &Error{
		Phase:  PhaseScript,
		Kind:   KindRuntime,
		Detail: fmt.Sprintf("%s: %s", script, callback),
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidState creates an error for an operation attempted in the wrong lifecycle state
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s.%s", namespace, name),
		Cause:  cause,
	}
}

// Load creates an asset loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
