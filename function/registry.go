package function

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/value"
)

// Outcome classifies a completed call for observers.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"      // returned a value
	OutcomeError   Outcome = "error"   // returned an Error value
	OutcomeInterop Outcome = "interop" // arity, type or lookup failure
	OutcomePanic   Outcome = "panic"   // recovered panic
)

// Observer is notified of calls and shadowed registrations.
type Observer interface {
	OnCall(info Info, outcome Outcome)
	OnShadow(info Info)
}

type entry struct {
	fn   *native
	info Info
}

type key struct {
	ns   Namespace
	name string
}

// Registry is a namespaced table of native functions callable from
// scripts. Registering the same namespace and name again replaces the
// earlier function and logs a warning.
type Registry struct {
	funcs    map[key]*entry
	observer Observer
	mu       sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver installs a call observer.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{funcs: make(map[key]*entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option adjusts the Info of a function at registration.
type Option func(*Info)

// Doc sets the documentation string.
func Doc(docs string) Option {
	return func(i *Info) { i.Docs = docs }
}

// Args names the script-facing arguments in order.
func Args(names ...string) Option {
	return func(i *Info) { i.ArgNames = names }
}

// Register stores fn under (ns, name). fn is either a Dynamic or a Go
// function whose optional first parameter is *CallContext and whose results
// are at most one value followed by an optional error.
func (r *Registry) Register(ns Namespace, name string, fn any, opts ...Option) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	n, err := newNative(fn)
	if err != nil {
		return errors.Registration(ns.String(), name, err)
	}
	info := n.info(ns, name)
	for _, opt := range opts {
		opt(&info)
	}

	r.mu.Lock()
	k := key{ns: ns, name: name}
	_, shadowed := r.funcs[k]
	r.funcs[k] = &entry{fn: n, info: info}
	r.mu.Unlock()

	if shadowed {
		Logger().Warn("function registration shadows an earlier one",
			zap.String("namespace", ns.String()),
			zap.String("name", name))
		if r.observer != nil {
			r.observer.OnShadow(info)
		}
	}
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(ns Namespace, name string, fn any, opts ...Option) {
	if err := r.Register(ns, name, fn, opts...); err != nil {
		panic(err)
	}
}

// Lookup returns the Info of a registered function.
func (r *Registry) Lookup(ns Namespace, name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.funcs[key{ns: ns, name: name}]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns every registered function, ordered by namespace then name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.funcs))
	for _, e := range r.funcs {
		out = append(out, e.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Namespace.IsGlobal() != b.Namespace.IsGlobal() {
			return a.Namespace.IsGlobal()
		}
		if as, bs := a.Namespace.String(), b.Namespace.String(); as != bs {
			return as < bs
		}
		return a.Name < b.Name
	})
	return out
}

// Call runs a registered function. Arguments convert positionally to the
// function's parameter types. A missing function, an arity mismatch or an
// argument that cannot convert is returned as an error carrying the
// expected and received shapes, as is a panic in the function. An error
// returned by the function is not an error here: it comes back as an Error
// value so scripts can handle it.
func (r *Registry) Call(cc *CallContext, ns Namespace, name string, args ...value.Value) (out value.Value, err error) {
	r.mu.RLock()
	e, ok := r.funcs[key{ns: ns, name: name}]
	r.mu.RUnlock()
	if !ok {
		return value.Value{}, errors.MissingFunction(ns.String(), name)
	}

	qualified := e.info.qualified()
	defer func() {
		if p := recover(); p != nil {
			Logger().Error("native function panicked",
				zap.String("function", qualified),
				zap.Any("panic", p))
			out = value.Value{}
			err = errors.New(errors.PhaseInterop, errors.KindExternal).
				Detail("%s panicked: %v", qualified, p).
				Build()
			r.observe(e.info, OutcomePanic)
		}
	}()

	out, err = e.fn.call(cc, qualified, args)
	switch {
	case err != nil:
		r.observe(e.info, OutcomeInterop)
	case out.IsError():
		r.observe(e.info, OutcomeError)
	default:
		r.observe(e.info, OutcomeOK)
	}
	return out, err
}

// Invoke is Call for script runtimes: every failure, including a missing
// function, becomes an Error value.
func (r *Registry) Invoke(cc *CallContext, ns Namespace, name string, args ...value.Value) value.Value {
	out, err := r.Call(cc, ns, name, args...)
	if err != nil {
		return value.Error(err)
	}
	return out
}

// Resolve finds the function a method call on receiver dispatches to: the
// receiver type's namespace first, then Global.
func (r *Registry) Resolve(cc *CallContext, receiver value.Value, name string) (Namespace, bool) {
	if rr, ok := receiver.Ref(); ok {
		if t, err := rr.Type(cc); err == nil {
			ns := OnType(t)
			if _, ok := r.Lookup(ns, name); ok {
				return ns, true
			}
		}
	}
	if _, ok := r.Lookup(Global, name); ok {
		return Global, true
	}
	return Namespace{}, false
}

// CallMethod calls name with receiver as the first argument, dispatching
// per Resolve.
func (r *Registry) CallMethod(cc *CallContext, receiver value.Value, name string, args ...value.Value) (value.Value, error) {
	ns, ok := r.Resolve(cc, receiver, name)
	if !ok {
		target := Global
		if rr, ok := receiver.Ref(); ok {
			if t, err := rr.Type(cc); err == nil {
				target = OnType(t)
			}
		}
		return value.Value{}, errors.MissingFunction(target.String(), name)
	}
	return r.Call(cc, ns, name, append([]value.Value{receiver}, args...)...)
}

// Get indexes receiver by key, honoring a "get" override registered on the
// receiver's type.
func (r *Registry) Get(cc *CallContext, receiver ref.Reference, k value.Value) (value.Value, error) {
	return r.CallMethod(cc, value.Reference(receiver), "get", k)
}

// Set assigns through receiver at key, honoring a "set" override registered
// on the receiver's type.
func (r *Registry) Set(cc *CallContext, receiver ref.Reference, k, v value.Value) (value.Value, error) {
	return r.CallMethod(cc, value.Reference(receiver), "set", k, v)
}

func (r *Registry) observe(info Info, outcome Outcome) {
	if r.observer != nil {
		r.observer.OnCall(info, outcome)
	}
}

// Host is a struct whose exported methods are registered together. Method
// names are converted to snake_case; a method named Namespace is skipped.
type Host interface {
	Namespace() Namespace
}

// RegisterHost registers every exported method of h in h.Namespace().
func (r *Registry) RegisterHost(h Host) error {
	ns := h.Namespace()
	rv := reflect.ValueOf(h)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := r.Register(ns, toSnakeCase(method.Name), rv.Method(i).Interface()); err != nil {
			return fmt.Errorf("register host %s: %w", rt, err)
		}
	}
	return nil
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: GetHTTPCode -> get_http_code
func toSnakeCase(s string) string {
	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if !unicode.IsUpper(c) {
			result.WriteRune(c)
			continue
		}

		end := i + 1
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// last uppercase before lowercase starts the next word
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}

		if i > 0 {
			result.WriteByte('_')
		}
		for j := i; j < end; j++ {
			result.WriteRune(unicode.ToLower(runes[j]))
		}
		i = end - 1
	}
	return result.String()
}
