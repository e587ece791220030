// Package function implements the registry of native functions that
// scripts call.
//
// Functions live in namespaces: Global for free functions, or a host type's
// namespace for methods. Plain Go functions are registered directly; their
// arguments convert from script values positionally and their result
// converts back:
//
//	reg := function.NewRegistry()
//	reg.Register(function.Global, "add", func(a, b int64) int64 { return a + b })
//
//	cc := function.NewCallContext(ctx, w, reg)
//	sum, err := reg.Call(cc, function.Global, "add", value.Integer(2), value.Integer(3))
//
// A function may take a *CallContext first to reach the world and claim
// access. Errors it returns reach the script as Error values; only a
// malformed call (unknown function, wrong arity, unconvertible argument)
// fails Call itself. Invoke folds those into Error values as well, which is
// what script runtimes use.
//
// Structured results live in the world's arena as references. The
// CallContext that produced them records each slot; Release frees them,
// and a lifecycle context releases its own when it is removed.
package function
