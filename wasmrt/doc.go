// Package wasmrt runs WebAssembly scripts on wazero as a lifecycle runtime.
//
// Scripts are core wasm modules. They import host functions from the
// "script" module (global functions) or "script:<Type>" (methods of a type
// namespace), and export callbacks such as on_script_loaded. Only functions
// whose arguments and result are numbers can cross the boundary: integers
// travel as i64, floats as f64 and bools as i32.
//
//	rt := wasmrt.New(ctx, reg, nil)
//	defer rt.Close(ctx)
//
//	mgr := lifecycle.NewManager(w, reg, src, lifecycle.WithRuntime(rt))
//
// An Error returned by a host function traps the calling script; the trap
// surfaces from Call as a script runtime error.
package wasmrt
