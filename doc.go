// Package scriptbridge connects scripts to a host application's entity world.
//
// Scripts see host data through reflective references: a root (a component
// of an entity, a resource, or a script-allocated value) plus a path of
// fields, indices and keys. Every read and write goes through an access
// guard so that two executions never mutate the same root at once. Host
// functions are registered by namespace and called with dynamically typed
// values; per-attachment state machines load, reload and unload scripts in
// contexts chosen by a pluggable assigner.
//
// # Architecture Overview
//
//	scriptbridge/
//	├── errors/      Structured Phase/Kind errors for debugging
//	├── access/      Access guard: per-root read/write claims and the world claim
//	├── world/       In-memory entities, components, resources and the value arena
//	├── ref/         Paths and reflective references into world data
//	├── value/       Dynamically typed script values and Go conversion
//	├── function/    Function registry, call context, core and world bindings
//	├── lifecycle/   Attachment state machines, context assigners, batches
//	├── asset/       Script sources: files with hot reload, in-memory
//	├── wasmrt/      WebAssembly scripts on wazero
//	├── config/      YAML configuration, validation and JSON schema
//	├── metrics/     Prometheus collectors
//	└── cmd/scriptrun  Host binary with an interactive function caller
//
// # Quick Start
//
//	w := world.New()
//	reg := function.NewRegistry()
//	_ = function.RegisterCore(reg)
//	_ = function.RegisterWorld(reg)
//
//	rt := wasmrt.New(ctx, reg, nil)
//	defer rt.Close(ctx)
//
//	src, _ := asset.NewFileSource("scripts")
//	mgr := lifecycle.NewManager(w, reg, src, lifecycle.WithRuntime(rt))
//	door, _ := w.Spawn(Door{})
//	mgr.Attach(lifecycle.Attachment{Script: "door.wasm", Entity: door})
//	if _, err := mgr.Tick(ctx); err != nil {
//		return err
//	}
//
// # Logging
//
// Each package logs through zap and is silent until SetLogger is called.
package scriptbridge
