package wasmrt

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/value"
)

// HostModule is the import module of global functions. Methods of a type
// namespace are imported from HostModule + ":" + the type name.
const HostModule = "script"

// ModuleName returns the import module name for ns.
func ModuleName(ns function.Namespace) string {
	if ns.IsGlobal() {
		return HostModule
	}
	return HostModule + ":" + ns.String()
}

// Install instantiates one host module per namespace exposing every
// registered function whose arguments and result are numbers. It runs once,
// before the first script is loaded; functions registered later are not
// visible to scripts.
func (r *Runtime) Install(ctx context.Context) error {
	r.installMu.Lock()
	defer r.installMu.Unlock()
	if r.installed {
		return nil
	}

	type export struct {
		info    function.Info
		params  []api.ValueType
		results []api.ValueType
	}
	modules := make(map[string][]export)
	var order []string
	for _, info := range r.registry.List() {
		params, results, ok := signature(info)
		if !ok {
			Logger().Debug("function not exposed to wasm",
				zap.String("function", info.Signature()))
			continue
		}
		name := ModuleName(info.Namespace)
		if _, seen := modules[name]; !seen {
			order = append(order, name)
		}
		modules[name] = append(modules[name], export{info: info, params: params, results: results})
	}

	for _, name := range order {
		builder := r.runtime.NewHostModuleBuilder(name)
		for _, e := range modules[name] {
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(r.hostFunc(e.info), e.params, e.results).
				WithName(e.info.Name).
				Export(e.info.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "instantiate host module "+name)
		}
		Logger().Debug("host module installed",
			zap.String("module", name),
			zap.Int("functions", len(modules[name])))
	}

	r.installed = true
	return nil
}

// hostFunc adapts a registered function to the wasm calling convention.
// The CallContext travels in the call's context; an Error result traps.
func (r *Runtime) hostFunc(info function.Info) api.GoModuleFunc {
	ns, name := info.Namespace, info.Name
	argTypes := info.ArgTypes
	var result api.ValueType
	hasResult := info.Return != nil
	if hasResult {
		result, _ = valueType(info.Return)
	}

	return func(ctx context.Context, _ api.Module, stack []uint64) {
		cc, ok := function.FromContext(ctx)
		if !ok {
			panic(errors.InvalidState(errors.PhaseHost, "host function "+name+" called without a call context"))
		}

		args := make([]value.Value, len(argTypes))
		for i, t := range argTypes {
			args[i] = liftParam(stack[i], t)
		}

		out := r.registry.Invoke(cc, ns, name, args...)
		if out.IsError() {
			panic(out.Err())
		}
		if !hasResult {
			return
		}
		raw, err := lower(out, result, "result of "+name)
		if err != nil {
			panic(err)
		}
		stack[0] = raw
	}
}
