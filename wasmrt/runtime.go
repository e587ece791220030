package wasmrt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/asset"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/value"
)

// Config holds configuration for runtime creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Runtime runs WebAssembly scripts on wazero. Every loaded script is one
// module instance; a scope groups the instances of one context.
type Runtime struct {
	runtime    wazero.Runtime
	registry   *function.Registry
	generation atomic.Uint64
	installMu  sync.Mutex
	installed  bool
}

// New creates a runtime whose scripts import functions from reg.
func New(ctx context.Context, reg *function.Registry, cfg *Config) *Runtime {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Runtime{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		registry: reg,
	}
}

// Close releases every module and host module.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

func (r *Runtime) Language() string { return asset.LanguageWasm }

// Compile validates and compiles a module.
func (r *Runtime) Compile(ctx context.Context, script string, src []byte) (any, error) {
	compiled, err := r.runtime.CompileModule(ctx, src)
	if err != nil {
		return nil, errors.Compile(script, err)
	}
	return compiled, nil
}

type scope struct {
	instances map[string]api.Module
	mu        sync.Mutex
}

func (r *Runtime) NewScope(context.Context, *function.CallContext) (any, error) {
	return &scope{instances: make(map[string]api.Module)}, nil
}

func scopeOf(s any) (*scope, error) {
	sc, ok := s.(*scope)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseScript, fmt.Sprintf("scope of type %T does not belong to the wasm runtime", s))
	}
	return sc, nil
}

// Load instantiates program under a fresh module name and only then
// replaces the previous instance of script, so a failed instantiation
// leaves the previous version running.
func (r *Runtime) Load(ctx context.Context, cc *function.CallContext, s any, script string, program any) error {
	sc, err := scopeOf(s)
	if err != nil {
		return err
	}
	compiled, ok := program.(wazero.CompiledModule)
	if !ok {
		return errors.InvalidInput(errors.PhaseScript, fmt.Sprintf("program of type %T is not a compiled module", program))
	}
	if err := r.Install(ctx); err != nil {
		return err
	}

	name := fmt.Sprintf("%s#%d", script, r.generation.Add(1))
	mod, err := r.runtime.InstantiateModule(function.WithCallContext(ctx, cc), compiled,
		wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return errors.Runtime(script, "instantiate", err)
	}

	sc.mu.Lock()
	old := sc.instances[script]
	sc.instances[script] = mod
	sc.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			Logger().Warn("close replaced instance", zap.String("module", old.Name()), zap.Error(err))
		}
	}
	Logger().Debug("script instantiated", zap.String("script", script), zap.String("module", name))
	return nil
}

func (r *Runtime) Unload(ctx context.Context, s any, script string) error {
	sc, err := scopeOf(s)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	mod := sc.instances[script]
	delete(sc.instances, script)
	sc.mu.Unlock()
	if mod == nil {
		return nil
	}
	return mod.Close(ctx)
}

// Call invokes an exported function. Arguments are lowered to the
// export's parameter types; an export the module does not have yields
// Unit. Several results come back as a List.
func (r *Runtime) Call(ctx context.Context, cc *function.CallContext, s any, script, callback string, args []value.Value) (value.Value, error) {
	sc, err := scopeOf(s)
	if err != nil {
		return value.Value{}, err
	}
	sc.mu.Lock()
	mod := sc.instances[script]
	sc.mu.Unlock()
	if mod == nil {
		return value.Value{}, errors.NotFound(errors.PhaseScript, "script", script)
	}

	fn := mod.ExportedFunction(callback)
	if fn == nil {
		return value.Unit(), nil
	}
	def := fn.Definition()
	stack, err := lowerAll(args, def.ParamTypes(), script+"."+callback)
	if err != nil {
		return value.Value{}, err
	}

	results, err := fn.Call(function.WithCallContext(ctx, cc), stack...)
	if err != nil {
		return value.Value{}, errors.Runtime(script, callback, err)
	}

	types := def.ResultTypes()
	switch len(results) {
	case 0:
		return value.Unit(), nil
	case 1:
		return lift(results[0], types[0]), nil
	default:
		items := make([]value.Value, len(results))
		for i, raw := range results {
			items[i] = lift(raw, types[i])
		}
		return value.ListOf(items), nil
	}
}

func (r *Runtime) CloseScope(ctx context.Context, s any) error {
	sc, err := scopeOf(s)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	mods := sc.instances
	sc.instances = make(map[string]api.Module)
	sc.mu.Unlock()

	var first error
	for _, mod := range mods {
		if err := mod.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Exports lists the functions a loaded script exports.
func (r *Runtime) Exports(s any, script string) ([]string, error) {
	sc, err := scopeOf(s)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	mod := sc.instances[script]
	sc.mu.Unlock()
	if mod == nil {
		return nil, errors.NotFound(errors.PhaseScript, "script", script)
	}
	var out []string
	for name := range mod.ExportedFunctionDefinitions() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
