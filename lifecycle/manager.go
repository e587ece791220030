package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/asset"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/value"
	"github.com/wippyai/scriptbridge/world"
)

type inputKind uint8

const (
	inputAttach inputKind = iota
	inputDetach
	inputReload
)

type input struct {
	attachment Attachment
	script     string
	kind       inputKind
}

type machine struct {
	attachment Attachment
	context    ContextID
	state      State
}

// batch carries state between the machines processed in one Tick.
type batch struct {
	// values returned by on_script_unloaded, handed to on_script_reloaded
	carried map[Attachment]value.Value
}

// Manager drives the lifecycle of script attachments. Attach, Detach and
// Reload queue inputs from any goroutine; Tick applies them in order as
// one batch while holding the whole-world claim. Tick, Call and Broadcast
// are meant to be driven from the host loop, one at a time.
type Manager struct {
	world     *world.World
	registry  *function.Registry
	source    asset.Source
	assigner  Assigner
	runtimes  map[string]Runtime
	machines  map[Attachment]*machine
	contexts  map[ContextID]*Context
	runtimeOf map[ContextID]Runtime
	byKey     map[ContextKey]ContextID

	initializers []ContextInitializer
	preHandlers  []PreHandlingInitializer
	listeners    []Listener
	order        []Attachment
	queue        []input
	errs         []ErrorEvent

	nextID    ContextID
	exec      access.ExecutionID
	indexBase int

	mu  sync.Mutex
	qmu sync.Mutex
	emu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithAssigner sets the context assignment policy. The default is
// PerAttachmentAssigner.
func WithAssigner(a Assigner) Option {
	return func(m *Manager) { m.assigner = a }
}

// WithRuntime registers a runtime for its language.
func WithRuntime(rt Runtime) Option {
	return func(m *Manager) { m.runtimes[rt.Language()] = rt }
}

// WithListener adds a transition and error listener.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// WithContextInitializer adds an initializer run on every new context.
func WithContextInitializer(fn ContextInitializer) Option {
	return func(m *Manager) { m.initializers = append(m.initializers, fn) }
}

// WithPreHandlingInitializer adds an initializer run before every callback.
func WithPreHandlingInitializer(fn PreHandlingInitializer) Option {
	return func(m *Manager) { m.preHandlers = append(m.preHandlers, fn) }
}

// WithIndexBase sets the index base scripts see, 0 or 1.
func WithIndexBase(base int) Option {
	return func(m *Manager) { m.indexBase = base }
}

// WithExecution sets the holder identity used for batch claims.
func WithExecution(id access.ExecutionID) Option {
	return func(m *Manager) { m.exec = id }
}

// NewManager creates a manager loading scripts from src into w.
func NewManager(w *world.World, reg *function.Registry, src asset.Source, opts ...Option) *Manager {
	m := &Manager{
		world:     w,
		registry:  reg,
		source:    src,
		assigner:  PerAttachmentAssigner{},
		runtimes:  make(map[string]Runtime),
		machines:  make(map[Attachment]*machine),
		contexts:  make(map[ContextID]*Context),
		runtimeOf: make(map[ContextID]Runtime),
		byKey:     make(map[ContextKey]ContextID),
		exec:      access.NewExecutionID(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach queues loading a script for an attachment.
func (m *Manager) Attach(a Attachment) { m.enqueue(input{kind: inputAttach, attachment: a}) }

// Detach queues unloading an attachment.
func (m *Manager) Detach(a Attachment) { m.enqueue(input{kind: inputDetach, attachment: a}) }

// Reload queues reloading every attachment of script.
func (m *Manager) Reload(script string) { m.enqueue(input{kind: inputReload, script: script}) }

func (m *Manager) enqueue(in input) {
	m.qmu.Lock()
	m.queue = append(m.queue, in)
	m.qmu.Unlock()
}

// Pending returns the number of queued inputs.
func (m *Manager) Pending() int {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return len(m.queue)
}

// Follow queues a reload for every change reported by w until ctx is
// done.
func (m *Manager) Follow(ctx context.Context, w asset.Watcher) {
	for {
		select {
		case id := <-w.Changes():
			Logger().Debug("script change queued", zap.String("script", id))
			m.Reload(id)
		case <-ctx.Done():
			return
		}
	}
}

// Tick applies every queued input as one batch. The whole-world claim is
// held for the duration; if it cannot be taken the inputs stay queued and
// the conflict is returned. A failing machine does not stop the batch: its
// failure is reported through Errors and the listeners.
func (m *Manager) Tick(ctx context.Context) (int, error) {
	m.qmu.Lock()
	inputs := m.queue
	m.queue = nil
	m.qmu.Unlock()
	if len(inputs) == 0 {
		return 0, nil
	}

	permit, err := m.world.Guard().ClaimGlobal(m.exec)
	if err != nil {
		m.qmu.Lock()
		m.queue = append(inputs, m.queue...)
		m.qmu.Unlock()
		return 0, err
	}
	defer permit.Release()

	m.mu.Lock()
	defer m.mu.Unlock()

	cc := function.NewCallContext(ctx, m.world, m.registry,
		function.WithExecution(m.exec),
		function.WithIndexBase(m.indexBase))
	b := &batch{carried: make(map[Attachment]value.Value)}

	for _, in := range inputs {
		switch in.kind {
		case inputAttach:
			m.load(ctx, cc, b, in.attachment)
		case inputDetach:
			m.unload(ctx, cc, b, in.attachment)
		case inputReload:
			m.reload(ctx, cc, b, in.script)
		}
	}

	Logger().Debug("lifecycle batch applied", zap.Int("inputs", len(inputs)))
	return len(inputs), nil
}

func (m *Manager) load(ctx context.Context, cc *function.CallContext, b *batch, a Attachment) {
	mc, ok := m.machines[a]
	if ok && mc.state != StateUnloaded {
		Logger().Debug("attachment already loaded", zap.Stringer("attachment", a))
		return
	}
	if !ok {
		mc = &machine{attachment: a}
		m.machines[a] = mc
		m.order = append(m.order, a)
	}

	m.transition(mc, StateLoadingInitialized)
	rt, program, err := m.compile(ctx, a.Script)
	if err != nil {
		m.abortLoad(mc, err)
		return
	}

	c, created, err := m.assign(ctx, cc, rt, a)
	if err != nil {
		m.abortLoad(mc, err)
		return
	}
	mc.context = c.ID
	m.transition(mc, StateContextAssigned)

	if !c.Has(a.Script) {
		if err := rt.Load(ctx, cc.Scoped(c.allocs), c.Scope, a.Script, program); err != nil {
			if created {
				m.removeContext(ctx, c)
			}
			mc.context = 0
			m.abortLoad(mc, scriptError(a.Script, "load", err))
			return
		}
	}
	c.addResident(a)
	m.transition(mc, StateLoaded)

	m.hook(ctx, cc, mc, c, HookLoaded)
	if saved, ok := b.carried[a]; ok {
		delete(b.carried, a)
		m.hook(ctx, cc, mc, c, HookReloaded, saved)
	}
}

func (m *Manager) abortLoad(mc *machine, err error) {
	m.fail(mc.attachment, mc.state, "", err)
	m.transition(mc, StateUnloaded)
}

func (m *Manager) unload(ctx context.Context, cc *function.CallContext, b *batch, a Attachment) {
	mc, ok := m.machines[a]
	if !ok {
		Logger().Debug("detach of unknown attachment", zap.Stringer("attachment", a))
		return
	}
	if mc.state == StateLoaded {
		m.transition(mc, StateUnloadingInitialized)
		c := m.contexts[mc.context]

		// the hook sees the context before it changes
		b.carried[a] = m.hook(ctx, cc, mc, c, HookUnloaded)

		lastOfScript := c.removeResident(a)
		if len(c.residents) == 0 {
			m.transition(mc, StateContextRemoved)
			m.removeContext(ctx, c)
		} else {
			m.transition(mc, StateResidentRemoved)
			if lastOfScript {
				if err := m.runtimeOf[c.ID].Unload(ctx, c.Scope, a.Script); err != nil {
					m.fail(a, mc.state, "", scriptError(a.Script, "unload", err))
				}
			}
		}
		mc.context = 0
		m.transition(mc, StateUnloaded)
	}

	delete(m.machines, a)
	for i, o := range m.order {
		if o == a {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) reload(ctx context.Context, cc *function.CallContext, b *batch, script string) {
	var targets, retry []*machine
	for _, a := range m.order {
		if a.Script != script {
			continue
		}
		switch mc := m.machines[a]; mc.state {
		case StateLoaded:
			targets = append(targets, mc)
		case StateUnloaded:
			retry = append(retry, mc)
		}
	}
	if len(targets) == 0 && len(retry) == 0 {
		Logger().Debug("reload of unattached script", zap.String("script", script))
		return
	}

	if len(targets) > 0 {
		m.replace(ctx, cc, targets, script)
	}
	// attachments left unloaded by an earlier failure get a fresh load
	for _, mc := range retry {
		m.load(ctx, cc, b, mc.attachment)
	}
}

// replace swaps the program of loaded machines. Every unloaded hook runs
// against the old program before any context changes; the program is then
// loaded once per context, and the loaded and reloaded hooks run last. A
// machine whose reload fails returns to Loaded in its previous context.
func (m *Manager) replace(ctx context.Context, cc *function.CallContext, targets []*machine, script string) {
	for _, mc := range targets {
		m.transition(mc, StateReloadingInitialized)
	}

	rt, program, err := m.compile(ctx, script)
	if err != nil {
		for _, mc := range targets {
			m.fail(mc.attachment, mc.state, "", err)
			m.transition(mc, StateLoaded)
		}
		return
	}

	saved := make(map[Attachment]value.Value, len(targets))
	for _, mc := range targets {
		saved[mc.attachment] = m.hook(ctx, cc, mc, m.contexts[mc.context], HookUnloaded)
	}

	var (
		loaded = make(map[ContextID]error)
		done   = make([]*machine, 0, len(targets))
	)
	for _, mc := range targets {
		if m.swap(ctx, cc, mc, rt, program, loaded) {
			done = append(done, mc)
		}
	}

	for _, mc := range done {
		c := m.contexts[mc.context]
		m.hook(ctx, cc, mc, c, HookLoaded)
		m.hook(ctx, cc, mc, c, HookReloaded, saved[mc.attachment])
	}
}

// swap moves mc onto the new program, loading it into the target context
// unless another machine of this reload already did. loaded remembers the
// outcome per context so a failed load is reported, not retried.
func (m *Manager) swap(ctx context.Context, cc *function.CallContext, mc *machine, rt Runtime, program any, loaded map[ContextID]error) bool {
	a := mc.attachment
	old := m.contexts[mc.context]

	c, created, err := m.assign(ctx, cc, rt, a)
	if err != nil {
		m.fail(a, mc.state, "", err)
		m.transition(mc, StateLoaded)
		return false
	}
	m.transition(mc, StateContextAssigned)

	lerr, seen := loaded[c.ID]
	if !seen {
		lerr = rt.Load(ctx, cc.Scoped(c.allocs), c.Scope, a.Script, program)
		if lerr != nil {
			lerr = scriptError(a.Script, "load", lerr)
		}
		loaded[c.ID] = lerr
	}
	if lerr != nil {
		if created {
			m.removeContext(ctx, c)
		}
		m.fail(a, mc.state, "", lerr)
		m.transition(mc, StateLoaded)
		return false
	}

	if c.ID != old.ID {
		lastOfScript := old.removeResident(a)
		if len(old.residents) == 0 {
			m.removeContext(ctx, old)
		} else if lastOfScript {
			if err := m.runtimeOf[old.ID].Unload(ctx, old.Scope, a.Script); err != nil {
				m.fail(a, mc.state, "", scriptError(a.Script, "unload", err))
			}
		}
		c.addResident(a)
		mc.context = c.ID
	}
	m.transition(mc, StateLoaded)
	return true
}

func (m *Manager) compile(ctx context.Context, script string) (Runtime, any, error) {
	src, err := m.source.Load(ctx, script)
	if err != nil {
		return nil, nil, err
	}
	rt, ok := m.runtimes[src.Language]
	if !ok {
		return nil, nil, errors.Unsupported(errors.PhaseLifecycle,
			fmt.Sprintf("no runtime for language %q of %s", src.Language, script))
	}
	program, err := rt.Compile(ctx, script, src.Bytes)
	if err != nil {
		if e, ok := errors.As(err); ok && e.Phase == errors.PhaseScript {
			return nil, nil, err
		}
		return nil, nil, errors.Compile(script, err)
	}
	return rt, program, nil
}

// assign finds or creates the context for a, reporting whether it was
// created.
func (m *Manager) assign(ctx context.Context, cc *function.CallContext, rt Runtime, a Attachment) (*Context, bool, error) {
	key := m.assigner.Assign(a)
	key.Language = rt.Language()
	if id, ok := m.byKey[key]; ok {
		return m.contexts[id], false, nil
	}

	scope, err := rt.NewScope(ctx, cc)
	if err != nil {
		return nil, false, errors.Wrap(errors.PhaseLifecycle, errors.KindExternal, err, "create scope")
	}
	m.nextID++
	c := &Context{
		ID:      m.nextID,
		Key:     key,
		Scope:   scope,
		allocs:  function.NewAllocations(m.world),
		scripts: make(map[string]int),
	}
	for _, init := range m.initializers {
		if err := init(ctx, cc.Scoped(c.allocs), c); err != nil {
			_ = rt.CloseScope(ctx, scope)
			c.allocs.Release()
			return nil, false, errors.Wrap(errors.PhaseLifecycle, errors.KindExternal, err, "initialize context")
		}
	}

	m.contexts[c.ID] = c
	m.runtimeOf[c.ID] = rt
	m.byKey[key] = c.ID
	Logger().Info("context created",
		zap.Uint64("context", uint64(c.ID)),
		zap.String("language", key.Language),
		zap.String("assigner", m.assigner.Name()))
	return c, true, nil
}

func (m *Manager) removeContext(ctx context.Context, c *Context) {
	rt := m.runtimeOf[c.ID]
	delete(m.contexts, c.ID)
	delete(m.runtimeOf, c.ID)
	delete(m.byKey, c.Key)
	if err := rt.CloseScope(ctx, c.Scope); err != nil {
		Logger().Warn("close scope failed", zap.Uint64("context", uint64(c.ID)), zap.Error(err))
	}
	freed := c.allocs.Release()
	Logger().Info("context removed", zap.Uint64("context", uint64(c.ID)), zap.Int("freed", freed))
}

// hook calls a lifecycle hook and returns its result. Failures are
// reported and yield Unit.
func (m *Manager) hook(ctx context.Context, cc *function.CallContext, mc *machine, c *Context, name string, args ...value.Value) value.Value {
	out, err := m.invoke(ctx, cc, mc.attachment, c, name, args)
	if err == nil && out.IsError() {
		err = out.Err()
	}
	if err != nil {
		m.fail(mc.attachment, mc.state, name, err)
		return value.Unit()
	}
	return out
}

func (m *Manager) invoke(ctx context.Context, cc *function.CallContext, a Attachment, c *Context, callback string, args []value.Value) (value.Value, error) {
	cc = cc.Scoped(c.allocs)
	for _, pre := range m.preHandlers {
		if err := pre(ctx, cc, a, c); err != nil {
			return value.Value{}, errors.Wrap(errors.PhaseLifecycle, errors.KindExternal, err, "pre-handling "+callback)
		}
	}
	out, err := m.runtimeOf[c.ID].Call(ctx, cc, c.Scope, a.Script, callback, args)
	if err != nil {
		if e, ok := errors.As(err); ok && e.Phase == errors.PhaseScript {
			return value.Value{}, err
		}
		return value.Value{}, errors.Runtime(a.Script, callback, err)
	}
	return out, nil
}

// Call invokes callback on a loaded attachment with a fresh holder
// identity. Scripts that do not export callback return Unit.
func (m *Manager) Call(ctx context.Context, a Attachment, callback string, args ...value.Value) (value.Value, error) {
	m.mu.Lock()
	mc, ok := m.machines[a]
	if !ok || mc.state != StateLoaded {
		m.mu.Unlock()
		state := StateUnloaded
		if ok {
			state = mc.state
		}
		return value.Value{}, errors.InvalidState(errors.PhaseLifecycle,
			fmt.Sprintf("%s is %s, callbacks need loaded", a, state))
	}
	c := m.contexts[mc.context]
	m.mu.Unlock()

	return m.invoke(ctx, m.callContext(ctx), a, c, callback, args)
}

// Broadcast invokes callback on every loaded attachment in attach order
// and returns how many calls succeeded. Failures, including Error values
// returned by scripts, are reported as error events.
func (m *Manager) Broadcast(ctx context.Context, callback string, args ...value.Value) int {
	type target struct {
		c *Context
		a Attachment
	}
	m.mu.Lock()
	var targets []target
	for _, a := range m.order {
		if mc := m.machines[a]; mc.state == StateLoaded {
			targets = append(targets, target{a: a, c: m.contexts[mc.context]})
		}
	}
	m.mu.Unlock()

	ok := 0
	for _, t := range targets {
		out, err := m.invoke(ctx, m.callContext(ctx), t.a, t.c, callback, args)
		if err == nil && out.IsError() {
			err = out.Err()
		}
		if err != nil {
			m.fail(t.a, StateLoaded, callback, err)
			continue
		}
		ok++
	}
	return ok
}

func (m *Manager) callContext(ctx context.Context) *function.CallContext {
	return function.NewCallContext(ctx, m.world, m.registry, function.WithIndexBase(m.indexBase))
}

func (m *Manager) transition(mc *machine, to State) {
	from := mc.state
	mc.state = to
	Logger().Debug("lifecycle transition",
		zap.Stringer("attachment", mc.attachment),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	for _, l := range m.listeners {
		l.OnTransition(mc.attachment, from, to)
	}
}

func (m *Manager) fail(a Attachment, stage State, callback string, err error) {
	ev := ErrorEvent{Attachment: a, Stage: stage, Callback: callback, Err: err}
	Logger().Warn("script error",
		zap.Stringer("attachment", a),
		zap.Stringer("stage", stage),
		zap.String("callback", callback),
		zap.Error(err))

	m.emu.Lock()
	m.errs = append(m.errs, ev)
	m.emu.Unlock()

	for _, l := range m.listeners {
		l.OnError(ev)
	}
}

// Errors drains the error events reported since the last call.
func (m *Manager) Errors() []ErrorEvent {
	m.emu.Lock()
	defer m.emu.Unlock()
	out := m.errs
	m.errs = nil
	return out
}

// State returns the state of a; unknown attachments are Unloaded.
func (m *Manager) State(a Attachment) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.machines[a]; ok {
		return mc.state
	}
	return StateUnloaded
}

// ContextOf returns the context a runs in.
func (m *Manager) ContextOf(a Attachment) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.machines[a]
	if !ok || mc.context == 0 {
		return nil, false
	}
	c, ok := m.contexts[mc.context]
	return c, ok
}

// Contexts returns every live context ordered by id.
func (m *Manager) Contexts() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextsLocked()
}

// Snapshot describes every known attachment in attach order.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.order))
	for _, a := range m.order {
		mc := m.machines[a]
		out = append(out, Snapshot{Attachment: a, State: mc.state, Context: mc.context})
	}
	return out
}

// Close closes every context without running unload hooks.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, c := range m.contextsLocked() {
		if err := m.runtimeOf[c.ID].CloseScope(ctx, c.Scope); err != nil && first == nil {
			first = err
		}
		c.allocs.Release()
		delete(m.contexts, c.ID)
		delete(m.runtimeOf, c.ID)
		delete(m.byKey, c.Key)
	}
	for _, mc := range m.machines {
		mc.state = StateUnloaded
		mc.context = 0
	}
	return first
}

func (m *Manager) contextsLocked() []*Context {
	out := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	sortContexts(out)
	return out
}

func scriptError(script, op string, err error) error {
	if e, ok := errors.As(err); ok && e.Phase == errors.PhaseScript {
		return err
	}
	return errors.Wrap(errors.PhaseScript, errors.KindRuntime, err, op+" "+script)
}
