package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/asset"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/value"
	"github.com/wippyai/scriptbridge/world"
)

type fakeScope struct {
	programs map[string]string
	id       int
	closed   bool
}

// fakeRuntime treats a script source as its program text. Sources named
// "broken" fail to compile and "noload" fail to load.
type fakeRuntime struct {
	scopes []*fakeScope
	log    []string
}

func (r *fakeRuntime) Language() string { return asset.LanguageLua }

func (r *fakeRuntime) Compile(_ context.Context, _ string, src []byte) (any, error) {
	if string(src) == "broken" {
		return nil, stderrors.New("syntax error")
	}
	return string(src), nil
}

func (r *fakeRuntime) NewScope(context.Context, *function.CallContext) (any, error) {
	s := &fakeScope{id: len(r.scopes) + 1, programs: make(map[string]string)}
	r.scopes = append(r.scopes, s)
	return s, nil
}

func (r *fakeRuntime) Load(_ context.Context, _ *function.CallContext, scope any, script string, program any) error {
	if program == "noload" {
		return stderrors.New("instantiate failed")
	}
	scope.(*fakeScope).programs[script] = program.(string)
	return nil
}

func (r *fakeRuntime) Unload(_ context.Context, scope any, script string) error {
	delete(scope.(*fakeScope).programs, script)
	return nil
}

func (r *fakeRuntime) Call(_ context.Context, cc *function.CallContext, scope any, script, callback string, args []value.Value) (value.Value, error) {
	s := scope.(*fakeScope)
	r.log = append(r.log, fmt.Sprintf("%s:%s%v", script, callback, args))
	switch callback {
	case HookUnloaded:
		return value.String("saved:" + s.programs[script]), nil
	case "fail":
		return value.Value{}, stderrors.New("boom")
	case "version":
		return value.String(s.programs[script]), nil
	case "alloc":
		r, err := cc.Allocate(fakeScope{id: s.id})
		return value.Reference(r), err
	default:
		return value.Unit(), nil
	}
}

func (r *fakeRuntime) CloseScope(_ context.Context, scope any) error {
	scope.(*fakeScope).closed = true
	return nil
}

type transition struct {
	from, to State
}

type recordingListener struct {
	transitions map[Attachment][]transition
	errors      []ErrorEvent
}

func (l *recordingListener) OnTransition(a Attachment, from, to State) {
	if l.transitions == nil {
		l.transitions = make(map[Attachment][]transition)
	}
	l.transitions[a] = append(l.transitions[a], transition{from, to})
}

func (l *recordingListener) OnError(ev ErrorEvent) { l.errors = append(l.errors, ev) }

type harness struct {
	w   *world.World
	src *asset.MemorySource
	rt  *fakeRuntime
	lis *recordingListener
	m   *Manager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		w:   world.New(),
		src: asset.NewMemorySource(16),
		rt:  &fakeRuntime{},
		lis: &recordingListener{},
	}
	opts = append([]Option{WithRuntime(h.rt), WithListener(h.lis)}, opts...)
	h.m = NewManager(h.w, function.NewRegistry(), h.src, opts...)
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	_, err := h.m.Tick(context.Background())
	require.NoError(t, err)
}

func TestManager_Load(t *testing.T) {
	h := newHarness(t)
	h.src.Put("door.lua", []byte("v1"))
	a := Attachment{Entity: 1, Script: "door.lua"}

	h.m.Attach(a)
	assert.Equal(t, 1, h.m.Pending())
	assert.Equal(t, StateUnloaded, h.m.State(a))

	h.tick(t)
	assert.Equal(t, 0, h.m.Pending())
	assert.Equal(t, StateLoaded, h.m.State(a))
	assert.Equal(t, []transition{
		{StateUnloaded, StateLoadingInitialized},
		{StateLoadingInitialized, StateContextAssigned},
		{StateContextAssigned, StateLoaded},
	}, h.lis.transitions[a])
	assert.Equal(t, []string{"door.lua:on_script_loaded[]"}, h.rt.log)

	c, ok := h.m.ContextOf(a)
	require.True(t, ok)
	assert.Equal(t, []Attachment{a}, c.Residents())
	assert.Equal(t, "v1", c.Scope.(*fakeScope).programs["door.lua"])

	out, err := h.m.Call(context.Background(), a, "version")
	require.NoError(t, err)
	assert.Equal(t, "v1", out.Str())
	assert.True(t, h.w.Guard().Idle())
}

func TestManager_LoadFailures(t *testing.T) {
	h := newHarness(t)
	h.src.Put("bad.lua", []byte("broken"))
	h.src.Put("noload.lua", []byte("noload"))
	h.src.Put("other.rhai", []byte("x"))

	bad := Attachment{Entity: 1, Script: "bad.lua"}
	noload := Attachment{Entity: 1, Script: "noload.lua"}
	other := Attachment{Entity: 1, Script: "other.rhai"}
	missing := Attachment{Entity: 1, Script: "missing.lua"}
	for _, a := range []Attachment{bad, noload, other, missing} {
		h.m.Attach(a)
	}
	h.tick(t)

	evs := h.m.Errors()
	require.Len(t, evs, 4)
	assert.Equal(t, StateLoadingInitialized, evs[0].Stage)
	assert.Equal(t, errors.KindCompile, mustError(t, evs[0].Err).Kind)
	assert.Equal(t, StateContextAssigned, evs[1].Stage)
	assert.Equal(t, errors.KindUnsupported, mustError(t, evs[2].Err).Kind)
	assert.Equal(t, errors.KindNotFound, mustError(t, evs[3].Err).Kind)
	assert.Empty(t, h.m.Errors())
	assert.Len(t, h.lis.errors, 4)

	for _, a := range []Attachment{bad, noload, other, missing} {
		assert.Equal(t, StateUnloaded, h.m.State(a), a.String())
	}
	assert.Empty(t, h.m.Contexts())
	require.Len(t, h.rt.scopes, 1)
	assert.True(t, h.rt.scopes[0].closed)

	_, err := h.m.Call(context.Background(), bad, "version")
	assert.Equal(t, errors.KindInvalidState, mustError(t, err).Kind)

	// fixing the source and reloading retries the load
	h.src.Put("bad.lua", []byte("v2"))
	h.m.Reload("bad.lua")
	h.tick(t)
	assert.Equal(t, StateLoaded, h.m.State(bad))
}

func TestManager_ReloadOrdering(t *testing.T) {
	h := newHarness(t)
	h.src.Put("door.lua", []byte("v1"))
	a := Attachment{Entity: 1, Script: "door.lua"}
	h.m.Attach(a)
	h.tick(t)
	before, _ := h.m.ContextOf(a)
	h.rt.log = nil

	h.src.Put("door.lua", []byte("v2"))
	h.m.Reload("door.lua")
	h.tick(t)

	assert.Equal(t, []string{
		"door.lua:on_script_unloaded[]",
		"door.lua:on_script_loaded[]",
		"door.lua:on_script_reloaded[saved:v1]",
	}, h.rt.log)

	after, _ := h.m.ContextOf(a)
	assert.Same(t, before, after)
	assert.Equal(t, "v2", after.Scope.(*fakeScope).programs["door.lua"])
	assert.Len(t, h.rt.scopes, 1)
}

func TestManager_SharedContextReload(t *testing.T) {
	h := newHarness(t, WithAssigner(PerScriptAssigner{}))
	h.src.Put("door.lua", []byte("v1"))
	as := []Attachment{{Entity: 1, Script: "door.lua"}, {Entity: 2, Script: "door.lua"}}
	for _, a := range as {
		h.m.Attach(a)
	}
	h.tick(t)
	require.Len(t, h.m.Contexts(), 1)
	h.rt.log = nil

	h.src.Put("door.lua", []byte("v2"))
	h.m.Reload("door.lua")
	h.tick(t)

	assert.Equal(t, []string{
		"door.lua:on_script_unloaded[]",
		"door.lua:on_script_unloaded[]",
		"door.lua:on_script_loaded[]",
		"door.lua:on_script_reloaded[saved:v1]",
		"door.lua:on_script_loaded[]",
		"door.lua:on_script_reloaded[saved:v1]",
	}, h.rt.log)
	assert.Empty(t, h.m.Errors())
	assert.Len(t, h.rt.scopes, 1)
	for _, a := range as {
		assert.Equal(t, StateLoaded, h.m.State(a))
		assert.Equal(t, []transition{
			{StateLoaded, StateReloadingInitialized},
			{StateReloadingInitialized, StateContextAssigned},
			{StateContextAssigned, StateLoaded},
		}, h.lis.transitions[a][3:])
	}

	// a failing load is reported once per machine and leaves v2 running
	h.src.Put("door.lua", []byte("noload"))
	h.m.Reload("door.lua")
	h.tick(t)
	assert.Len(t, h.m.Errors(), 2)
	out, err := h.m.Call(context.Background(), as[1], "version")
	require.NoError(t, err)
	assert.Equal(t, "v2", out.Str())
}

func TestManager_ContextOwnsAllocations(t *testing.T) {
	h := newHarness(t, WithAssigner(PerScriptAssigner{}))
	h.src.Put("ai.lua", []byte("v1"))
	as := []Attachment{{Entity: 1, Script: "ai.lua"}, {Entity: 2, Script: "ai.lua"}}
	for _, a := range as {
		h.m.Attach(a)
	}
	h.tick(t)

	for _, a := range as {
		out, err := h.m.Call(context.Background(), a, "alloc")
		require.NoError(t, err)
		assert.Equal(t, value.KindReference, out.Kind())
	}
	require.Len(t, h.m.Contexts(), 1)
	assert.Equal(t, 2, h.m.Contexts()[0].Allocations().Len())
	assert.Equal(t, 2, h.w.Arena().Len())

	h.m.Detach(as[0])
	h.tick(t)
	assert.Equal(t, 2, h.w.Arena().Len())

	h.m.Detach(as[1])
	h.tick(t)
	assert.Empty(t, h.m.Contexts())
	assert.Zero(t, h.w.Arena().Len())
}

func TestManager_FailedReloadKeepsContext(t *testing.T) {
	h := newHarness(t)
	h.src.Put("door.lua", []byte("v1"))
	a := Attachment{Entity: 1, Script: "door.lua"}
	h.m.Attach(a)
	h.tick(t)

	for _, src := range []string{"broken", "noload"} {
		h.src.Put("door.lua", []byte(src))
		h.m.Reload("door.lua")
		h.tick(t)

		assert.Equal(t, StateLoaded, h.m.State(a), src)
		require.Len(t, h.m.Errors(), 1, src)
		out, err := h.m.Call(context.Background(), a, "version")
		require.NoError(t, err)
		assert.Equal(t, "v1", out.Str(), src)
	}
	assert.Len(t, h.m.Contexts(), 1)
}

func TestManager_SharedContextResidency(t *testing.T) {
	h := newHarness(t, WithAssigner(PerScriptAssigner{}))
	h.src.Put("ai.lua", []byte("v1"))
	var as []Attachment
	for e := world.Entity(1); e <= 3; e++ {
		a := Attachment{Entity: e, Script: "ai.lua"}
		as = append(as, a)
		h.m.Attach(a)
	}
	h.tick(t)

	require.Len(t, h.m.Contexts(), 1)
	c := h.m.Contexts()[0]
	assert.Equal(t, as, c.Residents())

	h.m.Detach(as[0])
	h.tick(t)
	assert.Len(t, h.m.Contexts(), 1)
	assert.Len(t, c.Residents(), 2)
	assert.False(t, c.Scope.(*fakeScope).closed)
	assert.Contains(t, h.lis.transitions[as[0]], transition{StateUnloadingInitialized, StateResidentRemoved})

	h.m.Detach(as[1])
	h.m.Detach(as[2])
	h.tick(t)
	assert.Empty(t, h.m.Contexts())
	assert.True(t, c.Scope.(*fakeScope).closed)
	assert.Contains(t, h.lis.transitions[as[2]], transition{StateUnloadingInitialized, StateContextRemoved})
	assert.Empty(t, h.m.Snapshot())
}

func TestManager_ReplaceInOneBatch(t *testing.T) {
	h := newHarness(t)
	h.src.Put("door.lua", []byte("v1"))
	a := Attachment{Entity: 1, Script: "door.lua"}
	h.m.Attach(a)
	h.tick(t)
	h.rt.log = nil

	h.m.Detach(a)
	h.m.Attach(a)
	h.tick(t)

	assert.Equal(t, []string{
		"door.lua:on_script_unloaded[]",
		"door.lua:on_script_loaded[]",
		"door.lua:on_script_reloaded[saved:v1]",
	}, h.rt.log)
	assert.Len(t, h.rt.scopes, 2)
}

func TestManager_Initializers(t *testing.T) {
	var created, pre int
	h := newHarness(t,
		WithAssigner(SharedAssigner{}),
		WithContextInitializer(func(_ context.Context, cc *function.CallContext, c *Context) error {
			created++
			assert.NotNil(t, cc.World())
			return nil
		}),
		WithPreHandlingInitializer(func(_ context.Context, _ *function.CallContext, a Attachment, c *Context) error {
			pre++
			return nil
		}))
	h.src.Put("a.lua", []byte("a"))
	h.src.Put("b.lua", []byte("b"))
	h.m.Attach(Attachment{Entity: 1, Script: "a.lua"})
	h.m.Attach(Attachment{Entity: 2, Script: "b.lua"})
	h.tick(t)

	assert.Equal(t, 1, created)
	assert.Equal(t, 2, pre)
	assert.Equal(t, 2, h.m.Broadcast(context.Background(), "tick", value.Float(0.5)))
	assert.Equal(t, 4, pre)
}

func TestManager_BroadcastReportsFailures(t *testing.T) {
	h := newHarness(t)
	h.src.Put("a.lua", []byte("a"))
	h.m.Attach(Attachment{Entity: 1, Script: "a.lua"})
	h.m.Attach(Attachment{Entity: 2, Script: "a.lua"})
	h.tick(t)

	assert.Equal(t, 0, h.m.Broadcast(context.Background(), "fail"))
	evs := h.m.Errors()
	require.Len(t, evs, 2)
	assert.Equal(t, "fail", evs[0].Callback)
	assert.Equal(t, world.Entity(1), evs[0].Attachment.Entity)
	assert.Equal(t, errors.KindRuntime, mustError(t, evs[0].Err).Kind)
	assert.Contains(t, evs[0].Error(), "boom")
}

func TestManager_TickConflict(t *testing.T) {
	h := newHarness(t)
	h.src.Put("a.lua", []byte("a"))
	e, err := h.w.Spawn()
	require.NoError(t, err)

	permit, err := h.w.Guard().ClaimRead(access.NewExecutionID(), world.ComponentRoot(e, world.TypeOf[int]()))
	require.NoError(t, err)

	h.m.Attach(Attachment{Entity: e, Script: "a.lua"})
	_, err = h.m.Tick(context.Background())
	assert.ErrorIs(t, err, access.ErrConflict)
	assert.Equal(t, 1, h.m.Pending())

	permit.Release()
	n, err := h.m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StateLoaded, h.m.State(Attachment{Entity: e, Script: "a.lua"}))
}

func TestManager_Follow(t *testing.T) {
	h := newHarness(t)
	h.src.Put("a.lua", []byte("v1"))
	<-h.src.Changes()
	a := Attachment{Script: "a.lua"}
	h.m.Attach(a)
	h.tick(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.m.Follow(ctx, h.src)
		close(done)
	}()
	h.src.Put("a.lua", []byte("v2"))
	require.Eventually(t, func() bool { return h.m.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	h.tick(t)
	out, err := h.m.Call(context.Background(), a, "version")
	require.NoError(t, err)
	assert.Equal(t, "v2", out.Str())
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	h.src.Put("a.lua", []byte("a"))
	a := Attachment{Entity: 1, Script: "a.lua"}
	h.m.Attach(a)
	h.tick(t)

	require.NoError(t, h.m.Close(context.Background()))
	assert.True(t, h.rt.scopes[0].closed)
	assert.Equal(t, StateUnloaded, h.m.State(a))
}

func mustError(t *testing.T, err error) *errors.Error {
	t.Helper()
	e, ok := errors.As(err)
	require.True(t, ok, "expected *errors.Error, got %v", err)
	return e
}
