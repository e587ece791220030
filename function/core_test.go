package function

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/value"
	"github.com/wippyai/scriptbridge/world"
)

type Inventory struct {
	Counts map[string]int64
	Items  []string
	Gold   int64
}

type Player struct {
	Name string
	HP   int64
}

type fixture struct {
	w   *world.World
	reg *Registry
	cc  *CallContext
	e   world.Entity
}

func newFixture(t *testing.T, opts ...ContextOption) *fixture {
	t.Helper()
	w := world.New()
	reg := NewRegistry()
	require.NoError(t, RegisterCore(reg))
	require.NoError(t, RegisterWorld(reg))
	e, err := w.Spawn(Inventory{Items: []string{"sword"}}, Player{Name: "ann", HP: 10})
	require.NoError(t, err)
	return &fixture{
		w:   w,
		reg: reg,
		cc:  NewCallContext(context.Background(), w, reg, opts...),
		e:   e,
	}
}

func (f *fixture) call(t *testing.T, name string, args ...value.Value) value.Value {
	t.Helper()
	out, err := f.reg.Call(f.cc, Global, name, args...)
	require.NoError(t, err)
	require.False(t, out.IsError(), "%s: %v", name, out)
	return out
}

func (f *fixture) component(t *testing.T, typ string) value.Value {
	t.Helper()
	out := f.call(t, "get_component", value.Integer(int64(f.e)), value.String(typ))
	require.Equal(t, value.KindReference, out.Kind())
	return out
}

func (f *fixture) inventory(t *testing.T) Inventory {
	t.Helper()
	var inv Inventory
	err := world.View[Inventory](f.w, access.NewExecutionID(), f.e, func(i *Inventory) error {
		inv = *i
		return nil
	})
	require.NoError(t, err)
	return inv
}

func TestCore_PushThenRead(t *testing.T) {
	f := newFixture(t)
	inv := f.component(t, "Inventory")

	items := f.call(t, "get", inv, value.String("Items"))
	require.Equal(t, value.KindReference, items.Kind())

	f.call(t, "push", items, value.String("shield"))
	assert.Equal(t, int64(2), f.call(t, "len", items).Int())
	assert.Equal(t, "shield", f.call(t, "get", items, value.Integer(1)).Str())

	assert.Equal(t, []string{"sword", "shield"}, f.inventory(t).Items)
}

func TestCore_PrimitivesAreCopies(t *testing.T) {
	f := newFixture(t)
	player := f.component(t, "Player")

	hp := f.call(t, "get", player, value.String("HP"))
	assert.Equal(t, value.Integer(10), hp)

	f.call(t, "set", player, value.String("HP"), value.Integer(3))
	assert.Equal(t, int64(10), hp.Int())
	assert.Equal(t, int64(3), f.call(t, "get", player, value.String("HP")).Int())
}

func TestCore_IndexBaseOne(t *testing.T) {
	f := newFixture(t, WithIndexBase(1))
	items := f.call(t, "get", f.component(t, "Inventory"), value.String("Items"))
	f.call(t, "push", items, value.String("shield"))

	assert.Equal(t, "sword", f.call(t, "get", items, value.Integer(1)).Str())
	assert.Equal(t, value.List(value.Integer(1), value.Integer(2)), f.call(t, "keys", items))

	out := f.reg.Invoke(f.cc, Global, "get", items, value.Integer(0))
	require.True(t, out.IsError())
	assert.ErrorIs(t, out.Err(), errors.ErrOutOfBounds)
}

func TestCore_SetCreatesMapKey(t *testing.T) {
	f := newFixture(t)
	counts := f.call(t, "get", f.component(t, "Inventory"), value.String("Counts"))

	f.call(t, "set", counts, value.String("arrows"), value.Integer(10))
	f.call(t, "set", counts, value.String("arrows"), value.Integer(12))
	f.call(t, "insert", counts, value.String("bolts"), value.Integer(4))

	assert.Equal(t, map[string]int64{"arrows": 12, "bolts": 4}, f.inventory(t).Counts)
	assert.Equal(t, value.List(value.String("arrows"), value.String("bolts")), f.call(t, "keys", counts))

	missing := f.reg.Invoke(f.cc, Global, "get", counts, value.String("nope"))
	assert.ErrorIs(t, missing.Err(), errors.ErrKeyMissing)
}

type Ledger struct {
	Tagged map[any]int64
	Slots  map[int]string
}

func TestCore_MapKeysMustBeScalar(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.InsertResource(Ledger{
		Tagged: map[any]int64{"a": 1},
		Slots:  map[int]string{2: "b"},
	}))
	ledger := f.call(t, "get_resource", value.String("Ledger"))
	tagged := f.call(t, "get", ledger, value.String("Tagged"))
	slots := f.call(t, "get", ledger, value.String("Slots"))

	for _, key := range []value.Value{value.List(value.Integer(1)), value.Map(nil)} {
		calls := []struct {
			name string
			args []value.Value
		}{
			{"get", []value.Value{tagged, key}},
			{"set", []value.Value{tagged, key, value.Integer(2)}},
			{"remove", []value.Value{tagged, key}},
		}
		for _, c := range calls {
			out := f.reg.Invoke(f.cc, Global, c.name, c.args...)
			require.True(t, out.IsError(), c.name)
			assert.ErrorIs(t, out.Err(), errors.ErrTypeMismatch, c.name)
		}
	}

	assert.Equal(t, "b", f.call(t, "get", slots, value.Float(2)).Str())
	for _, name := range []string{"get", "remove"} {
		out := f.reg.Invoke(f.cc, Global, name, slots, value.Float(2.5))
		require.True(t, out.IsError(), name)
		assert.ErrorIs(t, out.Err(), errors.ErrTypeMismatch, name)
	}
	out := f.reg.Invoke(f.cc, Global, "set", slots, value.Float(2.5), value.String("c"))
	require.True(t, out.IsError())
	assert.ErrorIs(t, out.Err(), errors.ErrTypeMismatch)

	f.call(t, "set", tagged, value.Integer(7), value.Integer(3))
	assert.Equal(t, int64(3), f.call(t, "get", tagged, value.Integer(7)).Int())
}

func TestCore_ListEditing(t *testing.T) {
	f := newFixture(t)
	items := f.call(t, "get", f.component(t, "Inventory"), value.String("Items"))

	f.call(t, "insert", items, value.Integer(0), value.String("bow"))
	f.call(t, "insert", items, value.Integer(2), value.String("axe"))
	assert.Equal(t, []string{"bow", "sword", "axe"}, f.inventory(t).Items)

	assert.Equal(t, "sword", f.call(t, "remove", items, value.Integer(1)).Str())
	assert.Equal(t, "axe", f.call(t, "pop", items).Str())
	assert.Equal(t, []string{"bow"}, f.inventory(t).Items)

	f.call(t, "clear", items)
	assert.Empty(t, f.inventory(t).Items)
	assert.True(t, f.call(t, "pop", items).IsUnit())

	out := f.reg.Invoke(f.cc, Global, "insert", items, value.Integer(5), value.String("x"))
	assert.ErrorIs(t, out.Err(), errors.ErrOutOfBounds)
}

func TestCore_RemoveMissingKeyIsUnit(t *testing.T) {
	f := newFixture(t)
	counts := f.call(t, "get", f.component(t, "Inventory"), value.String("Counts"))
	f.call(t, "set", counts, value.String("a"), value.Integer(1))

	assert.True(t, f.call(t, "remove", counts, value.String("b")).IsUnit())
	assert.Equal(t, int64(1), f.call(t, "remove", counts, value.String("a")).Int())
	assert.Equal(t, int64(0), f.call(t, "len", counts).Int())
}

func TestCore_StructKeysAndNames(t *testing.T) {
	f := newFixture(t)
	player := f.component(t, "Player")

	assert.Equal(t, value.List(value.String("Name"), value.String("HP")), f.call(t, "keys", player))
	assert.Equal(t, "function.Player", f.call(t, "type_name", player).Str())
	assert.Equal(t, "integer", f.call(t, "type_name", value.Integer(1)).Str())
	assert.Equal(t, "{Name:ann HP:10}", f.call(t, "display", player).Str())
	assert.Equal(t, `[1, "a"]`, f.call(t, "display", value.List(value.Integer(1), value.String("a"))).Str())

	out := f.reg.Invoke(f.cc, Global, "get", player, value.String("Mana"))
	assert.ErrorIs(t, out.Err(), errors.ErrFieldMissing)
}

func TestCore_TypeOverride(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, ForType[Player](f.reg).
		Method("get", func(self ref.Reference, k string) string { return "custom:" + k }).
		Err())

	player := f.component(t, "Player")
	r, _ := player.Ref()

	out, err := f.reg.Get(f.cc, r, value.String("HP"))
	require.NoError(t, err)
	assert.Equal(t, "custom:HP", out.Str())

	_, err = f.reg.Set(f.cc, r, value.String("HP"), value.Integer(1))
	require.NoError(t, err)

	inv, _ := f.component(t, "Inventory").Ref()
	out, err = f.reg.Get(f.cc, inv, value.String("Gold"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Int())
}

func TestWorld_Bindings(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.call(t, "has_component", value.Integer(int64(f.e)), value.String("Player")).Bool())

	out := f.reg.Invoke(f.cc, Global, "get_component", value.Integer(int64(f.e)), value.String("Ghost"))
	require.True(t, out.IsError())
	out = f.reg.Invoke(f.cc, Global, "get_component", value.Integer(0), value.String("Player"))
	require.True(t, out.IsError())

	e2 := f.call(t, "spawn").Int()
	assert.True(t, f.w.Alive(world.Entity(e2)))
	assert.True(t, f.call(t, "despawn", value.Integer(e2)).Bool())
	assert.False(t, f.w.Alive(world.Entity(e2)))

	alloc := f.call(t, "allocate", value.Map(map[string]value.Value{"k": value.Integer(1)}))
	assert.Equal(t, value.KindReference, alloc.Kind())
	assert.Equal(t, 1, f.w.Arena().Len())
}

func TestWorld_SpawnConflicts(t *testing.T) {
	f := newFixture(t)
	other := access.NewExecutionID()
	permit, err := f.w.Guard().ClaimRead(other, world.ComponentRootOf[Player](f.e))
	require.NoError(t, err)

	out := f.reg.Invoke(f.cc, Global, "spawn")
	require.True(t, out.IsError())
	assert.ErrorIs(t, out.Err(), access.ErrConflict)

	permit.Release()
	assert.Equal(t, value.KindInteger, f.call(t, "spawn").Kind())
}

func TestWorld_Resource(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.InsertResource(Inventory{Gold: 7}))
	res := f.call(t, "get_resource", value.String("Inventory"))
	assert.Equal(t, int64(7), f.call(t, "get", res, value.String("Gold")).Int())
}

type Vec struct {
	X, Y int64
}

func TestCallContext_ReleasesAllocations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Register(Global, "origin", func() Vec { return Vec{} }))

	refs := make([]ref.Reference, 0, 1000)
	for i := 0; i < 1000; i++ {
		r, ok := f.call(t, "origin").Ref()
		require.True(t, ok)
		refs = append(refs, r)
	}
	assert.Equal(t, 1000, f.w.Arena().Len())
	assert.Equal(t, 1000, f.cc.Allocations().Len())

	kept := refs[0].Root().Slot
	require.True(t, f.w.Arena().Retain(kept))

	assert.Equal(t, 999, f.cc.Release())
	assert.Equal(t, 1, f.w.Arena().Len())
	assert.Zero(t, f.cc.Allocations().Len())

	_, err := refs[1].Type(f.cc)
	assert.ErrorIs(t, err, errors.ErrStaleRoot)
	typ, err := refs[0].Type(f.cc)
	require.NoError(t, err)
	assert.Equal(t, world.TypeOf[Vec](), typ)

	assert.True(t, f.w.Arena().Release(kept))
	assert.Zero(t, f.w.Arena().Len())
}

func TestCallContext_Scoped(t *testing.T) {
	f := newFixture(t)
	owned := NewAllocations(f.w)
	scoped := f.cc.Scoped(owned)
	assert.Equal(t, f.cc.Execution(), scoped.Execution())

	_, err := scoped.Allocate(Vec{X: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, owned.Len())
	assert.Zero(t, f.cc.Allocations().Len())

	assert.Equal(t, 1, owned.Release())
	assert.Zero(t, f.w.Arena().Len())
}
