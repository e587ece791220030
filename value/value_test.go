package value

import (
	stderrors "errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/world"
)

type Stats struct {
	Tags  []string
	Owner *Stats
	Name  string
	Level int
}

type env struct {
	w    *world.World
	exec access.ExecutionID
}

func newEnv() *env {
	return &env{w: world.New(), exec: access.NewExecutionID()}
}

func (e *env) World() *world.World            { return e.w }
func (e *env) Execution() access.ExecutionID { return e.exec }

func (e *env) Allocate(v any) (ref.Reference, error) {
	root, err := e.w.Allocate(v)
	if err != nil {
		return ref.Reference{}, err
	}
	return ref.New(root), nil
}

// Celsius converts itself through its own representation.
type Celsius float64

func (c Celsius) IntoScript(Allocator) (Value, error) {
	return String(strconv.FormatFloat(float64(c), 'f', 1, 64) + "C"), nil
}

func (c *Celsius) FromScript(v Value, _ ref.Accessor) error {
	if v.Kind() != KindFloat {
		return stderrors.New("celsius wants a float")
	}
	*c = Celsius(v.Float() + 0.5)
	return nil
}

func TestInto_Primitives(t *testing.T) {
	tests := []struct {
		in   any
		want Value
	}{
		{nil, Unit()},
		{true, Bool(true)},
		{int8(-3), Integer(-3)},
		{uint16(9), Integer(9)},
		{float32(1.5), Float(1.5)},
		{"hi", String("hi")},
		{[]int{1, 2}, List(Integer(1), Integer(2))},
		{[2]bool{true, false}, List(Bool(true), Bool(false))},
		{map[string]int{"a": 1}, Map(map[string]Value{"a": Integer(1)})},
		{(*int)(nil), Unit()},
		{Integer(4), Integer(4)},
	}
	for _, tt := range tests {
		got, err := Into(tt.in)
		require.NoError(t, err, "%T", tt.in)
		assert.Equal(t, tt.want, got, "%T", tt.in)
	}

	five := 5
	got, err := Into(&five)
	require.NoError(t, err)
	assert.Equal(t, Integer(5), got)

	boom := stderrors.New("boom")
	got, err = Into(boom)
	require.NoError(t, err)
	assert.Equal(t, KindError, got.Kind())
	assert.Equal(t, boom, got.Err())
}

func TestInto_Overflow(t *testing.T) {
	_, err := Into(uint64(1 << 63))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindOverflow, e.Kind)
}

func TestInto_StructNeedsAllocator(t *testing.T) {
	_, err := Into(Stats{Name: "x"})
	require.Error(t, err)

	e := newEnv()
	v, err := IntoWith(e, Stats{Name: "x", Level: 2})
	require.NoError(t, err)
	require.Equal(t, KindReference, v.Kind())

	r, _ := v.Ref()
	level, err := As[int](Reference(r.Field("Level")), e)
	require.NoError(t, err)
	assert.Equal(t, 2, level)
}

func TestFrom_Primitives(t *testing.T) {
	i, err := As[int32](Integer(7), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(7), i)

	f, err := As[float32](Integer(2), nil)
	require.NoError(t, err)
	assert.Equal(t, float32(2), f)

	n, err := As[int](Float(3), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = As[int](Float(3.5), nil)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	_, err = As[int8](Integer(300), nil)
	var oe *errors.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, errors.KindOverflow, oe.Kind)

	_, err = As[uint](Integer(-1), nil)
	assert.Error(t, err)

	_, err = As[int](String("x"), nil)
	require.ErrorIs(t, err, errors.ErrTypeMismatch)
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "int", oe.Expected)
	assert.Equal(t, "string", oe.Received)

	p, err := As[*int](Unit(), nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	x, err := As[any](Unit(), nil)
	require.NoError(t, err)
	assert.Nil(t, x)
}

func TestFrom_Containers(t *testing.T) {
	s, err := As[[]int](List(Integer(1), Integer(2)), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, s)

	_, err = As[[3]int](List(Integer(1)), nil)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	m, err := As[map[string]float64](Map(map[string]Value{"pi": Float(3.14)}), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"pi": 3.14}, m)

	st, err := As[Stats](Map(map[string]Value{"Name": String("n"), "Level": Integer(4)}), nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Name: "n", Level: 4}, st)

	_, err = As[Stats](Map(map[string]Value{"Nope": Unit()}), nil)
	assert.ErrorIs(t, err, errors.ErrFieldMissing)

	_, err = As[[]int](List(Integer(1), String("two")), nil)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"[1]"}, e.Path)
}

func TestFrom_Custom(t *testing.T) {
	c, err := As[Celsius](Float(1), nil)
	require.NoError(t, err)
	assert.Equal(t, Celsius(1.5), c)

	_, err = As[Celsius](Integer(1), nil)
	assert.EqualError(t, err, "celsius wants a float")

	v, err := Into(Celsius(2))
	require.NoError(t, err)
	assert.Equal(t, String("2.0C"), v)
}

func TestFromReflect_CopyVersusReference(t *testing.T) {
	e := newEnv()
	ent, err := e.w.Spawn(Stats{Name: "ada", Level: 3, Tags: []string{"a"}})
	require.NoError(t, err)
	root := ref.New(world.ComponentRootOf[Stats](ent))

	read := func(r ref.Reference) Value {
		var out Value
		require.NoError(t, r.Read(e, func(v reflect.Value) error {
			out = FromReflect(v, r)
			return nil
		}))
		return out
	}

	assert.Equal(t, String("ada"), read(root.Field("Name")))
	assert.Equal(t, Integer(3), read(root.Field("Level")))
	assert.Equal(t, Unit(), read(root.Field("Owner")))

	tags := read(root.Field("Tags"))
	require.Equal(t, KindReference, tags.Kind())
	whole := read(root)
	require.Equal(t, KindReference, whole.Kind())

	// mutation through the handed-out reference reaches the host
	tr, _ := tags.Ref()
	require.NoError(t, tr.Write(e, func(v reflect.Value) error {
		v.Set(reflect.Append(v, reflect.ValueOf("b")))
		return nil
	}))
	require.NoError(t, world.View[Stats](e.w, e.exec, ent, func(s *Stats) error {
		assert.Equal(t, []string{"a", "b"}, s.Tags)
		return nil
	}))

	// a copied leaf is detached
	name := read(root.Field("Name"))
	require.NoError(t, world.Mutate[Stats](e.w, e.exec, ent, func(s *Stats) error {
		s.Name = "bob"
		return nil
	}))
	assert.Equal(t, "ada", name.Str())
}

func TestFrom_ReferenceCopiesTarget(t *testing.T) {
	e := newEnv()
	ent, err := e.w.Spawn(Stats{Tags: []string{"x", "y"}})
	require.NoError(t, err)
	tags := Reference(ref.New(world.ComponentRootOf[Stats](ent)).Field("Tags"))

	got, err := As[[]string](tags, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got)
	got[0] = "z"

	again, err := As[[]string](tags, e)
	require.NoError(t, err)
	assert.Equal(t, "x", again[0])

	_, err = As[[]string](tags, nil)
	assert.Error(t, err)

	r, err := As[ref.Reference](tags, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Depth())
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "()", Display(Unit()))
	assert.Equal(t, "[1, \"a\", true]", Display(List(Integer(1), String("a"), Bool(true))))
	assert.Equal(t, "{a: 1.5, b: ()}", Display(Map(map[string]Value{"b": Unit(), "a": Float(1.5)})))
	assert.Equal(t, "<fn push>", Display(GlobalFunction("push")))
	assert.Equal(t, "error: nope", Display(ErrorText("nope")))
	assert.Equal(t, "hi", String("hi").String())
	assert.Equal(t, "<ref resource/value.Stats.Name>",
		Display(Reference(ref.New(world.ResourceRootOf[Stats]()).Field("Name"))))
}
