package function

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/value"
	"github.com/wippyai/scriptbridge/world"
)

type recorder struct {
	calls    []Outcome
	shadowed []string
}

func (r *recorder) OnCall(_ Info, o Outcome) { r.calls = append(r.calls, o) }
func (r *recorder) OnShadow(i Info)          { r.shadowed = append(r.shadowed, i.Name) }

func newTestContext(t *testing.T, reg *Registry, opts ...ContextOption) *CallContext {
	t.Helper()
	return NewCallContext(context.Background(), world.New(), reg, opts...)
}

func TestRegistry_CallTyped(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Global, "add", func(a, b int64) int64 { return a + b }))
	cc := newTestContext(t, reg)

	out, err := reg.Call(cc, Global, "add", value.Integer(2), value.Integer(3))
	require.NoError(t, err)
	assert.Equal(t, value.Integer(5), out)
}

func TestRegistry_ArgumentMismatch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Global, "add", func(a, b int64) int64 { return a + b }))
	cc := newTestContext(t, reg)

	_, err := reg.Call(cc, Global, "add", value.Integer(2), value.String("x"))
	require.ErrorIs(t, err, errors.ErrTypeMismatch)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "int64", e.Expected)
	assert.Equal(t, "string", e.Received)
	assert.Contains(t, e.Detail, "argument 2 of add")

	out := reg.Invoke(cc, Global, "add", value.Integer(2), value.String("x"))
	require.True(t, out.IsError())
	assert.ErrorIs(t, out.Err(), errors.ErrTypeMismatch)

	_, err = reg.Call(cc, Global, "add", value.Integer(2))
	require.ErrorIs(t, err, errors.ErrArityMismatch)
	e, _ = errors.As(err)
	assert.Equal(t, "2 arguments", e.Expected)
	assert.Equal(t, "1", e.Received)
}

func TestRegistry_NativeErrorBecomesValue(t *testing.T) {
	errDiv := stderrors.New("divide by zero")
	reg := NewRegistry()
	require.NoError(t, reg.Register(Global, "div", func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, errDiv
		}
		return a / b, nil
	}))
	cc := newTestContext(t, reg)

	out, err := reg.Call(cc, Global, "div", value.Integer(1), value.Integer(0))
	require.NoError(t, err)
	require.True(t, out.IsError())
	assert.ErrorIs(t, out.Err(), errDiv)
	assert.ErrorIs(t, out.Err(), errors.ErrExternal)

	out, err = reg.Call(cc, Global, "div", value.Integer(9), value.Integer(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Int())
}

func TestRegistry_PanicRecovered(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(WithObserver(rec))
	require.NoError(t, reg.Register(Global, "boom", func() { panic("kaboom") }))
	cc := newTestContext(t, reg)

	_, err := reg.Call(cc, Global, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	out := reg.Invoke(cc, Global, "boom")
	assert.True(t, out.IsError())
	assert.Equal(t, []Outcome{OutcomePanic, OutcomePanic}, rec.calls)
}

func TestRegistry_Missing(t *testing.T) {
	reg := NewRegistry()
	cc := newTestContext(t, reg)

	_, err := reg.Call(cc, Global, "nope")
	assert.ErrorIs(t, err, errors.ErrMissingFunction)
	assert.True(t, reg.Invoke(cc, Global, "nope").IsError())
}

func TestRegistry_ShadowingWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	rec := &recorder{}
	reg := NewRegistry(WithObserver(rec))
	require.NoError(t, reg.Register(Global, "f", func() int64 { return 1 }))
	require.NoError(t, reg.Register(Global, "f", func() int64 { return 2 }))

	out, err := reg.Call(newTestContext(t, reg), Global, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Int())
	assert.Equal(t, []string{"f"}, rec.shadowed)
	assert.Equal(t, 1, logs.FilterMessage("function registration shadows an earlier one").Len())
}

func TestRegistry_RegisterRejectsBadShapes(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Global, "x", 42))
	assert.Error(t, reg.Register(Global, "x", func() (int, int) { return 0, 0 }))
	assert.Error(t, reg.Register(Global, "", func() {}))

	err := reg.Register(Global, "x", func() (int, int, error) { return 0, 0, nil })
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindRegistration, e.Kind)
	_, found := reg.Lookup(Global, "x")
	assert.False(t, found)
}

func TestRegistry_Variadic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Global, "sum", func(base int64, rest ...int64) int64 {
		for _, r := range rest {
			base += r
		}
		return base
	}))
	cc := newTestContext(t, reg)

	out, err := reg.Call(cc, Global, "sum", value.Integer(1), value.Integer(2), value.Integer(3))
	require.NoError(t, err)
	assert.Equal(t, int64(6), out.Int())

	out, err = reg.Call(cc, Global, "sum", value.Integer(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Int())

	_, err = reg.Call(cc, Global, "sum")
	assert.ErrorIs(t, err, errors.ErrArityMismatch)
}

func TestRegistry_Dynamic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Global, "count", Dynamic(func(_ *CallContext, args []value.Value) (value.Value, error) {
		return value.Integer(int64(len(args))), nil
	})))
	require.NoError(t, reg.Register(Global, "strict", func(_ *CallContext, args []value.Value) (value.Value, error) {
		return value.Value{}, errors.ArityMismatch("strict", "0", "1")
	}))
	cc := newTestContext(t, reg)

	out, err := reg.Call(cc, Global, "count", value.Unit(), value.Unit())
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Int())

	_, err = reg.Call(cc, Global, "strict", value.Unit())
	assert.ErrorIs(t, err, errors.ErrArityMismatch)

	info, ok := reg.Lookup(Global, "count")
	require.True(t, ok)
	assert.Equal(t, -1, info.Arity)
}

func TestRegistry_ListAndSignature(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, ForType[Player](reg).
		Method("heal", func(self ref.Reference, amount int64) int64 { return amount }, Args("self", "amount")).
		Err())
	require.NoError(t, reg.Register(Global, "b", func(xs []string, p *int) {}))
	require.NoError(t, reg.Register(Global, "a", func(ok bool) float64 { return 0 }))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
	assert.Equal(t, "heal", infos[2].Name)

	assert.Equal(t, "a(arg0: bool) -> f64", infos[0].Signature())
	assert.Equal(t, "b(arg0: list<string>, arg1: option<s64>)", infos[1].Signature())
	assert.Equal(t, "Player.heal(self: reference, amount: s64) -> s64", infos[2].Signature())
}

type mathHost struct{ factor int64 }

func (mathHost) Namespace() Namespace             { return Global }
func (h mathHost) ScaleBy(x int64) int64          { return x * h.factor }
func (h mathHost) GetHTTPCode(_ *CallContext) int { return 200 }

func TestRegistry_RegisterHost(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterHost(mathHost{factor: 3}))
	cc := newTestContext(t, reg)

	out, err := reg.Call(cc, Global, "scale_by", value.Integer(4))
	require.NoError(t, err)
	assert.Equal(t, int64(12), out.Int())

	_, ok := reg.Lookup(Global, "get_http_code")
	assert.True(t, ok)
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Get":         "get",
		"GetValue":    "get_value",
		"GetHTTPCode": "get_http_code",
		"HTTPHandler": "http_handler",
		"already":     "already",
	}
	for in, want := range tests {
		assert.Equal(t, want, toSnakeCase(in), in)
	}
}

func TestCallContext(t *testing.T) {
	reg := NewRegistry()
	exec := access.NewExecutionID()
	cc := newTestContext(t, reg, WithExecution(exec), WithIndexBase(1))

	assert.Equal(t, exec, cc.Execution())
	assert.Equal(t, 1, cc.IndexBase())
	assert.Same(t, reg, cc.Registry())

	ctx := WithCallContext(context.Background(), cc)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, cc, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)

	type key struct{}
	child := cc.WithContext(context.WithValue(context.Background(), key{}, 1))
	assert.Equal(t, exec, child.Execution())
	assert.Equal(t, 1, child.Context().Value(key{}))
}
