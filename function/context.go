package function

import (
	"context"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/ref"
	"github.com/wippyai/scriptbridge/world"
)

// CallContext is the execution context handed to every native function. It
// carries the world, the holder identity used for access claims and the
// index base of the calling language. Nothing in the bridge reaches for
// ambient state: whatever a function needs comes through here.
type CallContext struct {
	ctx       context.Context
	world     *world.World
	registry  *Registry
	allocs    *Allocations
	exec      access.ExecutionID
	indexBase int
}

// ContextOption configures a CallContext.
type ContextOption func(*CallContext)

// WithExecution sets the holder identity. By default every CallContext gets
// a fresh one.
func WithExecution(id access.ExecutionID) ContextOption {
	return func(c *CallContext) { c.exec = id }
}

// WithIndexBase sets the position of the first element as scripts see it,
// 0 or 1.
func WithIndexBase(base int) ContextOption {
	return func(c *CallContext) { c.indexBase = base }
}

// WithAllocations records the values allocated through the context in a.
// By default every CallContext gets its own record; see Release.
func WithAllocations(a *Allocations) ContextOption {
	return func(c *CallContext) { c.allocs = a }
}

// NewCallContext creates a call context over w and reg.
func NewCallContext(ctx context.Context, w *world.World, reg *Registry, opts ...ContextOption) *CallContext {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &CallContext{
		ctx:      ctx,
		world:    w,
		registry: reg,
		exec:     access.NewExecutionID(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.allocs == nil && w != nil {
		c.allocs = NewAllocations(w)
	}
	return c
}

func (c *CallContext) Context() context.Context      { return c.ctx }
func (c *CallContext) World() *world.World           { return c.world }
func (c *CallContext) Registry() *Registry           { return c.registry }
func (c *CallContext) Execution() access.ExecutionID { return c.exec }
func (c *CallContext) IndexBase() int                { return c.indexBase }

// WithContext returns a shallow copy carrying ctx. The copy shares the
// holder identity.
func (c *CallContext) WithContext(ctx context.Context) *CallContext {
	cp := *c
	cp.ctx = ctx
	return &cp
}

// Scoped returns a shallow copy whose allocations are recorded in a. The
// copy shares the holder identity.
func (c *CallContext) Scoped(a *Allocations) *CallContext {
	cp := *c
	cp.allocs = a
	return &cp
}

// Allocations returns the record of values allocated through c.
func (c *CallContext) Allocations() *Allocations { return c.allocs }

// Allocate moves v into the world's arena and returns a reference to it.
// The slot is held by c's allocations until they are released.
func (c *CallContext) Allocate(v any) (ref.Reference, error) {
	root, err := c.world.Allocate(v)
	if err != nil {
		return ref.Reference{}, err
	}
	if c.allocs != nil {
		c.allocs.add(root.Slot)
	}
	return ref.New(root), nil
}

// Release frees the values allocated through c that nothing else retains.
// References to them go stale.
func (c *CallContext) Release() int {
	if c.allocs == nil {
		return 0
	}
	return c.allocs.Release()
}

type callContextKey struct{}

// WithCallContext attaches cc to ctx so that runtimes which only pass a
// context.Context to host callbacks can recover it.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// FromContext returns the CallContext attached by WithCallContext.
func FromContext(ctx context.Context) (*CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*CallContext)
	return cc, ok && cc != nil
}
