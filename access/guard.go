package access

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type claim struct {
	holders map[ExecutionID]int
	mode    Mode
	// nested counts Read claims taken by the Write holder on its own root.
	nested int
}

type globalClaim struct {
	holder ExecutionID
	count  int
}

// Guard tracks read and write claims over roots of type R. It is the single
// authority through which host data is read or written: at most one Write
// claim or any number of Read claims per root, and a whole-world claim that
// excludes every other holder.
//
// Guard is safe for concurrent use. It never blocks on contention; a refused
// claim returns a *ConflictError.
type Guard[R comparable] struct {
	claims   map[R]*claim
	global   *globalClaim
	observer Observer
	mu       sync.Mutex
}

// Option configures a Guard.
type Option func(*options)

type options struct {
	observer Observer
}

// WithObserver installs a callback invoked for every refused claim.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// NewGuard creates an empty guard.
func NewGuard[R comparable](opts ...Option) *Guard[R] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Guard[R]{
		claims:   make(map[R]*claim),
		observer: o.observer,
	}
}

// ClaimRead grants shared access to root. It succeeds unless another holder
// owns a Write claim on root or the whole-world claim. A Write holder may
// take Read claims on its own root.
func (g *Guard[R]) ClaimRead(exec ExecutionID, root R) (*Permit[R], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkGlobal(exec, root, Read); err != nil {
		return nil, g.refuse(err)
	}

	c := g.claims[root]
	if c == nil {
		g.claims[root] = &claim{mode: Read, holders: map[ExecutionID]int{exec: 1}}
		return g.permit(exec, root, Read, false), nil
	}

	switch c.mode {
	case Read:
		c.holders[exec]++
		return g.permit(exec, root, Read, false), nil
	default:
		if _, own := c.holders[exec]; own {
			c.nested++
			return g.permit(exec, root, Read, true), nil
		}
		return nil, g.refuse(&ConflictError{
			Root:      root,
			Requested: Read,
			Held:      c.mode,
			HeldBy:    sortedHolders(c.holders),
		})
	}
}

// ClaimWrite grants exclusive access to root. It succeeds only if nobody
// else holds any claim on root. Re-claiming Write from the same holder is
// reference counted; upgrading a held Read claim is refused.
func (g *Guard[R]) ClaimWrite(exec ExecutionID, root R) (*Permit[R], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkGlobal(exec, root, Write); err != nil {
		return nil, g.refuse(err)
	}

	c := g.claims[root]
	if c == nil {
		g.claims[root] = &claim{mode: Write, holders: map[ExecutionID]int{exec: 1}}
		return g.permit(exec, root, Write, false), nil
	}

	if c.mode == Write {
		if _, own := c.holders[exec]; own {
			c.holders[exec]++
			return g.permit(exec, root, Write, false), nil
		}
	}

	return nil, g.refuse(&ConflictError{
		Root:      root,
		Requested: Write,
		Held:      c.mode,
		HeldBy:    sortedHolders(c.holders),
	})
}

// ClaimGlobal grants exclusive access to the whole world. It is refused
// while any other holder has a claim on any root. The global holder may
// still claim individual roots; nobody else can until it is released.
func (g *Guard[R]) ClaimGlobal(exec ExecutionID) (*Permit[R], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.global != nil {
		if g.global.holder == exec {
			g.global.count++
			return g.globalPermit(exec), nil
		}
		return nil, g.refuse(&ConflictError{
			Requested: Write,
			Held:      Write,
			HeldBy:    []ExecutionID{g.global.holder},
			Global:    true,
		})
	}

	for root, c := range g.claims {
		for holder := range c.holders {
			if holder != exec {
				return nil, g.refuse(&ConflictError{
					Root:      root,
					Requested: Write,
					Held:      c.mode,
					HeldBy:    sortedHolders(c.holders),
				})
			}
		}
	}

	g.global = &globalClaim{holder: exec, count: 1}
	return g.globalPermit(exec), nil
}

// WithRead runs fn while holding a Read claim on root.
// The claim is released on every exit path, including panics.
func (g *Guard[R]) WithRead(exec ExecutionID, root R, fn func() error) error {
	p, err := g.ClaimRead(exec, root)
	if err != nil {
		return err
	}
	defer p.Release()
	return fn()
}

// WithWrite runs fn while holding a Write claim on root.
// The claim is released on every exit path, including panics.
func (g *Guard[R]) WithWrite(exec ExecutionID, root R, fn func() error) error {
	p, err := g.ClaimWrite(exec, root)
	if err != nil {
		return err
	}
	defer p.Release()
	return fn()
}

// WithGlobal runs fn while holding the whole-world claim.
// The claim is released on every exit path, including panics.
func (g *Guard[R]) WithGlobal(exec ExecutionID, fn func() error) error {
	p, err := g.ClaimGlobal(exec)
	if err != nil {
		return err
	}
	defer p.Release()
	return fn()
}

// Snapshot returns the outstanding per-root claims.
func (g *Guard[R]) Snapshot() []Claim[R] {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Claim[R], 0, len(g.claims))
	for root, c := range g.claims {
		holders := make(map[ExecutionID]int, len(c.holders))
		for h, n := range c.holders {
			holders[h] = n
		}
		out = append(out, Claim[R]{Root: root, Mode: c.mode, Holders: holders, Nested: c.nested})
	}
	return out
}

// GlobalHolder reports the holder of the whole-world claim, if any.
func (g *Guard[R]) GlobalHolder() (ExecutionID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.global == nil {
		return NoExecution, false
	}
	return g.global.holder, true
}

// Idle reports whether no claim of any kind is outstanding.
func (g *Guard[R]) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global == nil && len(g.claims) == 0
}

func (g *Guard[R]) checkGlobal(exec ExecutionID, root R, mode Mode) *ConflictError {
	if g.global == nil || g.global.holder == exec {
		return nil
	}
	return &ConflictError{
		Root:      root,
		Requested: mode,
		Held:      Write,
		HeldBy:    []ExecutionID{g.global.holder},
		Global:    true,
	}
}

func (g *Guard[R]) refuse(err *ConflictError) *ConflictError {
	Logger().Debug("claim refused",
		zap.Any("root", err.Root),
		zap.Stringer("requested", err.Requested),
		zap.Bool("global", err.Global),
	)
	if g.observer != nil {
		g.observer(err)
	}
	return err
}

func (g *Guard[R]) permit(exec ExecutionID, root R, mode Mode, nested bool) *Permit[R] {
	return &Permit[R]{guard: g, exec: exec, root: root, mode: mode, nested: nested}
}

func (g *Guard[R]) globalPermit(exec ExecutionID) *Permit[R] {
	return &Permit[R]{guard: g, exec: exec, mode: Write, global: true}
}

func (g *Guard[R]) release(p *Permit[R]) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p.global {
		if g.global == nil || g.global.holder != p.exec || g.global.count <= 0 {
			panic("access: global claim count underflow")
		}
		g.global.count--
		if g.global.count == 0 {
			g.global = nil
		}
		return
	}

	c := g.claims[p.root]
	if c == nil {
		panic("access: release of unclaimed root")
	}

	if p.nested {
		if c.nested <= 0 {
			panic("access: nested read count underflow")
		}
		c.nested--
	} else {
		n, ok := c.holders[p.exec]
		if !ok || n <= 0 {
			panic("access: claim count underflow")
		}
		if n == 1 {
			delete(c.holders, p.exec)
		} else {
			c.holders[p.exec] = n - 1
		}
	}

	if len(c.holders) == 0 && c.nested == 0 {
		delete(g.claims, p.root)
	}
}

func sortedHolders(m map[ExecutionID]int) []ExecutionID {
	out := make([]ExecutionID, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Permit is a granted claim. Release it exactly when the access window ends,
// normally with defer; Release is idempotent.
type Permit[R comparable] struct {
	guard    *Guard[R]
	root     R
	exec     ExecutionID
	mode     Mode
	global   bool
	nested   bool
	released atomic.Bool
}

// Release returns the claim to the guard.
func (p *Permit[R]) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.guard.release(p)
}

// Root returns the claimed root. It is the zero R for a global permit.
func (p *Permit[R]) Root() R { return p.root }

// Mode returns the granted access mode.
func (p *Permit[R]) Mode() Mode { return p.mode }

// Execution returns the holder identity.
func (p *Permit[R]) Execution() ExecutionID { return p.exec }

// Global reports whether this is the whole-world permit.
func (p *Permit[R]) Global() bool { return p.global }
