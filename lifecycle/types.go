package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/value"
	"github.com/wippyai/scriptbridge/world"
)

// State is the lifecycle state of one attachment.
type State uint8

const (
	StateUnloaded State = iota
	StateLoadingInitialized
	StateContextAssigned
	StateLoaded
	StateReloadingInitialized
	StateUnloadingInitialized
	StateContextRemoved
	StateResidentRemoved
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoadingInitialized:
		return "loading_initialized"
	case StateContextAssigned:
		return "context_assigned"
	case StateLoaded:
		return "loaded"
	case StateReloadingInitialized:
		return "reloading_initialized"
	case StateUnloadingInitialized:
		return "unloading_initialized"
	case StateContextRemoved:
		return "context_removed"
	case StateResidentRemoved:
		return "resident_removed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Attachment is one script attached to an entity, or to the world when
// Entity is NoEntity. Domain groups attachments for per-domain contexts.
type Attachment struct {
	Script string
	Domain string
	Entity world.Entity
}

func (a Attachment) String() string {
	s := a.Script
	if a.Entity != world.NoEntity {
		s += "@" + a.Entity.String()
	}
	if a.Domain != "" {
		s += "[" + a.Domain + "]"
	}
	return s
}

// ContextKey identifies the context an attachment should run in. Two
// attachments with equal keys share a context.
type ContextKey struct {
	Language string
	Script   string
	Domain   string
	Entity   world.Entity
	Shared   bool
}

// ContextID identifies a live context.
type ContextID uint64

// Context is one runtime scope holding compiled scripts and their state.
// It lives while at least one attachment resides in it.
type Context struct {
	Scope     any
	Key       ContextKey
	allocs    *function.Allocations
	residents []Attachment
	scripts   map[string]int
	ID        ContextID
}

// Allocations returns the values scripts in c allocated. They are released
// when c is removed.
func (c *Context) Allocations() *function.Allocations { return c.allocs }

// Residents returns the attachments running in c, in the order they were
// assigned.
func (c *Context) Residents() []Attachment {
	return append([]Attachment(nil), c.residents...)
}

// Has reports whether script is loaded in c.
func (c *Context) Has(script string) bool { return c.scripts[script] > 0 }

func (c *Context) addResident(a Attachment) {
	c.residents = append(c.residents, a)
	c.scripts[a.Script]++
}

// removeResident drops a and reports whether its script has no other
// resident left in c.
func (c *Context) removeResident(a Attachment) bool {
	for i, r := range c.residents {
		if r == a {
			c.residents = append(c.residents[:i], c.residents[i+1:]...)
			break
		}
	}
	c.scripts[a.Script]--
	if c.scripts[a.Script] <= 0 {
		delete(c.scripts, a.Script)
		return true
	}
	return false
}

// Hook names called on scripts during transitions.
const (
	HookLoaded   = "on_script_loaded"
	HookUnloaded = "on_script_unloaded"
	HookReloaded = "on_script_reloaded"
)

// Runtime is a script language implementation. Scopes and programs are
// opaque to the manager.
type Runtime interface {
	Language() string
	Compile(ctx context.Context, script string, src []byte) (any, error)
	NewScope(ctx context.Context, cc *function.CallContext) (any, error)
	// Load installs program into scope, replacing an earlier version of
	// script. A failed Load must leave the earlier version working.
	Load(ctx context.Context, cc *function.CallContext, scope any, script string, program any) error
	Unload(ctx context.Context, scope any, script string) error
	// Call invokes callback exported by script. A callback the script does
	// not export returns Unit.
	Call(ctx context.Context, cc *function.CallContext, scope any, script, callback string, args []value.Value) (value.Value, error)
	CloseScope(ctx context.Context, scope any) error
}

// ContextInitializer runs once on every new context before any script is
// loaded into it.
type ContextInitializer func(ctx context.Context, cc *function.CallContext, c *Context) error

// PreHandlingInitializer runs before every callback invocation.
type PreHandlingInitializer func(ctx context.Context, cc *function.CallContext, a Attachment, c *Context) error

// ErrorEvent reports a failed transition or callback.
type ErrorEvent struct {
	Err        error
	Attachment Attachment
	Callback   string
	Stage      State
}

func (e ErrorEvent) Error() string {
	if e.Callback != "" {
		return fmt.Sprintf("%s: %s: %v", e.Attachment, e.Callback, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Attachment, e.Stage, e.Err)
}

func (e ErrorEvent) Unwrap() error { return e.Err }

// Listener observes transitions and errors.
type Listener interface {
	OnTransition(a Attachment, from, to State)
	OnError(ev ErrorEvent)
}

// Snapshot describes one attachment for diagnostics.
type Snapshot struct {
	Attachment Attachment
	State      State
	Context    ContextID
}

func sortContexts(cs []*Context) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
