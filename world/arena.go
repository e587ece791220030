package world

import (
	"reflect"
	"sync"

	"github.com/wippyai/scriptbridge/errors"
)

// ErrArenaClosed is returned by Allocate after Close.
var ErrArenaClosed = errors.InvalidState(errors.PhaseHost, "arena closed")

// Arena stores script-allocated values in stable slots with strong counts.
// A slot is freed when its count drops to zero; its generation is bumped so
// outstanding references to it fail to resolve instead of aliasing the next
// occupant.
type Arena struct {
	entries  []arenaEntry
	freeList []uint32
	mu       sync.RWMutex
	closed   bool
}

type arenaEntry struct {
	value      reflect.Value // pointer to the stored value
	generation uint32
	strong     uint32
	valid      bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		entries:  make([]arenaEntry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Allocate copies v into a new slot with a strong count of one.
func (a *Arena) Allocate(v any) (Slot, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return Slot{}, errors.InvalidInput(errors.PhaseHost, "cannot allocate nil")
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Slot{}, ErrArenaClosed
	}

	if len(a.freeList) > 0 {
		idx := a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
		e := &a.entries[idx-1]
		e.value = ptr
		e.strong = 1
		e.valid = true
		return Slot{Index: idx, Generation: e.generation}, nil
	}

	a.entries = append(a.entries, arenaEntry{value: ptr, strong: 1, valid: true})
	return Slot{Index: uint32(len(a.entries))}, nil
}

// Get returns the addressable stored value for a live slot.
func (a *Arena) Get(s Slot) (reflect.Value, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.lookup(s)
	if !ok {
		return reflect.Value{}, false
	}
	return e.value.Elem(), true
}

// Retain increments the strong count of a live slot.
func (a *Arena) Retain(s Slot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.lookup(s)
	if !ok {
		return false
	}
	e.strong++
	return true
}

// Release decrements the strong count of a live slot and frees it when the
// count reaches zero. It reports whether the slot was freed.
func (a *Arena) Release(s Slot) bool {
	a.mu.Lock()

	e, ok := a.lookup(s)
	if !ok || e.strong == 0 {
		a.mu.Unlock()
		return false
	}

	e.strong--
	if e.strong > 0 {
		a.mu.Unlock()
		return false
	}

	value := e.value
	e.valid = false
	e.value = reflect.Value{}
	e.generation++
	a.freeList = append(a.freeList, s.Index)
	a.mu.Unlock()

	drop(value)
	return true
}

// StrongCount returns the strong count of a live slot.
func (a *Arena) StrongCount(s Slot) (uint32, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.lookup(s)
	if !ok {
		return 0, false
	}
	return e.strong, true
}

// Len returns the number of live slots.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	count := 0
	for _, e := range a.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over all live slots.
func (a *Arena) Each(fn func(Slot, reflect.Value) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i, e := range a.entries {
		if e.valid {
			if !fn(Slot{Index: uint32(i + 1), Generation: e.generation}, e.value.Elem()) {
				break
			}
		}
	}
}

// Close frees every slot and stops accepting allocations.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	for i := range a.entries {
		if a.entries[i].valid {
			drop(a.entries[i].value)
			a.entries[i].valid = false
			a.entries[i].value = reflect.Value{}
		}
	}

	a.entries = nil
	a.freeList = nil
	return nil
}

func (a *Arena) lookup(s Slot) (*arenaEntry, bool) {
	if s.Index == 0 || int(s.Index) > len(a.entries) {
		return nil, false
	}
	e := &a.entries[s.Index-1]
	if !e.valid || e.generation != s.Generation {
		return nil, false
	}
	return e, true
}

func drop(ptr reflect.Value) {
	if d, ok := ptr.Interface().(Dropper); ok {
		d.Drop()
		return
	}
	if d, ok := ptr.Elem().Interface().(Dropper); ok {
		d.Drop()
	}
}
