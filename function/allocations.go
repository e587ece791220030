package function

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/world"
)

// Allocations records the arena slots allocated on behalf of one owner, a
// script context or a single host call, and holds one strong count on each.
// Release drops those counts together; slots retained elsewhere stay live.
type Allocations struct {
	arena *world.Arena
	slots []world.Slot
	mu    sync.Mutex
}

// NewAllocations creates an empty record over w's arena.
func NewAllocations(w *world.World) *Allocations {
	return &Allocations{arena: w.Arena()}
}

func (a *Allocations) add(s world.Slot) {
	a.mu.Lock()
	a.slots = append(a.slots, s)
	a.mu.Unlock()
}

// Len returns the number of slots held.
func (a *Allocations) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// Release drops the strong count held on every recorded slot and returns
// how many slots were freed as a result. The record is empty afterwards.
func (a *Allocations) Release() int {
	a.mu.Lock()
	slots := a.slots
	a.slots = nil
	a.mu.Unlock()

	freed := 0
	for _, s := range slots {
		if a.arena.Release(s) {
			freed++
		}
	}
	if len(slots) > 0 {
		Logger().Debug("allocations released", zap.Int("held", len(slots)), zap.Int("freed", freed))
	}
	return freed
}
