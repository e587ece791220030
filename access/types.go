package access

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wippyai/scriptbridge/errors"
)

// Mode is the kind of access a claim grants.
type Mode uint8

const (
	Read Mode = iota + 1
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "none"
	}
}

// ExecutionID identifies the holder of a claim: one host system run, one
// script call, or one lifecycle batch.
type ExecutionID uuid.UUID

// NoExecution is the zero ExecutionID. It is a valid holder but never
// produced by NewExecutionID.
var NoExecution ExecutionID

// NewExecutionID returns a fresh, unique holder identity.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.New())
}

func (id ExecutionID) String() string {
	return uuid.UUID(id).String()
}

// ErrConflict matches every ConflictError via errors.Is.
var ErrConflict = &errors.Error{Phase: errors.PhaseAccess, Kind: errors.KindConflict}

// ConflictError is returned when a claim cannot be granted because of an
// outstanding claim by another holder. Claims never block.
type ConflictError struct {
	Root      any
	HeldBy    []ExecutionID
	Requested Mode
	Held      Mode
	Global    bool
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	b.WriteString("access conflict on ")
	if e.Root == nil {
		b.WriteString("world")
	} else {
		fmt.Fprintf(&b, "%v", e.Root)
	}
	b.WriteString(": requested ")
	b.WriteString(e.Requested.String())
	if e.Global {
		b.WriteString(" while whole-world access is held")
	} else {
		b.WriteString(", held ")
		b.WriteString(e.Held.String())
	}
	if len(e.HeldBy) > 0 {
		b.WriteString(" by ")
		for i, h := range e.HeldBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(h.String())
		}
	}
	return b.String()
}

// Unwrap exposes the structured access/conflict error.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Claim describes one outstanding claim, as reported by Snapshot.
type Claim[R comparable] struct {
	Root    R
	Holders map[ExecutionID]int
	Mode    Mode
	Nested  int
}

// Observer is notified of every refused claim.
type Observer func(*ConflictError)
