package ref

import (
	"fmt"
	"strconv"
	"strings"
)

// ElementKind selects how an Element descends into a value.
type ElementKind uint8

const (
	FieldElement ElementKind = iota + 1 // struct field by name
	IndexElement                        // slice or array position, 0-based
	KeyElement                          // map entry by key
)

func (k ElementKind) String() string {
	switch k {
	case FieldElement:
		return "field"
	case IndexElement:
		return "index"
	case KeyElement:
		return "key"
	default:
		return "invalid"
	}
}

// Element is one step of a Path.
type Element struct {
	Key   any
	Name  string
	Index int
	Kind  ElementKind
}

// Field returns a field-by-name element.
func Field(name string) Element {
	return Element{Kind: FieldElement, Name: name}
}

// Index returns a 0-based position element.
func Index(i int) Element {
	return Element{Kind: IndexElement, Index: i}
}

// Key returns a key-by-value element.
func Key(k any) Element {
	return Element{Kind: KeyElement, Key: k}
}

func (e Element) String() string {
	switch e.Kind {
	case FieldElement:
		return "." + e.Name
	case IndexElement:
		return "[" + strconv.Itoa(e.Index) + "]"
	case KeyElement:
		if s, ok := e.Key.(string); ok {
			return "[" + strconv.Quote(s) + "]"
		}
		return fmt.Sprintf("[%v]", e.Key)
	default:
		return "<invalid>"
	}
}

// Path is an ordered sequence of elements from a root to a nested value.
// The empty path addresses the whole root.
type Path []Element

func (p Path) String() string {
	var b strings.Builder
	for _, e := range p {
		b.WriteString(e.String())
	}
	return b.String()
}

// Strings renders each element, for error paths.
func (p Path) Strings() []string {
	out := make([]string, len(p))
	for i, e := range p {
		out[i] = e.String()
	}
	return out
}

// node is one link of an immutable path list shared between references.
type node struct {
	parent *node
	elem   Element
	depth  int
}

func (n *node) path() Path {
	if n == nil {
		return nil
	}
	p := make(Path, n.depth)
	for cur := n; cur != nil; cur = cur.parent {
		p[cur.depth-1] = cur.elem
	}
	return p
}

// ToZeroBased converts a script-facing position using the given base (0 or
// 1) to the internal 0-based index.
func ToZeroBased(i int64, base int) int {
	return int(i) - base
}

// FromZeroBased converts an internal 0-based index to a script-facing
// position using the given base.
func FromZeroBased(i int, base int) int64 {
	return int64(i + base)
}
