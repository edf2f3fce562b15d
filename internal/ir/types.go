package ir

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// BlockID indexes Function.Blocks.
type BlockID int32

// NoBlockID marks an absent block reference.
const NoBlockID BlockID = -1

// IdentKind classifies an identifier slot.
type IdentKind uint8

const (
	// IdentRegister is a virtual machine register.
	IdentRegister IdentKind = iota
	// IdentUpValue is a captured variable of an enclosing function.
	IdentUpValue
	// IdentGlobal is a named global.
	IdentGlobal
)

// String returns the string representation of IdentKind.
func (k IdentKind) String() string {
	switch k {
	case IdentRegister:
		return "register"
	case IdentUpValue:
		return "upvalue"
	case IdentGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Identifier is a named register, upvalue or global slot. Identifiers are
// interned per function, so pointer comparison is identity.
type Identifier struct {
	Name string
	Kind IdentKind
	Slot int // register or upvalue number, -1 for globals

	// Def is the unique defining instruction, nil when the identifier has no
	// definition or more than one. Maintained by the def-use analysis.
	Def *Instr
}

// IsRegister reports whether id names a register.
func (id *Identifier) IsRegister() bool {
	return id != nil && id.Kind == IdentRegister
}

func (id *Identifier) String() string {
	if id == nil {
		return "<nil>"
	}
	if id.Kind == IdentGlobal {
		return "@" + id.Name
	}
	return id.Name
}

// UpValueBinding describes where a closure captures an upvalue from.
type UpValueBinding struct {
	Name    string
	InStack bool // captured from the parent's register file
	Index   int  // parent register (InStack) or parent upvalue index
}

// IdentSet is an unordered set of identifiers.
type IdentSet = mapset.Set[*Identifier]

// NewIdentSet returns a set holding ids. Sets are confined to one function
// and never shared across goroutines.
func NewIdentSet(ids ...*Identifier) IdentSet {
	return mapset.NewThreadUnsafeSet(ids...)
}

// SortedIdents returns the members of s ordered by name.
func SortedIdents(s IdentSet) []*Identifier {
	if s == nil {
		return nil
	}
	out := s.ToSlice()
	slices.SortFunc(out, func(a, b *Identifier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// FormatIdents renders s as "{a, b}" in name order.
func FormatIdents(s IdentSet) string {
	ids := SortedIdents(s)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// InternalError reports a broken IR invariant: an unhandled variant in a
// traversal or an analysis that failed to converge. It is raised with panic.
type InternalError struct {
	Op     string
	Detail string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("ir: internal consistency fault in %s: %s", e.Op, e.Detail)
}

// Faultf panics with an *InternalError.
func Faultf(op, format string, args ...any) {
	panic(&InternalError{Op: op, Detail: fmt.Sprintf(format, args...)})
}
