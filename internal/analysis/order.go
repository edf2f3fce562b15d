// Package analysis computes the control-flow and data-flow facts the
// optimizer relies on: reverse-postorder numbering, dominators, dominance
// frontiers, global liveness and def-use chains.
//
// Results live in the scratch fields of ir.Block (or in a DefUse value) and
// are stamped with the function's mutation epoch; Ensure recomputes whatever
// a consumer needs that has gone stale.
package analysis

import (
	"github.com/oleiade/lane"

	"unlua/internal/ir"
)

// Postorder returns the blocks reachable from f.Begin in depth-first
// postorder: every block follows the successors it reached first. The end
// sentinel is left out unless includeEnd is set.
func Postorder(f *ir.Function, includeEnd bool) []ir.BlockID {
	if f.Block(f.Begin) == nil {
		return nil
	}
	type frame struct {
		id   ir.BlockID
		next int // successors of id already explored
	}
	seen := make([]bool, len(f.Blocks))
	order := make([]ir.BlockID, 0, len(f.Blocks))

	st := lane.NewStack()
	st.Push(&frame{id: f.Begin})
	seen[f.Begin] = true
	for !st.Empty() {
		top := st.Head().(*frame)
		b := f.Blocks[top.id]
		if top.next < len(b.Succs) {
			s := b.Succs[top.next]
			top.next++
			if !seen[s] && (includeEnd || s != f.End) {
				seen[s] = true
				st.Push(&frame{id: s})
			}
			continue
		}
		st.Pop()
		order = append(order, top.id)
	}
	return order
}

// NumberRPO assigns Block.RPO for every block of f, -1 for blocks that are
// unreachable or the end sentinel, and returns the blocks in reverse
// postorder.
func NumberRPO(f *ir.Function) []ir.BlockID {
	po := Postorder(f, false)
	for _, b := range f.Blocks {
		b.RPO = -1
	}
	rpo := make([]ir.BlockID, len(po))
	for i, id := range po {
		n := len(po) - 1 - i
		rpo[n] = id
		f.Blocks[id].RPO = n
	}
	f.Stamp(ir.AnalysisOrder)
	return rpo
}

// RPO returns the numbered blocks of f ordered by Block.RPO. Numbering must
// be fresh.
func RPO(f *ir.Function) []ir.BlockID {
	f.Require(ir.AnalysisOrder, "analysis.RPO")
	n := 0
	for _, b := range f.Blocks {
		if b.RPO >= 0 {
			n++
		}
	}
	rpo := make([]ir.BlockID, n)
	for _, b := range f.Blocks {
		if b.RPO >= 0 {
			rpo[b.RPO] = b.ID
		}
	}
	return rpo
}

// Reachable reports whether b received an RPO number.
func Reachable(b *ir.Block) bool {
	return b != nil && b.RPO >= 0
}

// roundLimit bounds every fixed-point loop over f. Monotone problems on a
// finite graph settle well before it; exceeding it means the edge relation
// is broken.
func roundLimit(f *ir.Function) int {
	n := len(f.Blocks)
	return n*n + 2
}
