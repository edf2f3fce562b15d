package analysis

import (
	"slices"

	"unlua/internal/ir"
)

// Frontier computes Block.Frontier. For every merge block t, each
// predecessor walks up the dominator tree, stopping before idom(t), and adds
// t to the frontier of every block it passes.
func Frontier(f *ir.Function) {
	Ensure(f, ir.AnalysisDominance)
	for _, b := range f.Blocks {
		b.Frontier = nil
	}
	for _, id := range RPO(f) {
		t := f.Blocks[id]
		preds := reachablePreds(f, t)
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			for runner := p; runner != t.IDom; {
				rb := f.Blocks[runner]
				if !slices.Contains(rb.Frontier, id) {
					rb.Frontier = append(rb.Frontier, id)
				}
				if rb.IDom == runner {
					break // entry
				}
				runner = rb.IDom
			}
		}
	}
	f.Stamp(ir.AnalysisFrontier)
}

// reachablePreds returns the distinct numbered predecessors of b in ID
// order.
func reachablePreds(f *ir.Function, b *ir.Block) []ir.BlockID {
	out := make([]ir.BlockID, 0, len(b.Preds))
	for _, p := range b.Preds {
		if Reachable(f.Blocks[p]) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
