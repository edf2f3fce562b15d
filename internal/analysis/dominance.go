package analysis

import (
	"slices"

	"github.com/willf/bitset"

	"unlua/internal/ir"
)

// Dominance computes immediate dominators with the Cooper-Harvey-Kennedy
// iteration, then materializes Block.Dom and the dominator tree
// (Block.DomChildren). The entry's immediate dominator is itself; blocks
// without an RPO number get NoBlockID and no dominator set.
func Dominance(f *ir.Function) {
	Ensure(f, ir.AnalysisOrder)
	rpo := RPO(f)
	for _, b := range f.Blocks {
		b.IDom = ir.NoBlockID
		b.Dom = nil
		b.DomChildren = nil
	}
	if len(rpo) == 0 {
		f.Stamp(ir.AnalysisDominance)
		return
	}
	entry := f.Blocks[rpo[0]]
	for _, id := range rpo {
		f.Blocks[id].IDom = id
	}

	preds := make([][]ir.BlockID, len(f.Blocks))
	for _, id := range rpo {
		ps := slices.Clone(f.Blocks[id].Preds)
		slices.Sort(ps)
		preds[id] = slices.Compact(ps)
	}

	limit := roundLimit(f)
	for changed, round := true, 0; changed; round++ {
		if round > limit {
			ir.Faultf("analysis.Dominance", "function %s: no convergence after %d rounds", f.Name, round)
		}
		changed = false
		for _, id := range rpo[1:] {
			newIDom := ir.NoBlockID
			for _, p := range preds[id] {
				pb := f.Blocks[p]
				if !Reachable(pb) {
					continue
				}
				if pb.IDom == p && pb != entry {
					continue // not processed yet
				}
				if newIDom == ir.NoBlockID {
					newIDom = p
					continue
				}
				newIDom = intersect(f, p, newIDom)
			}
			if newIDom != ir.NoBlockID && f.Blocks[id].IDom != newIDom {
				f.Blocks[id].IDom = newIDom
				changed = true
			}
		}
	}

	n := uint(len(f.Blocks))
	for _, id := range rpo {
		b := f.Blocks[id]
		if b == entry {
			b.Dom = bitset.New(n).Set(uint(id))
			continue
		}
		parent := f.Blocks[b.IDom]
		if parent.Dom == nil {
			ir.Faultf("analysis.Dominance", "function %s: bb%d dominated by bb%d which follows it", f.Name, id, b.IDom)
		}
		b.Dom = parent.Dom.Clone().Set(uint(id))
		parent.DomChildren = append(parent.DomChildren, id)
	}
	f.Stamp(ir.AnalysisDominance)
}

// intersect walks both fingers up the current dominator tree, always moving
// the one with the larger RPO number, until they meet.
func intersect(f *ir.Function, a, b ir.BlockID) ir.BlockID {
	limit := 2 * len(f.Blocks)
	for steps := 0; a != b; steps++ {
		if steps > limit {
			ir.Faultf("analysis.intersect", "function %s: dominator chains of bb%d and bb%d do not meet", f.Name, a, b)
		}
		switch ra, rb := f.Blocks[a].RPO, f.Blocks[b].RPO; {
		case ra > rb:
			a = f.Blocks[a].IDom
		case rb > ra:
			b = f.Blocks[b].IDom
		default:
			ir.Faultf("analysis.intersect", "function %s: bb%d and bb%d share RPO number %d", f.Name, a, b, ra)
		}
	}
	return a
}

// Dominators returns the dominators of b ordered from the entry down to b.
func Dominators(f *ir.Function, b *ir.Block) []ir.BlockID {
	f.Require(ir.AnalysisDominance, "analysis.Dominators")
	if b.Dom == nil {
		return nil
	}
	var chain []ir.BlockID
	for id := b.ID; ; id = f.Blocks[id].IDom {
		chain = append(chain, id)
		if f.Blocks[id].IDom == id {
			break
		}
	}
	slices.Reverse(chain)
	return chain
}
