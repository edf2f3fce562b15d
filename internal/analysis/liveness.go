package analysis

import (
	"unlua/internal/ir"
)

// Liveness computes Block.Killed, Block.UpwardExposed and Block.LiveOut over
// registers, solving
//
//	LiveOut(B) = ⋃ S in succ(B): (LiveOut(S) \ Killed(S)) ∪ UpwardExposed(S)
//
// to a fixed point. Blocks without an RPO number keep nil sets and
// contribute nothing.
func Liveness(f *ir.Function) {
	Ensure(f, ir.AnalysisFrontier)
	for _, b := range f.Blocks {
		b.Killed, b.UpwardExposed, b.LiveOut = nil, nil, nil
	}
	rpo := RPO(f)
	for _, id := range rpo {
		localLiveness(f.Blocks[id])
	}

	limit := roundLimit(f)
	for changed, round := true, 0; changed; round++ {
		if round > limit {
			ir.Faultf("analysis.Liveness", "function %s: no convergence after %d rounds", f.Name, round)
		}
		changed = false
		// backward problem: postorder visits successors first
		for i := len(rpo) - 1; i >= 0; i-- {
			b := f.Blocks[rpo[i]]
			out := ir.NewIdentSet()
			for _, s := range b.Succs {
				sb := f.Blocks[s]
				if !Reachable(sb) {
					continue
				}
				out = out.Union(sb.LiveOut.Difference(sb.Killed)).Union(sb.UpwardExposed)
			}
			if !out.Equal(b.LiveOut) {
				b.LiveOut = out
				changed = true
			}
		}
	}
	f.Stamp(ir.AnalysisLiveness)
}

// localLiveness classifies the register reads and writes of one block.
func localLiveness(b *ir.Block) {
	b.Killed = ir.NewIdentSet()
	b.UpwardExposed = ir.NewIdentSet()
	b.LiveOut = ir.NewIdentSet()
	for _, in := range b.Instrs {
		for id := range in.Uses(true).Iter() {
			if !b.Killed.Contains(id) {
				b.UpwardExposed.Add(id)
			}
		}
		b.Killed = b.Killed.Union(in.Defines(true))
	}
}

// LiveIn returns the registers live on entry to b.
func LiveIn(f *ir.Function, b *ir.Block) ir.IdentSet {
	f.Require(ir.AnalysisLiveness, "analysis.LiveIn")
	if !Reachable(b) {
		return ir.NewIdentSet()
	}
	return b.LiveOut.Difference(b.Killed).Union(b.UpwardExposed)
}
