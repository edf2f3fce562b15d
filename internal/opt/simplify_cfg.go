package opt

import (
	"context"

	"unlua/internal/ir"
)

// SimplifyCFG threads jumps through blocks that only transfer control,
// drops blocks unreachable from the entry and renumbers the rest in order.
// The end sentinel is always kept.
type SimplifyCFG struct{}

// Name implements Pass.
func (SimplifyCFG) Name() string { return "simplify-cfg" }

// Run implements Pass.
func (SimplifyCFG) Run(ctx context.Context, f *ir.Function) bool {
	if f == nil || len(f.Blocks) == 0 {
		return false
	}
	log := newRewriteLog(ctx, f)

	// Phase 1: map forwarding blocks to their final targets
	redirects := buildRedirectMap(f)

	// Phase 2: point every edge past them
	changed := applyRedirects(f, redirects)

	// Phase 3: remove dead blocks and renumber
	reachable := computeReachability(f)
	if compactBlocks(f, reachable) {
		changed = true
	}
	if changed {
		f.RebuildPreds()
		log.logf("simplify-cfg", "%d blocks left", len(f.Blocks))
	}
	return changed
}

// isForwarding reports whether b does nothing but continue to its single
// successor.
func isForwarding(f *ir.Function, b *ir.Block) bool {
	if b.ID == f.End || b.ID == f.Begin || len(b.Succs) != 1 {
		return false
	}
	switch len(b.Instrs) {
	case 0:
		return true
	case 1:
		return b.Instrs[0].Kind == ir.InstrJump
	default:
		return false
	}
}

// buildRedirectMap maps every forwarding block to the first block down its
// chain that is not forwarding. Cycles of forwarding blocks are left alone.
func buildRedirectMap(f *ir.Function) map[ir.BlockID]ir.BlockID {
	redirects := make(map[ir.BlockID]ir.BlockID)
	for _, b := range f.Blocks {
		if !isForwarding(f, b) {
			continue
		}
		target := b.Succs[0]
		visited := map[ir.BlockID]bool{b.ID: true}
		for {
			if visited[target] {
				target = ir.NoBlockID // forwarding cycle
				break
			}
			visited[target] = true
			tb := f.Block(target)
			if tb == nil || !isForwarding(f, tb) {
				break
			}
			target = tb.Succs[0]
		}
		if target != ir.NoBlockID {
			redirects[b.ID] = target
		}
	}
	return redirects
}

// applyRedirects updates every successor edge to skip forwarding blocks.
func applyRedirects(f *ir.Function, redirects map[ir.BlockID]ir.BlockID) bool {
	if len(redirects) == 0 {
		return false
	}
	changed := false
	for _, b := range f.Blocks {
		for i, s := range b.Succs {
			if to, ok := redirects[s]; ok && to != s {
				b.Succs[i] = to
				changed = true
			}
		}
	}
	return changed
}

// computeReachability marks the blocks reachable from the entry; the end
// sentinel always counts as reachable.
func computeReachability(f *ir.Function) []bool {
	reachable := make([]bool, len(f.Blocks))
	stack := []ir.BlockID{f.Begin}
	reachable[f.Begin] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range f.Blocks[id].Succs {
			if !reachable[s] {
				reachable[s] = true
				stack = append(stack, s)
			}
		}
	}
	if f.End != ir.NoBlockID {
		reachable[f.End] = true
	}
	return reachable
}

// compactBlocks removes unreachable blocks and renumbers the remaining ones.
func compactBlocks(f *ir.Function, reachable []bool) bool {
	count := 0
	for _, r := range reachable {
		if r {
			count++
		}
	}
	if count == len(f.Blocks) {
		return false
	}

	oldToNew := make(map[ir.BlockID]ir.BlockID, count)
	kept := make([]*ir.Block, 0, count)
	for i, keep := range reachable {
		if keep {
			oldToNew[ir.BlockID(i)] = ir.BlockID(len(kept)) //nolint:gosec // bounded by existing block count
			kept = append(kept, f.Blocks[i])
		}
	}
	remap := func(id ir.BlockID) ir.BlockID {
		if to, ok := oldToNew[id]; ok {
			return to
		}
		ir.Faultf("SimplifyCFG", "function %s: edge to removed block bb%d", f.Name, id)
		return ir.NoBlockID
	}

	for i, b := range kept {
		b.ID = ir.BlockID(i) //nolint:gosec // bounded by kept length
		for j, s := range b.Succs {
			b.Succs[j] = remap(s)
		}
	}
	f.Blocks = kept
	f.Begin = remap(f.Begin)
	if f.End != ir.NoBlockID {
		f.End = remap(f.End)
	}
	f.ResetAnalysis()
	return true
}
