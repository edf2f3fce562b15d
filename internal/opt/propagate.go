package opt

import (
	"context"

	"unlua/internal/analysis"
	"unlua/internal/ir"
)

// Propagate substitutes single-use register definitions into their uses to
// rebuild nested expressions, and folds the register shuffles the compiler
// emits around method calls and tail calls. It repeats until a full round
// finds nothing to rewrite.
type Propagate struct{}

// Name implements Pass.
func (Propagate) Name() string { return "propagate" }

// Run implements Pass.
func (Propagate) Run(ctx context.Context, f *ir.Function) bool {
	p := &propagator{f: f, log: newRewriteLog(ctx, f)}
	changed := false
	// every productive round deletes an instruction or a register read
	limit := f.NumInstrs() + registerReads(f) + 1
	for round := 0; ; round++ {
		if round > limit {
			ir.Faultf("opt.Propagate", "function %s: no fixed point after %d rounds", f.Name, round)
		}
		a := p.substitute()
		b := p.foldCalls()
		if !a && !b {
			return changed
		}
		changed = true
	}
}

type propagator struct {
	f      *ir.Function
	log    rewriteLog
	du     *analysis.DefUse
	locals ir.IdentSet
}

func (p *propagator) refresh() {
	p.du = analysis.ComputeDefUse(p.f)
	p.locals = analysis.Locals(p.f)
}

// substitute runs one round of definition substitution over every
// instruction that is not first in its block.
func (p *propagator) substitute() bool {
	p.refresh()
	changed := false
	for _, b := range p.f.Blocks {
		for i := 1; i < len(b.Instrs); i++ {
			inst := b.Instrs[i]
			for p.substituteOne(b, inst) {
				changed = true
			}
			// deleting a definition from this block shifts inst left
			i = b.IndexOf(inst)
		}
	}
	return changed
}

// substituteOne performs the first legal substitution into inst, scanning its
// register reads in evaluation order.
func (p *propagator) substituteOne(b *ir.Block, inst *ir.Instr) bool {
	for _, use := range inst.OrderedUses(true) {
		def := p.du.Def(use)
		if !p.canSubstitute(b, inst, use, def) {
			continue
		}
		remaining := p.du.UseCount(use) - inst.CountUses(use)
		p.f.ReplaceUses(inst, use, def.Assign.Value)
		if remaining > 0 {
			// an always-propagated definition stays until its last reader
			p.log.logf("substitute", "%s := %s into pc %d, %d reads left", use, ir.ExprString(def.Assign.Value), inst.PC, remaining)
			p.refresh()
			return true
		}

		defBlock := p.f.Block(p.du.DefBlock(use))
		idx := defBlock.IndexOf(def)
		inst.Absorb(def)
		p.f.RemoveInstr(defBlock.ID, idx)
		p.f.Vars.Remove(use)
		p.log.logf("substitute", "%s := %s into pc %d", use, ir.ExprString(def.Assign.Value), inst.PC)

		p.refresh()
		return true
	}
	return false
}

func (p *propagator) canSubstitute(b *ir.Block, inst *ir.Instr, use *ir.Identifier, def *ir.Instr) bool {
	if def == nil || def == inst || !def.IsSingleAssign() || def.Assign.Local || def.Assign.Value == nil {
		return false
	}
	if def.SingleTarget() != use {
		return false
	}

	if def.CountUses(use) > 0 {
		return false
	}

	// Deleting def is only sound when inst holds every read of use, and
	// cloning a value into several reads must not duplicate identifier reads.
	// Always-propagated definitions are exempt: they are copied into each
	// reader and deleted with the last one.
	always := def.Assign.AlwaysPropagate
	useCount := p.du.UseCount(use)
	inInst := inst.CountUses(use)
	if !always {
		if inInst != useCount {
			return false
		}
		if inInst > 1 && def.Assign.Value.Kind != ir.ExprConst {
			return false
		}
	}

	defBlockID := p.du.DefBlock(use)
	instIdx := b.IndexOf(inst)
	var prev *ir.Instr
	if instIdx > 0 {
		prev = b.Instrs[instIdx-1]
	}
	if defBlockID == b.ID {
		defIdx := b.IndexOf(def)
		if defIdx < 0 || defIdx > instIdx {
			return false
		}
		if clobbered(b.Instrs[defIdx+1:instIdx], def.Assign.Value) {
			return false
		}
	}

	legal := always ||
		p.singleUseLegal(inst, use, def, prev, useCount) ||
		localRedeclaration(inst, use)
	if !legal {
		return false
	}

	// The callee of inst was resolved at CalleePC; hoisting def past that
	// point would reorder the lookup.
	if !always {
		if cs := inst.CallSite(); cs != nil && cs.CalleePC > def.PC {
			return false
		}
	}
	// A call result returned by a plain return would have been compiled as a
	// tail call; keep the two apart.
	if def.Assign.Value.Kind == ir.ExprCall && inst.Kind == ir.InstrReturn && !inst.Return.Tail &&
		len(inst.Return.Values) == 1 && inst.Return.Values[0].IsPlainRef() {
		return false
	}
	return true
}

// singleUseLegal covers a read that is the only one of its register: def
// sits right before inst (or feeds a table list) on the same source line, or
// inst is a multi-value assignment. Declared locals are never inlined this
// way.
func (p *propagator) singleUseLegal(inst *ir.Instr, use *ir.Identifier, def, prev *ir.Instr, useCount int) bool {
	if useCount != 1 || p.locals.Contains(use) {
		return false
	}
	adjacent := (prev == def || p.du.IsListElement(def)) && def.Region == inst.Region
	return adjacent || inst.IsListAssign()
}

// localRedeclaration covers "local rN = ..." reading the temporary held in
// the same register slot.
func localRedeclaration(inst *ir.Instr, use *ir.Identifier) bool {
	if inst.Kind != ir.InstrAssign || !inst.Assign.Local || !inst.IsSingleAssign() {
		return false
	}
	t := inst.Assign.Targets[0]
	return t.IsPlainRegister() && t.Ref.Ident.Slot == use.Slot
}

// clobbered reports whether any of between writes an identifier that value
// reads.
func clobbered(between []*ir.Instr, value *ir.Expr) bool {
	if len(between) == 0 {
		return false
	}
	reads := ir.NewIdentSet()
	ir.WalkExpr(value, func(e *ir.Expr) bool {
		if e.Kind == ir.ExprRef {
			reads.Add(e.Ref.Ident)
		}
		return true
	})
	for _, in := range between {
		for _, id := range in.Defines(false).ToSlice() {
			if reads.Contains(id) {
				return true
			}
		}
	}
	return false
}

// foldCalls collapses "R = x" directly followed by a call whose receiver
// argument is R, where the call holds both reads of R:
//
//	r1 = @obj
//	r1.m(r1, a)     =>    @obj:m(a)
//
// The call may be a statement, the value of an assignment or the sole value
// of a tail return.
func (p *propagator) foldCalls() bool {
	p.refresh()
	changed := false
	for _, b := range p.f.Blocks {
		for i := 0; i+1 < len(b.Instrs); {
			if !p.foldAt(b, i) {
				i++
				continue
			}
			changed = true
			p.refresh()
		}
	}
	return changed
}

func (p *propagator) foldAt(b *ir.Block, i int) bool {
	a, c := b.Instrs[i], b.Instrs[i+1]
	if !a.IsSingleAssign() || a.Assign.Local || a.Assign.Value == nil {
		return false
	}
	reg := a.SingleTarget()
	if reg == nil || p.du.Def(reg) != a {
		return false
	}
	switch a.Assign.Value.Kind {
	case ir.ExprRef, ir.ExprConst:
	default:
		return false
	}
	cs := c.CallSite()
	if cs == nil || len(cs.Args) == 0 || !cs.Args[0].RefersTo(reg) {
		return false
	}
	if p.du.UseCount(reg) != 2 || c.CountUses(reg) != 2 {
		return false
	}

	p.f.ReplaceUses(c, reg, a.Assign.Value)
	c.Absorb(a)
	p.f.RemoveInstr(b.ID, i)
	p.f.Vars.Remove(reg)
	p.log.logf("fold-call", "%s := %s into pc %d", reg, ir.ExprString(a.Assign.Value), c.PC)
	return true
}

// registerReads counts the register reads of every instruction in f.
func registerReads(f *ir.Function) int {
	n := 0
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for _, id := range in.OrderedUses(true) {
				n += in.CountUses(id)
			}
		}
	}
	return n
}
