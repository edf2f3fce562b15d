package analysis

import (
	"unlua/internal/ir"
)

// DefUse holds def-use facts for one function at one mutation epoch.
// Queries against a DefUse older than the function panic with an
// *ir.InternalError.
type DefUse struct {
	f     *ir.Function
	epoch uint64

	defs     map[*ir.Identifier]int
	def      map[*ir.Identifier]*ir.Instr
	defBlock map[*ir.Identifier]ir.BlockID
	uses     map[*ir.Identifier]int
	listRegs ir.IdentSet
}

// ComputeDefUse scans every instruction of f, counts definitions and reads
// of every identifier, and sets Identifier.Def to the unique defining
// instruction (nil when there is none or more than one). Parameters count as
// defined on entry.
func ComputeDefUse(f *ir.Function) *DefUse {
	du := &DefUse{
		f:        f,
		epoch:    f.Epoch(),
		defs:     make(map[*ir.Identifier]int),
		def:      make(map[*ir.Identifier]*ir.Instr),
		defBlock: make(map[*ir.Identifier]ir.BlockID),
		uses:     make(map[*ir.Identifier]int),
		listRegs: ir.NewIdentSet(),
	}
	for _, p := range f.Params {
		du.defs[p]++
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for id := range in.Defines(false).Iter() {
				du.defs[id]++
				du.def[id] = in
				du.defBlock[id] = b.ID
			}
			for _, id := range in.OrderedUses(false) {
				du.uses[id] += in.CountUses(id)
			}
			for _, root := range in.Roots() {
				ir.WalkExpr(root, du.noteListElements)
			}
		}
	}
	for _, id := range f.Idents() {
		id.Def = nil
		if du.defs[id] == 1 {
			id.Def = du.def[id]
		}
	}
	f.Stamp(ir.AnalysisDefUse)
	return du
}

// noteListElements records registers placed directly in the positional part
// of a table constructor.
func (du *DefUse) noteListElements(e *ir.Expr) bool {
	if e.Kind != ir.ExprTable {
		return true
	}
	for _, item := range e.Table.Array {
		if item.IsPlainRegister() {
			du.listRegs.Add(item.Ref.Ident)
		}
	}
	return true
}

func (du *DefUse) check(op string) {
	if du.epoch != du.f.Epoch() {
		ir.Faultf(op, "function %s: def-use computed at epoch %d, function is at %d", du.f.Name, du.epoch, du.f.Epoch())
	}
}

// Fresh reports whether f has not been mutated since du was computed.
func (du *DefUse) Fresh() bool {
	return du != nil && du.epoch == du.f.Epoch()
}

// Def returns the unique instruction defining id, or nil.
func (du *DefUse) Def(id *ir.Identifier) *ir.Instr {
	du.check("DefUse.Def")
	if du.defs[id] != 1 {
		return nil
	}
	return du.def[id]
}

// DefBlock returns the block holding the unique definition of id, or
// NoBlockID.
func (du *DefUse) DefBlock(id *ir.Identifier) ir.BlockID {
	du.check("DefUse.DefBlock")
	if du.defs[id] != 1 {
		return ir.NoBlockID
	}
	if b, ok := du.defBlock[id]; ok {
		return b
	}
	return ir.NoBlockID
}

// DefCount returns how many times id is defined, parameters counting once.
func (du *DefUse) DefCount(id *ir.Identifier) int {
	du.check("DefUse.DefCount")
	return du.defs[id]
}

// UseCount returns how many times id is read across the function.
func (du *DefUse) UseCount(id *ir.Identifier) int {
	du.check("DefUse.UseCount")
	return du.uses[id]
}

// IsListElement reports whether in defines a register that feeds a
// positional entry of a table constructor.
func (du *DefUse) IsListElement(in *ir.Instr) bool {
	du.check("DefUse.IsListElement")
	id := in.SingleTarget()
	return id != nil && du.listRegs.Contains(id)
}

// Locals returns the identifiers known to be source-level locals: the
// parameters and the targets of local declarations.
func Locals(f *ir.Function) ir.IdentSet {
	out := ir.NewIdentSet(f.Params...)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == ir.InstrAssign && in.Assign.Local {
				out = out.Union(in.Defines(false))
			}
		}
	}
	return out
}
