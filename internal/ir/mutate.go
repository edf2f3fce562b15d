package ir

// Defines returns the identifiers in assigns. With registersOnly, upvalues
// and globals are left out.
func (in *Instr) Defines(registersOnly bool) IdentSet {
	out := NewIdentSet()
	switch in.Kind {
	case InstrAssign:
		for _, t := range in.Assign.Targets {
			if t.IsPlainRef() && admit(t.Ref.Ident, registersOnly) {
				out.Add(t.Ref.Ident)
			}
		}
	case InstrCall, InstrReturn, InstrCond, InstrJump:
	default:
		Faultf("Instr.Defines", "unhandled instruction kind %d", in.Kind)
	}
	return out
}

// Uses returns the identifiers in reads, including index sub-expressions
// and the base of indexed targets.
func (in *Instr) Uses(registersOnly bool) IdentSet {
	out := NewIdentSet()
	in.eachUse(func(id *Identifier) {
		if admit(id, registersOnly) {
			out.Add(id)
		}
	})
	return out
}

// OrderedUses returns the identifiers in reads in evaluation order without
// duplicates.
func (in *Instr) OrderedUses(registersOnly bool) []*Identifier {
	var out []*Identifier
	seen := NewIdentSet()
	in.eachUse(func(id *Identifier) {
		if admit(id, registersOnly) && seen.Add(id) {
			out = append(out, id)
		}
	})
	return out
}

// CountUses returns how many times in reads id.
func (in *Instr) CountUses(id *Identifier) int {
	n := 0
	in.eachUse(func(u *Identifier) {
		if u == id {
			n++
		}
	})
	return n
}

func admit(id *Identifier, registersOnly bool) bool {
	return id != nil && (!registersOnly || id.Kind == IdentRegister)
}

func (in *Instr) eachUse(fn func(*Identifier)) {
	switch in.Kind {
	case InstrAssign:
		walkUses(in.Assign.Value, fn)
		for _, t := range in.Assign.Targets {
			walkTargetUses(t, fn)
		}
	case InstrCall:
		walkUses(in.Call.Call, fn)
	case InstrReturn:
		for _, v := range in.Return.Values {
			walkUses(v, fn)
		}
	case InstrCond:
		walkUses(in.Cond.Cond, fn)
	case InstrJump:
	default:
		Faultf("Instr.Uses", "unhandled instruction kind %d", in.Kind)
	}
}

// walkTargetUses visits the reads performed by an assignment target: an
// unindexed reference is a pure write.
func walkTargetUses(t *Expr, fn func(*Identifier)) {
	if t.IsPlainRef() {
		return
	}
	walkUses(t, fn)
}

func walkUses(e *Expr, fn func(*Identifier)) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprRef:
		fn(e.Ref.Ident)
		walkList(e.Ref.Keys, fn)
	case ExprIndex:
		walkUses(e.Index.Base, fn)
		walkList(e.Index.Keys, fn)
	case ExprConst, ExprClosure, ExprVararg:
	case ExprCall:
		walkUses(e.Call.Callee, fn)
		walkList(e.Call.Args, fn)
	case ExprBinary:
		walkUses(e.Binary.Left, fn)
		walkUses(e.Binary.Right, fn)
	case ExprUnary:
		walkUses(e.Unary.Operand, fn)
	case ExprTable:
		walkList(e.Table.Array, fn)
		for _, f := range e.Table.Fields {
			walkUses(f.Key, fn)
			walkUses(f.Value, fn)
		}
	default:
		Faultf("walkUses", "unhandled expression kind %d", e.Kind)
	}
}

func walkList(list []*Expr, fn func(*Identifier)) {
	for _, e := range list {
		walkUses(e, fn)
	}
}

// ReplaceUses substitutes a clone of with for every read of old in in. It
// reports whether anything was replaced. Unindexed assignment targets are
// definitions and are left alone.
func (in *Instr) ReplaceUses(old *Identifier, with *Expr) bool {
	replaced := false
	switch in.Kind {
	case InstrAssign:
		replaced = replaceIn(&in.Assign.Value, old, with)
		for i := range in.Assign.Targets {
			if in.Assign.Targets[i].IsPlainRef() {
				continue
			}
			if replaceIn(&in.Assign.Targets[i], old, with) {
				replaced = true
			}
		}
	case InstrCall:
		replaced = replaceIn(&in.Call.Call, old, with)
	case InstrReturn:
		replaced = replaceList(in.Return.Values, old, with)
	case InstrCond:
		replaced = replaceIn(&in.Cond.Cond, old, with)
	case InstrJump:
	default:
		Faultf("Instr.ReplaceUses", "unhandled instruction kind %d", in.Kind)
	}
	return replaced
}

func replaceList(list []*Expr, old *Identifier, with *Expr) bool {
	replaced := false
	for i := range list {
		if replaceIn(&list[i], old, with) {
			replaced = true
		}
	}
	return replaced
}

func replaceIn(slot **Expr, old *Identifier, with *Expr) bool {
	e := *slot
	if e == nil {
		return false
	}
	switch e.Kind {
	case ExprRef:
		replaced := replaceList(e.Ref.Keys, old, with)
		if e.Ref.Ident != old {
			return replaced
		}
		*slot = reindex(with.Clone(), e.Ref.Keys)
		return true
	case ExprIndex:
		replaced := replaceIn(&e.Index.Base, old, with)
		if replaceList(e.Index.Keys, old, with) {
			replaced = true
		}
		return replaced
	case ExprConst, ExprClosure, ExprVararg:
		return false
	case ExprCall:
		replaced := replaceIn(&e.Call.Callee, old, with)
		if replaceList(e.Call.Args, old, with) {
			replaced = true
		}
		return replaced
	case ExprBinary:
		l := replaceIn(&e.Binary.Left, old, with)
		r := replaceIn(&e.Binary.Right, old, with)
		return l || r
	case ExprUnary:
		return replaceIn(&e.Unary.Operand, old, with)
	case ExprTable:
		replaced := replaceList(e.Table.Array, old, with)
		for i := range e.Table.Fields {
			if replaceIn(&e.Table.Fields[i].Key, old, with) {
				replaced = true
			}
			if replaceIn(&e.Table.Fields[i].Value, old, with) {
				replaced = true
			}
		}
		return replaced
	default:
		Faultf("Instr.ReplaceUses", "unhandled expression kind %d", e.Kind)
		return false
	}
}

// reindex applies keys on top of base, keeping identifier references in
// the compact RefExpr form where possible.
func reindex(base *Expr, keys []*Expr) *Expr {
	if len(keys) == 0 {
		return base
	}
	switch base.Kind {
	case ExprRef:
		base.Ref.Keys = append(base.Ref.Keys, keys...)
		return base
	case ExprIndex:
		base.Index.Keys = append(base.Index.Keys, keys...)
		return base
	default:
		return Index(base, keys...)
	}
}

// Absorb merges the bookkeeping of other, which is about to be deleted, into
// in. other precedes in in program order, so its comments come first.
func (in *Instr) Absorb(other *Instr) {
	if other == nil || other == in {
		return
	}
	switch other.Kind {
	case InstrAssign, InstrCall, InstrReturn, InstrCond, InstrJump:
	default:
		Faultf("Instr.Absorb", "unhandled instruction kind %d", other.Kind)
	}
	if len(other.Comments) == 0 {
		return
	}
	merged := make([]string, 0, len(other.Comments)+len(in.Comments))
	merged = append(merged, other.Comments...)
	merged = append(merged, in.Comments...)
	in.Comments = merged
}
