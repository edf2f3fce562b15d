package ir

// Roots returns the top-level expressions of in: assignment targets then the
// value, the call, the returned values, or the branch condition.
func (in *Instr) Roots() []*Expr {
	switch in.Kind {
	case InstrAssign:
		out := make([]*Expr, 0, len(in.Assign.Targets)+1)
		out = append(out, in.Assign.Targets...)
		return append(out, in.Assign.Value)
	case InstrCall:
		return []*Expr{in.Call.Call}
	case InstrReturn:
		return in.Return.Values
	case InstrCond:
		return []*Expr{in.Cond.Cond}
	case InstrJump:
		return nil
	default:
		Faultf("Instr.Roots", "unhandled instruction kind %d", in.Kind)
		return nil
	}
}

// WalkExpr calls fn for e and its sub-expressions in evaluation order. When
// fn returns false the children of that node are skipped.
func WalkExpr(e *Expr, fn func(*Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch e.Kind {
	case ExprRef:
		walkExprs(e.Ref.Keys, fn)
	case ExprIndex:
		WalkExpr(e.Index.Base, fn)
		walkExprs(e.Index.Keys, fn)
	case ExprConst, ExprClosure, ExprVararg:
	case ExprCall:
		WalkExpr(e.Call.Callee, fn)
		walkExprs(e.Call.Args, fn)
	case ExprBinary:
		WalkExpr(e.Binary.Left, fn)
		WalkExpr(e.Binary.Right, fn)
	case ExprUnary:
		WalkExpr(e.Unary.Operand, fn)
	case ExprTable:
		walkExprs(e.Table.Array, fn)
		for _, f := range e.Table.Fields {
			WalkExpr(f.Key, fn)
			WalkExpr(f.Value, fn)
		}
	default:
		Faultf("WalkExpr", "unhandled expression kind %d", e.Kind)
	}
}

func walkExprs(list []*Expr, fn func(*Expr) bool) {
	for _, e := range list {
		WalkExpr(e, fn)
	}
}
