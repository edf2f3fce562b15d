package ir

import (
	"errors"
	"fmt"
	"slices"
)

// Validate checks the structural invariants of f and its closures.
// Returns error if any invariant is violated.
func Validate(f *Function) error {
	if f == nil {
		return nil
	}
	errs := []error{ValidateFunction(f)}
	for _, c := range f.Children {
		errs = append(errs, Validate(c))
	}
	return errors.Join(errs...)
}

// ValidateFunction checks f alone, leaving its closures untouched.
func ValidateFunction(f *Function) error {
	if err := validateFunc(f); err != nil {
		return fmt.Errorf("function %s: %w", f.Name, err)
	}
	return nil
}

func validateFunc(f *Function) error {
	if f.Block(f.Begin) == nil {
		return fmt.Errorf("begin block bb%d does not exist", f.Begin)
	}

	var errs []error

	// 1. Check edge targets exist and both directions agree
	if err := validateEdges(f); err != nil {
		errs = append(errs, err)
	}

	// 2. Check the end sentinel
	if err := validateEnd(f); err != nil {
		errs = append(errs, err)
	}

	// 3. Check reachability of every real block
	if err := validateReachable(f); err != nil {
		errs = append(errs, err)
	}

	// 4. Check instruction shapes
	if err := validateInstrs(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateEdges checks that every successor edge has a matching predecessor
// edge and vice versa.
func validateEdges(f *Function) error {
	var errs []error
	count := func(list []BlockID, id BlockID) int {
		n := 0
		for _, x := range list {
			if x == id {
				n++
			}
		}
		return n
	}
	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			succ := f.Block(s)
			if succ == nil {
				errs = append(errs, fmt.Errorf("bb%d: successor bb%d does not exist", b.ID, s))
				continue
			}
			if count(b.Succs, s) != count(succ.Preds, b.ID) {
				errs = append(errs, fmt.Errorf("bb%d: edge to bb%d missing from its predecessors", b.ID, s))
			}
		}
		for _, p := range b.Preds {
			pred := f.Block(p)
			if pred == nil {
				errs = append(errs, fmt.Errorf("bb%d: predecessor bb%d does not exist", b.ID, p))
				continue
			}
			if !slices.Contains(pred.Succs, b.ID) {
				errs = append(errs, fmt.Errorf("bb%d: predecessor bb%d has no edge back", b.ID, p))
			}
		}
	}
	return errors.Join(errs...)
}

func validateEnd(f *Function) error {
	if f.End == NoBlockID {
		return nil
	}
	end := f.Block(f.End)
	if end == nil {
		return fmt.Errorf("end block bb%d does not exist", f.End)
	}
	var errs []error
	if len(end.Instrs) > 0 {
		errs = append(errs, fmt.Errorf("bb%d: end block holds %d instructions", f.End, len(end.Instrs)))
	}
	if len(end.Succs) > 0 {
		errs = append(errs, fmt.Errorf("bb%d: end block has successors", f.End))
	}
	return errors.Join(errs...)
}

func validateReachable(f *Function) error {
	seen := make([]bool, len(f.Blocks))
	stack := []BlockID{f.Begin}
	seen[f.Begin] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range f.Blocks[id].Succs {
			if f.Block(s) != nil && !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	var errs []error
	for i, ok := range seen {
		if !ok && BlockID(i) != f.End { //nolint:gosec // bounded by block count
			errs = append(errs, fmt.Errorf("bb%d: unreachable from bb%d", i, f.Begin))
		}
	}
	return errors.Join(errs...)
}

func validateInstrs(f *Function) error {
	var errs []error
	for _, b := range f.Blocks {
		for i, in := range b.Instrs {
			if err := validateInstr(f, in); err != nil {
				errs = append(errs, fmt.Errorf("bb%d[%d]: %w", b.ID, i, err))
			}
		}
		if term := b.Terminator(); term != nil {
			switch term.Kind {
			case InstrCond:
				if len(b.Succs) != 2 {
					errs = append(errs, fmt.Errorf("bb%d: conditional branch needs 2 successors, has %d", b.ID, len(b.Succs)))
				}
			case InstrJump:
				if len(b.Succs) != 1 {
					errs = append(errs, fmt.Errorf("bb%d: jump needs 1 successor, has %d", b.ID, len(b.Succs)))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateInstr(f *Function, in *Instr) error {
	switch in.Kind {
	case InstrAssign:
		if len(in.Assign.Targets) == 0 {
			return errors.New("assignment without targets")
		}
		if in.Assign.Value == nil {
			return errors.New("assignment without value")
		}
		for _, t := range in.Assign.Targets {
			if t.Kind != ExprRef && t.Kind != ExprIndex {
				return fmt.Errorf("assignment target of kind %s", t.Kind)
			}
			if t.Kind == ExprIndex && len(t.Index.Keys) == 0 {
				return errors.New("index target without keys")
			}
		}
		return validateExpr(f, in.Assign.Value)
	case InstrCall:
		if in.Call.Call == nil || in.Call.Call.Kind != ExprCall {
			return errors.New("call statement without a call")
		}
		return validateExpr(f, in.Call.Call)
	case InstrReturn:
		var errs []error
		for _, v := range in.Return.Values {
			errs = append(errs, validateExpr(f, v))
		}
		return errors.Join(errs...)
	case InstrCond:
		if in.Cond.Cond == nil {
			return errors.New("conditional branch without condition")
		}
		return validateExpr(f, in.Cond.Cond)
	case InstrJump:
		return nil
	default:
		return fmt.Errorf("unknown instruction kind %d", in.Kind)
	}
}

func validateExpr(f *Function, e *Expr) error {
	if e == nil {
		return errors.New("nil expression")
	}
	if e.Kind == ExprClosure && (e.Closure.Child < 0 || e.Closure.Child >= len(f.Children)) {
		return fmt.Errorf("closure references missing child %d", e.Closure.Child)
	}
	return nil
}
