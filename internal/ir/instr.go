package ir

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	// InstrAssign stores one right-hand expression into one or more targets.
	InstrAssign InstrKind = iota
	// InstrCall evaluates a call for its side effects.
	InstrCall
	// InstrReturn leaves the function.
	InstrReturn
	// InstrCond branches on an expression: Succs[0] when true, Succs[1] otherwise.
	InstrCond
	// InstrJump transfers control to the single successor.
	InstrJump
)

// String returns the string representation of InstrKind.
func (k InstrKind) String() string {
	switch k {
	case InstrAssign:
		return "assign"
	case InstrCall:
		return "call"
	case InstrReturn:
		return "return"
	case InstrCond:
		return "cond"
	case InstrJump:
		return "jump"
	default:
		return "unknown"
	}
}

// Instr is an IR instruction. Only the payload matching Kind is meaningful.
type Instr struct {
	Kind InstrKind

	PC       int      // index in the original instruction stream
	Region   int      // originating source region (line)
	Comments []string // debug-comment metadata

	Assign AssignInstr
	Call   CallInstr
	Return ReturnInstr
	Cond   CondInstr
}

// AssignInstr is Targets = Value. A target is an ExprRef or an ExprIndex;
// only unindexed references are definitions.
type AssignInstr struct {
	Targets []*Expr
	Value   *Expr

	Local           bool // declares new locals
	List            bool // multi-value target list
	SelfCall        bool // produced from a self-call sequence
	AlwaysPropagate bool // substitute regardless of use count
}

// CallInstr is a call statement; Call is an ExprCall.
type CallInstr struct {
	Call *Expr
}

// ReturnInstr returns Values; Tail marks a tail call.
type ReturnInstr struct {
	Values []*Expr
	Tail   bool
}

// CondInstr branches on Cond.
type CondInstr struct {
	Cond *Expr
}

// NewAssign returns the single assignment target = value.
func NewAssign(target, value *Expr) *Instr {
	return &Instr{Kind: InstrAssign, Assign: AssignInstr{Targets: []*Expr{target}, Value: value}}
}

// NewCallStmt returns a call statement.
func NewCallStmt(call *Expr) *Instr {
	return &Instr{Kind: InstrCall, Call: CallInstr{Call: call}}
}

// NewReturn returns a non-tail return of values.
func NewReturn(values ...*Expr) *Instr {
	return &Instr{Kind: InstrReturn, Return: ReturnInstr{Values: values}}
}

// NewCond returns a conditional branch on cond.
func NewCond(cond *Expr) *Instr {
	return &Instr{Kind: InstrCond, Cond: CondInstr{Cond: cond}}
}

// NewJump returns an unconditional jump.
func NewJump() *Instr {
	return &Instr{Kind: InstrJump}
}

// IsSingleAssign reports whether in assigns exactly one target.
func (in *Instr) IsSingleAssign() bool {
	return in != nil && in.Kind == InstrAssign && len(in.Assign.Targets) == 1 && !in.Assign.List
}

// IsListAssign reports whether in is a multi-value assignment.
func (in *Instr) IsListAssign() bool {
	return in != nil && in.Kind == InstrAssign && (in.Assign.List || len(in.Assign.Targets) > 1)
}

// SingleTarget returns the register defined by a single assignment to an
// unindexed register, or nil.
func (in *Instr) SingleTarget() *Identifier {
	if !in.IsSingleAssign() {
		return nil
	}
	t := in.Assign.Targets[0]
	if !t.IsPlainRegister() {
		return nil
	}
	return t.Ref.Ident
}

// CallSite returns the call an instruction evaluates as its right-hand side:
// the value of an assignment, a call statement, or the sole value of a tail
// return. It returns nil for anything else.
func (in *Instr) CallSite() *CallExpr {
	if in == nil {
		return nil
	}
	var e *Expr
	switch in.Kind {
	case InstrAssign:
		e = in.Assign.Value
	case InstrCall:
		e = in.Call.Call
	case InstrReturn:
		if in.Return.Tail && len(in.Return.Values) == 1 {
			e = in.Return.Values[0]
		}
	case InstrCond, InstrJump:
	default:
		Faultf("Instr.CallSite", "unhandled instruction kind %d", in.Kind)
	}
	if e == nil || e.Kind != ExprCall {
		return nil
	}
	return &e.Call
}
