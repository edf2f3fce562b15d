package ir

// ExprKind enumerates expression kinds.
type ExprKind uint8

const (
	// ExprRef reads an identifier, optionally indexed: r0, r0[k1][k2].
	ExprRef ExprKind = iota
	// ExprIndex indexes an arbitrary base expression: f()[k].
	ExprIndex
	// ExprConst is a literal.
	ExprConst
	// ExprCall is a function call.
	ExprCall
	// ExprBinary is a binary operation.
	ExprBinary
	// ExprUnary is a unary operation.
	ExprUnary
	// ExprTable is a table constructor.
	ExprTable
	// ExprClosure instantiates a child function.
	ExprClosure
	// ExprVararg is the variadic argument list.
	ExprVararg
)

// String returns the string representation of ExprKind.
func (k ExprKind) String() string {
	switch k {
	case ExprRef:
		return "ref"
	case ExprIndex:
		return "index"
	case ExprConst:
		return "const"
	case ExprCall:
		return "call"
	case ExprBinary:
		return "binary"
	case ExprUnary:
		return "unary"
	case ExprTable:
		return "table"
	case ExprClosure:
		return "closure"
	case ExprVararg:
		return "vararg"
	default:
		return "unknown"
	}
}

// Expr is an expression tree node. Only the payload matching Kind is
// meaningful. An expression tree is owned by exactly one instruction.
type Expr struct {
	Kind ExprKind

	Ref     RefExpr
	Index   IndexExpr
	Const   Const
	Call    CallExpr
	Binary  BinaryExpr
	Unary   UnaryExpr
	Table   TableExpr
	Closure ClosureExpr
}

// RefExpr reads Ident, then indexes the result by each key in turn.
type RefExpr struct {
	Ident *Identifier
	Keys  []*Expr
}

// IndexExpr indexes Base by each key in turn.
type IndexExpr struct {
	Base *Expr
	Keys []*Expr
}

// ConstKind enumerates literal kinds.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstNumber
	ConstString
)

// Const is a literal value.
type Const struct {
	Kind   ConstKind
	Bool   bool
	Number float64
	String string
}

// CallExpr is a call of Callee with Args.
type CallExpr struct {
	Callee *Expr
	Args   []*Expr

	// CalleePC is the original instruction index at which the callee value
	// was resolved, -1 when unknown.
	CalleePC int
	// Method marks a self call: Args[0] is the receiver.
	Method bool
}

// BinaryOp enumerates binary operators.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpIDiv
	OpMod
	OpPow
	OpConcat
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

var binaryOpText = [...]string{
	OpAdd:    "+",
	OpSub:    "-",
	OpMul:    "*",
	OpDiv:    "/",
	OpIDiv:   "//",
	OpMod:    "%",
	OpPow:    "^",
	OpConcat: "..",
	OpEq:     "==",
	OpNe:     "~=",
	OpLt:     "<",
	OpLe:     "<=",
	OpGt:     ">",
	OpGe:     ">=",
	OpAnd:    "and",
	OpOr:     "or",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpText) {
		return binaryOpText[op]
	}
	return "?"
}

// Precedence returns the binding strength of op; higher binds tighter.
func (op BinaryOp) Precedence() int {
	switch op {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return 3
	case OpConcat:
		return 4
	case OpAdd, OpSub:
		return 5
	case OpMul, OpDiv, OpIDiv, OpMod:
		return 6
	case OpPow:
		return 8
	default:
		return 0
	}
}

// RightAssoc reports whether op groups right to left.
func (op BinaryOp) RightAssoc() bool {
	return op == OpConcat || op == OpPow
}

// UnaryPrecedence sits between multiplicative operators and '^'.
const UnaryPrecedence = 7

// BinaryOpFromText maps operator text back to a BinaryOp.
func BinaryOpFromText(s string) (BinaryOp, bool) {
	for i, t := range binaryOpText {
		if t == s {
			return BinaryOp(i), true
		}
	}
	return 0, false
}

// BinaryExpr is Left Op Right.
type BinaryExpr struct {
	Op    BinaryOp
	Left  *Expr
	Right *Expr
}

// UnaryOp enumerates unary operators.
type UnaryOp uint8

const (
	OpNeg UnaryOp = iota
	OpNot
	OpLen
)

func (op UnaryOp) String() string {
	switch op {
	case OpNeg:
		return "-"
	case OpNot:
		return "not "
	case OpLen:
		return "#"
	default:
		return "?"
	}
}

// UnaryExpr is Op Operand.
type UnaryExpr struct {
	Op      UnaryOp
	Operand *Expr
}

// TableField is a keyed entry of a table constructor.
type TableField struct {
	Key   *Expr
	Value *Expr
}

// TableExpr is a table constructor. Array holds the positional (list)
// entries.
type TableExpr struct {
	Array  []*Expr
	Fields []TableField
}

// ClosureExpr instantiates Function.Children[Child].
type ClosureExpr struct {
	Child int
}

// Ref returns a reference to id indexed by keys.
func Ref(id *Identifier, keys ...*Expr) *Expr {
	return &Expr{Kind: ExprRef, Ref: RefExpr{Ident: id, Keys: keys}}
}

// Index returns base indexed by keys.
func Index(base *Expr, keys ...*Expr) *Expr {
	return &Expr{Kind: ExprIndex, Index: IndexExpr{Base: base, Keys: keys}}
}

// Nil returns the nil literal.
func Nil() *Expr { return &Expr{Kind: ExprConst, Const: Const{Kind: ConstNil}} }

// Bool returns a boolean literal.
func Bool(v bool) *Expr { return &Expr{Kind: ExprConst, Const: Const{Kind: ConstBool, Bool: v}} }

// Number returns a numeric literal.
func Number(v float64) *Expr {
	return &Expr{Kind: ExprConst, Const: Const{Kind: ConstNumber, Number: v}}
}

// String returns a string literal.
func String(v string) *Expr {
	return &Expr{Kind: ExprConst, Const: Const{Kind: ConstString, String: v}}
}

// Call returns a call of callee with args and an unknown callee PC.
func Call(callee *Expr, args ...*Expr) *Expr {
	return &Expr{Kind: ExprCall, Call: CallExpr{Callee: callee, Args: args, CalleePC: -1}}
}

// Binary returns l op r.
func Binary(op BinaryOp, l, r *Expr) *Expr {
	return &Expr{Kind: ExprBinary, Binary: BinaryExpr{Op: op, Left: l, Right: r}}
}

// Unary returns op x.
func Unary(op UnaryOp, x *Expr) *Expr {
	return &Expr{Kind: ExprUnary, Unary: UnaryExpr{Op: op, Operand: x}}
}

// Table returns a table constructor.
func Table(array []*Expr, fields []TableField) *Expr {
	return &Expr{Kind: ExprTable, Table: TableExpr{Array: array, Fields: fields}}
}

// Closure returns an instantiation of child function i.
func Closure(i int) *Expr { return &Expr{Kind: ExprClosure, Closure: ClosureExpr{Child: i}} }

// Vararg returns the '...' expression.
func Vararg() *Expr { return &Expr{Kind: ExprVararg} }

// IsPlainRef reports whether e is an unindexed identifier reference.
func (e *Expr) IsPlainRef() bool {
	return e != nil && e.Kind == ExprRef && len(e.Ref.Keys) == 0
}

// IsPlainRegister reports whether e is an unindexed register reference.
func (e *Expr) IsPlainRegister() bool {
	return e.IsPlainRef() && e.Ref.Ident.IsRegister()
}

// RefersTo reports whether e is an unindexed reference to id.
func (e *Expr) RefersTo(id *Identifier) bool {
	return e.IsPlainRef() && e.Ref.Ident == id
}

// Clone returns a deep copy of e. Identifiers are shared, not copied.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	out := &Expr{Kind: e.Kind}
	switch e.Kind {
	case ExprRef:
		out.Ref = RefExpr{Ident: e.Ref.Ident, Keys: cloneExprs(e.Ref.Keys)}
	case ExprIndex:
		out.Index = IndexExpr{Base: e.Index.Base.Clone(), Keys: cloneExprs(e.Index.Keys)}
	case ExprConst:
		out.Const = e.Const
	case ExprCall:
		out.Call = e.Call
		out.Call.Callee = e.Call.Callee.Clone()
		out.Call.Args = cloneExprs(e.Call.Args)
	case ExprBinary:
		out.Binary = BinaryExpr{Op: e.Binary.Op, Left: e.Binary.Left.Clone(), Right: e.Binary.Right.Clone()}
	case ExprUnary:
		out.Unary = UnaryExpr{Op: e.Unary.Op, Operand: e.Unary.Operand.Clone()}
	case ExprTable:
		out.Table.Array = cloneExprs(e.Table.Array)
		if len(e.Table.Fields) > 0 {
			out.Table.Fields = make([]TableField, len(e.Table.Fields))
			for i, f := range e.Table.Fields {
				out.Table.Fields[i] = TableField{Key: f.Key.Clone(), Value: f.Value.Clone()}
			}
		}
	case ExprClosure:
		out.Closure = e.Closure
	case ExprVararg:
	default:
		Faultf("Expr.Clone", "unhandled expression kind %d", e.Kind)
	}
	return out
}

func cloneExprs(list []*Expr) []*Expr {
	if len(list) == 0 {
		return nil
	}
	out := make([]*Expr, len(list))
	for i, e := range list {
		out[i] = e.Clone()
	}
	return out
}

// Equal reports structural equality of a and b.
func Equal(a, b *Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ExprRef:
		return a.Ref.Ident == b.Ref.Ident && equalExprs(a.Ref.Keys, b.Ref.Keys)
	case ExprIndex:
		return Equal(a.Index.Base, b.Index.Base) && equalExprs(a.Index.Keys, b.Index.Keys)
	case ExprConst:
		return a.Const == b.Const
	case ExprCall:
		return a.Call.Method == b.Call.Method && a.Call.CalleePC == b.Call.CalleePC &&
			Equal(a.Call.Callee, b.Call.Callee) && equalExprs(a.Call.Args, b.Call.Args)
	case ExprBinary:
		return a.Binary.Op == b.Binary.Op && Equal(a.Binary.Left, b.Binary.Left) &&
			Equal(a.Binary.Right, b.Binary.Right)
	case ExprUnary:
		return a.Unary.Op == b.Unary.Op && Equal(a.Unary.Operand, b.Unary.Operand)
	case ExprTable:
		if !equalExprs(a.Table.Array, b.Table.Array) || len(a.Table.Fields) != len(b.Table.Fields) {
			return false
		}
		for i := range a.Table.Fields {
			if !Equal(a.Table.Fields[i].Key, b.Table.Fields[i].Key) ||
				!Equal(a.Table.Fields[i].Value, b.Table.Fields[i].Value) {
				return false
			}
		}
		return true
	case ExprClosure:
		return a.Closure == b.Closure
	case ExprVararg:
		return true
	default:
		Faultf("Equal", "unhandled expression kind %d", a.Kind)
		return false
	}
}

func equalExprs(a, b []*Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
