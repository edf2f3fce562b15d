package ir

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// PrintOptions configures IR dumping.
type PrintOptions struct {
	Color bool
}

// Fprint writes a human-readable representation of f and its closures. The
// output is accepted back by the irtext parser.
func Fprint(w io.Writer, f *Function, opts PrintOptions) error {
	if w == nil || f == nil {
		return nil
	}
	p := newPrinter(opts)
	p.function(f, "")
	_, err := io.WriteString(w, p.sb.String())
	return err
}

// Sprint returns the dump of f without color.
func Sprint(f *Function) string {
	var sb strings.Builder
	_ = Fprint(&sb, f, PrintOptions{}) //nolint:errcheck // strings.Builder never fails
	return sb.String()
}

// ExprString renders e in dump syntax.
func ExprString(e *Expr) string {
	p := newPrinter(PrintOptions{})
	p.expr(e)
	return p.sb.String()
}

// InstrString renders in in dump syntax, without the pc:region prefix.
func InstrString(in *Instr) string {
	p := newPrinter(PrintOptions{})
	p.instr(in)
	return p.sb.String()
}

type printer struct {
	sb      strings.Builder
	keyword func(a ...interface{}) string
	label   func(a ...interface{}) string
	comment func(a ...interface{}) string
}

func newPrinter(opts PrintOptions) *printer {
	plain := func(a ...interface{}) string { return fmt.Sprint(a...) }
	p := &printer{keyword: plain, label: plain, comment: plain}
	if opts.Color {
		kw := color.New(color.FgMagenta, color.Bold)
		lb := color.New(color.FgYellow)
		cm := color.New(color.FgHiBlack)
		for _, c := range []*color.Color{kw, lb, cm} {
			c.EnableColor()
		}
		p.keyword = kw.SprintFunc()
		p.label = lb.SprintFunc()
		p.comment = cm.SprintFunc()
	}
	return p
}

func (p *printer) function(f *Function, parent string) {
	p.sb.WriteString(p.keyword("function"))
	p.sb.WriteString(" " + f.Name + "(")
	for i, prm := range f.Params {
		if i > 0 {
			p.sb.WriteString(", ")
		}
		p.sb.WriteString(prm.Name)
	}
	if f.Vararg {
		if len(f.Params) > 0 {
			p.sb.WriteString(", ")
		}
		p.sb.WriteString("...")
	}
	p.sb.WriteString(")")
	if parent != "" {
		p.sb.WriteString(" " + p.keyword("in") + " " + parent)
	}
	p.sb.WriteString("\n")
	for _, uv := range f.UpValues {
		from := "up"
		if uv.InStack {
			from = "stack"
		}
		fmt.Fprintf(&p.sb, "  %s %s %s %d\n", p.keyword("upval"), uv.Name, from, uv.Index)
	}
	for _, b := range f.Blocks {
		p.block(f, b)
	}
	p.sb.WriteString(p.keyword("end") + "\n")
	for _, c := range f.Children {
		p.sb.WriteString("\n")
		p.function(c, f.Name)
	}
}

func (p *printer) block(f *Function, b *Block) {
	p.sb.WriteString(p.label(fmt.Sprintf("bb%d", b.ID)))
	if len(b.Succs) > 0 {
		p.sb.WriteString(" ->")
		for i, s := range b.Succs {
			if i > 0 {
				p.sb.WriteString(",")
			}
			p.sb.WriteString(" " + p.label(fmt.Sprintf("bb%d", s)))
		}
	}
	if b.ID == f.End {
		p.sb.WriteString(" " + p.keyword("exit"))
	}
	p.sb.WriteString("\n")
	for _, in := range b.Instrs {
		fmt.Fprintf(&p.sb, "  %d:%d ", in.PC, in.Region)
		p.instr(in)
		for _, c := range in.Comments {
			p.sb.WriteString(" " + p.comment("-- "+c))
		}
		p.sb.WriteString("\n")
	}
}

func (p *printer) instr(in *Instr) {
	switch in.Kind {
	case InstrAssign:
		a := &in.Assign
		if a.Local {
			p.sb.WriteString(p.keyword("local") + " ")
		}
		p.exprList(a.Targets)
		p.sb.WriteString(" = ")
		p.expr(a.Value)
		if a.List {
			p.sb.WriteString(" !list")
		}
		if a.SelfCall {
			p.sb.WriteString(" !self")
		}
		if a.AlwaysPropagate {
			p.sb.WriteString(" !always")
		}
	case InstrCall:
		p.expr(in.Call.Call)
	case InstrReturn:
		p.sb.WriteString(p.keyword("return"))
		if len(in.Return.Values) > 0 {
			p.sb.WriteString(" ")
			p.exprList(in.Return.Values)
		}
		if in.Return.Tail {
			p.sb.WriteString(" !tail")
		}
	case InstrCond:
		p.sb.WriteString(p.keyword("if") + " ")
		p.expr(in.Cond.Cond)
	case InstrJump:
		p.sb.WriteString(p.keyword("jump"))
	default:
		Faultf("Fprint", "unhandled instruction kind %d", in.Kind)
	}
}

func (p *printer) exprList(list []*Expr) {
	for i, e := range list {
		if i > 0 {
			p.sb.WriteString(", ")
		}
		p.expr(e)
	}
}

func (p *printer) expr(e *Expr) {
	if e == nil {
		p.sb.WriteString("<nil>")
		return
	}
	switch e.Kind {
	case ExprRef:
		p.sb.WriteString(e.Ref.Ident.String())
		p.keys(e.Ref.Keys)
	case ExprIndex:
		p.operand(e.Index.Base)
		p.keys(e.Index.Keys)
	case ExprConst:
		p.constant(e.Const)
	case ExprCall:
		p.call(&e.Call)
	case ExprBinary:
		b := &e.Binary
		prec := b.Op.Precedence()
		// a prefixed left operand of '^' would bind the operator to its operand
		leftParens := needsParens(b.Left, prec, b.Op.RightAssoc()) || (prec > UnaryPrecedence && isPrefixed(b.Left))
		p.wrapped(b.Left, leftParens)
		p.sb.WriteString(" " + b.Op.String() + " ")
		p.wrapped(b.Right, needsParens(b.Right, prec, !b.Op.RightAssoc()))
	case ExprUnary:
		p.sb.WriteString(e.Unary.Op.String())
		x := e.Unary.Operand
		parens := x != nil && x.Kind == ExprBinary && x.Binary.Op.Precedence() <= UnaryPrecedence
		// "--" opens a comment, and "-2" reads back as a literal
		if e.Unary.Op == OpNeg && (isPrefixed(x) || (x != nil && x.Kind == ExprConst && x.Const.Kind == ConstNumber)) {
			parens = true
		}
		p.wrapped(x, parens)
	case ExprTable:
		p.table(&e.Table)
	case ExprClosure:
		fmt.Fprintf(&p.sb, "%s %d", p.keyword("closure"), e.Closure.Child)
	case ExprVararg:
		p.sb.WriteString("...")
	default:
		Faultf("Fprint", "unhandled expression kind %d", e.Kind)
	}
}

func needsParens(child *Expr, prec int, sameSideAssoc bool) bool {
	if child == nil || child.Kind != ExprBinary {
		return false
	}
	cp := child.Binary.Op.Precedence()
	return cp < prec || (cp == prec && sameSideAssoc)
}

// isPrefixed reports whether e prints with a leading unary operator.
func isPrefixed(e *Expr) bool {
	if e == nil {
		return false
	}
	return e.Kind == ExprUnary || (e.Kind == ExprConst && e.Const.Kind == ConstNumber && math.Signbit(e.Const.Number))
}

func (p *printer) wrapped(e *Expr, parens bool) {
	if parens {
		p.sb.WriteString("(")
	}
	p.expr(e)
	if parens {
		p.sb.WriteString(")")
	}
}

// operand prints e in prefix position (callee or indexed base).
func (p *printer) operand(e *Expr) {
	switch e.Kind {
	case ExprRef, ExprIndex, ExprCall:
		p.expr(e)
	default:
		p.wrapped(e, true)
	}
}

func (p *printer) keys(keys []*Expr) {
	for _, k := range keys {
		if name, ok := nameKey(k); ok {
			p.sb.WriteString("." + name)
			continue
		}
		p.sb.WriteString("[")
		p.expr(k)
		p.sb.WriteString("]")
	}
}

func (p *printer) call(c *CallExpr) {
	if recv, name, ok := methodForm(c); ok {
		p.operand(recv)
		p.sb.WriteString(":" + name + "(")
		p.exprList(c.Args[1:])
	} else {
		p.operand(c.Callee)
		p.sb.WriteString("(")
		p.exprList(c.Args)
	}
	p.sb.WriteString(")")
	if c.CalleePC >= 0 {
		fmt.Fprintf(&p.sb, "@%d", c.CalleePC)
	}
}

// methodForm reports whether c can be printed as recv:name(...): a self
// call whose callee is the receiver indexed by a name.
func methodForm(c *CallExpr) (recv *Expr, name string, ok bool) {
	if !c.Method || len(c.Args) == 0 || c.Callee == nil {
		return nil, "", false
	}
	var keys []*Expr
	var base *Expr
	switch c.Callee.Kind {
	case ExprRef:
		keys = c.Callee.Ref.Keys
		if len(keys) == 0 {
			return nil, "", false
		}
		base = Ref(c.Callee.Ref.Ident, keys[:len(keys)-1]...)
	case ExprIndex:
		keys = c.Callee.Index.Keys
		base = c.Callee.Index.Base
		if len(keys) > 1 {
			base = Index(base, keys[:len(keys)-1]...)
		}
	default:
		return nil, "", false
	}
	name, ok = nameKey(keys[len(keys)-1])
	if !ok || !Equal(base, c.Args[0]) {
		return nil, "", false
	}
	return c.Args[0], name, true
}

func (p *printer) constant(c Const) {
	switch c.Kind {
	case ConstNil:
		p.sb.WriteString("nil")
	case ConstBool:
		p.sb.WriteString(strconv.FormatBool(c.Bool))
	case ConstNumber:
		p.sb.WriteString(strconv.FormatFloat(c.Number, 'g', -1, 64))
	case ConstString:
		p.sb.WriteString(strconv.Quote(c.String))
	default:
		Faultf("Fprint", "unhandled constant kind %d", c.Kind)
	}
}

func (p *printer) table(t *TableExpr) {
	p.sb.WriteString("{")
	n := 0
	sep := func() {
		if n > 0 {
			p.sb.WriteString(", ")
		}
		n++
	}
	for _, e := range t.Array {
		sep()
		p.expr(e)
	}
	for _, f := range t.Fields {
		sep()
		if name, ok := nameKey(f.Key); ok {
			p.sb.WriteString(name)
		} else {
			p.sb.WriteString("[")
			p.expr(f.Key)
			p.sb.WriteString("]")
		}
		p.sb.WriteString(" = ")
		p.expr(f.Value)
	}
	p.sb.WriteString("}")
}

var reservedWords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
	// dump syntax
	"closure": true, "exit": true, "jump": true, "upval": true,
}

// IsReserved reports whether s is a keyword of the dump syntax.
func IsReserved(s string) bool { return reservedWords[s] }

func nameKey(k *Expr) (string, bool) {
	if k == nil || k.Kind != ExprConst || k.Const.Kind != ConstString {
		return "", false
	}
	s := k.Const.String
	if s == "" || reservedWords[s] {
		return "", false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return "", false
		}
	}
	return s, true
}
