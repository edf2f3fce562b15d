// Package irtext reads the textual IR produced by ir.Fprint. It stands in
// for the bytecode front-end in tests and in the unlua driver.
//
// A file holds one or more functions:
//
//	function main(r0, ...)
//	  upval u0 stack 3
//	bb0 -> bb1, bb2
//	  0:1 r1_1 = @print -- comment
//	  1:1 if r0 == nil
//	bb1 -> bb3
//	  2:2 r1_1("x")@0
//	  3:2 jump
//	bb2 -> bb3
//	  4:3 return r0.x !tail
//	bb3 exit
//	end
//
//	function inner() in main
//	...
//
// Registers are written r<slot> or r<slot>_<version>, upvalues u<slot> or
// names declared with upval, globals @name. Instruction flags follow a '!':
// list, self, always, tail. A call may carry its callee PC as @N.
package irtext

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"unlua/internal/ir"
)

// ErrNoFunction is returned when the input declares no function.
var ErrNoFunction = errors.New("irtext: no function")

// Error is a syntax error at a 1-based line.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("irtext: line %d: %s", e.Line, e.Msg)
}

// Parse reads every function in src and returns the top-level ones; nested
// functions are attached to their parent's Children.
func Parse(src string) ([]*ir.Function, error) {
	p := &parser{byName: make(map[string]*ir.Function)}
	for i, raw := range strings.Split(src, "\n") {
		p.lineNo = i + 1
		if err := p.line(raw); err != nil {
			var perr *Error
			if errors.As(err, &perr) {
				return nil, err
			}
			return nil, &Error{Line: p.lineNo, Msg: err.Error()}
		}
	}
	if p.fn != nil {
		return nil, &Error{Line: p.lineNo, Msg: fmt.Sprintf("function %s is missing end", p.fn.Name)}
	}
	if len(p.roots) == 0 {
		return nil, ErrNoFunction
	}
	return p.roots, nil
}

// ParseFunction reads src, which must hold exactly one top-level function.
func ParseFunction(src string) (*ir.Function, error) {
	roots, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("irtext: expected one top-level function, got %d", len(roots))
	}
	return roots[0], nil
}

// ParseFile reads the functions stored at path.
func ParseFile(path string) ([]*ir.Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	roots, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return roots, nil
}

// MustParse is ParseFunction for fixtures; it panics on error.
func MustParse(src string) *ir.Function {
	f, err := ParseFunction(src)
	if err != nil {
		panic(err)
	}
	return f
}

type pendingEdge struct {
	from, to int
}

type parser struct {
	lineNo int
	roots  []*ir.Function
	byName map[string]*ir.Function

	// function being read
	fn       *ir.Function
	upvalues map[string]int
	edges    []pendingEdge
	pc       int

	toks []token
	pos  int
}

func (p *parser) line(raw string) error {
	toks, err := lexLine(raw)
	if err != nil {
		return err
	}
	p.toks, p.pos = toks, 0
	if len(toks) == 0 || toks[0].kind == tokComment {
		return nil
	}
	head := toks[0]
	switch {
	case head.is(tokName, "function"):
		return p.funcHeader()
	case p.fn == nil:
		return fmt.Errorf("%s outside of a function", head)
	case head.is(tokName, "end"):
		return p.funcEnd()
	case head.is(tokName, "upval"):
		return p.upval()
	case head.kind == tokName && isBlockLabel(head.text):
		return p.blockHeader()
	default:
		return p.instr()
	}
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: tokEOF}
}

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return token{kind: tokEOF}
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.peek().is(kind, text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) error {
	if !p.accept(kind, text) {
		return fmt.Errorf("expected %q, found %s", text, p.peek())
	}
	return nil
}

func (p *parser) expectName() (string, error) {
	t := p.next()
	if t.kind != tokName {
		return "", fmt.Errorf("expected a name, found %s", t)
	}
	return t.text, nil
}

func (p *parser) expectInt() (int, error) {
	t := p.next()
	if t.kind != tokNumber {
		return 0, fmt.Errorf("expected an integer, found %s", t)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, found %s", t)
	}
	return n, nil
}

func (p *parser) atEnd() bool {
	t := p.peek()
	return t.kind == tokEOF || t.kind == tokComment
}

func (p *parser) funcHeader() error {
	if p.fn != nil {
		return fmt.Errorf("function %s is missing end", p.fn.Name)
	}
	p.next()
	name, err := p.expectName()
	if err != nil {
		return err
	}
	if _, dup := p.byName[name]; dup {
		return fmt.Errorf("function %s declared twice", name)
	}
	f := ir.NewFunction(name)
	p.fn, p.upvalues, p.edges, p.pc = f, make(map[string]int), nil, 0
	if err := p.expect(tokPunct, "("); err != nil {
		return err
	}
	for !p.accept(tokPunct, ")") {
		if len(f.Params) > 0 || f.Vararg {
			if err := p.expect(tokPunct, ","); err != nil {
				return err
			}
		}
		if p.accept(tokPunct, "...") {
			f.Vararg = true
			continue
		}
		prm, err := p.expectName()
		if err != nil {
			return err
		}
		id, err := p.ident(prm)
		if err != nil {
			return err
		}
		if !id.IsRegister() {
			return fmt.Errorf("parameter %s is not a register", prm)
		}
		f.Params = append(f.Params, id)
	}
	if p.accept(tokName, "in") {
		parentName, err := p.expectName()
		if err != nil {
			return err
		}
		parent, ok := p.byName[parentName]
		if !ok {
			return fmt.Errorf("unknown parent function %s", parentName)
		}
		parent.Children = append(parent.Children, f)
	} else {
		p.roots = append(p.roots, f)
	}
	p.byName[name] = f
	return p.trailing()
}

func (p *parser) funcEnd() error {
	p.next()
	if err := p.trailing(); err != nil {
		return err
	}
	f := p.fn
	if len(f.Blocks) == 0 {
		return fmt.Errorf("function %s has no blocks", f.Name)
	}
	for _, e := range p.edges {
		if e.to >= len(f.Blocks) {
			return fmt.Errorf("bb%d: successor bb%d is not declared", e.from, e.to)
		}
		f.AddEdge(ir.BlockID(e.from), ir.BlockID(e.to)) //nolint:gosec // bounded by block count
	}
	p.fn = nil
	return nil
}

func (p *parser) upval() error {
	p.next()
	name, err := p.expectName()
	if err != nil {
		return err
	}
	from, err := p.expectName()
	if err != nil {
		return err
	}
	if from != "stack" && from != "up" {
		return fmt.Errorf("upval source must be stack or up, found %q", from)
	}
	idx, err := p.expectInt()
	if err != nil {
		return err
	}
	p.upvalues[name] = len(p.fn.UpValues)
	p.fn.UpValues = append(p.fn.UpValues, ir.UpValueBinding{Name: name, InStack: from == "stack", Index: idx})
	return p.trailing()
}

func isBlockLabel(s string) bool {
	if !strings.HasPrefix(s, "bb") || len(s) == 2 {
		return false
	}
	_, err := strconv.Atoi(s[2:])
	return err == nil
}

func (p *parser) blockLabel() (int, error) {
	t := p.next()
	if t.kind != tokName || !isBlockLabel(t.text) {
		return 0, fmt.Errorf("expected a block label, found %s", t)
	}
	n, _ := strconv.Atoi(t.text[2:]) //nolint:errcheck // checked by isBlockLabel
	return n, nil
}

func (p *parser) blockHeader() error {
	id, err := p.blockLabel()
	if err != nil {
		return err
	}
	if id != len(p.fn.Blocks) {
		return fmt.Errorf("block bb%d declared out of order, expected bb%d", id, len(p.fn.Blocks))
	}
	p.fn.AddBlock()
	if p.accept(tokPunct, "->") {
		for {
			to, err := p.blockLabel()
			if err != nil {
				return err
			}
			p.edges = append(p.edges, pendingEdge{from: id, to: to})
			if !p.accept(tokPunct, ",") {
				break
			}
		}
	}
	if p.accept(tokName, "exit") {
		if p.fn.End != ir.NoBlockID {
			return fmt.Errorf("function %s has two exit blocks", p.fn.Name)
		}
		p.fn.End = ir.BlockID(id) //nolint:gosec // bounded by block count
	}
	return p.trailing()
}

// trailing rejects anything but comments after a complete line.
func (p *parser) trailing() error {
	if !p.atEnd() {
		return fmt.Errorf("unexpected %s", p.peek())
	}
	return nil
}

func (p *parser) instr() error {
	if len(p.fn.Blocks) == 0 {
		return errors.New("instruction before the first block")
	}
	in := &ir.Instr{PC: p.pc}
	if t := p.peek(); t.kind == tokNumber {
		pc, err := p.expectInt()
		if err != nil {
			return err
		}
		if err := p.expect(tokPunct, ":"); err != nil {
			return err
		}
		region, err := p.expectInt()
		if err != nil {
			return err
		}
		in.PC, in.Region = pc, region
	}
	if err := p.stmt(in); err != nil {
		return err
	}
	for p.accept(tokPunct, "!") {
		flag, err := p.expectName()
		if err != nil {
			return err
		}
		if err := setFlag(in, flag); err != nil {
			return err
		}
	}
	for p.peek().kind == tokComment {
		in.Comments = append(in.Comments, p.next().text)
	}
	if err := p.trailing(); err != nil {
		return err
	}
	p.pc = in.PC + 1
	p.fn.AppendInstr(ir.BlockID(len(p.fn.Blocks)-1), in) //nolint:gosec // bounded by block count
	return nil
}

func setFlag(in *ir.Instr, flag string) error {
	switch {
	case flag == "tail" && in.Kind == ir.InstrReturn:
		in.Return.Tail = true
	case flag == "list" && in.Kind == ir.InstrAssign:
		in.Assign.List = true
	case flag == "self" && in.Kind == ir.InstrAssign:
		in.Assign.SelfCall = true
	case flag == "always" && in.Kind == ir.InstrAssign:
		in.Assign.AlwaysPropagate = true
	default:
		return fmt.Errorf("flag !%s does not apply to %s", flag, in.Kind)
	}
	return nil
}

func (p *parser) stmt(in *ir.Instr) error {
	switch {
	case p.accept(tokName, "return"):
		in.Kind = ir.InstrReturn
		if p.atEnd() || p.peek().is(tokPunct, "!") {
			return nil
		}
		vals, err := p.exprList()
		if err != nil {
			return err
		}
		in.Return.Values = vals
		return nil
	case p.accept(tokName, "if"):
		in.Kind = ir.InstrCond
		cond, err := p.expr(0)
		if err != nil {
			return err
		}
		in.Cond.Cond = cond
		return nil
	case p.accept(tokName, "jump"):
		in.Kind = ir.InstrJump
		return nil
	}

	local := p.accept(tokName, "local")
	lhs, err := p.exprList()
	if err != nil {
		return err
	}
	if !p.accept(tokPunct, "=") {
		if local || len(lhs) != 1 || lhs[0].Kind != ir.ExprCall {
			return fmt.Errorf("expected '=' or a call statement, found %s", p.peek())
		}
		in.Kind = ir.InstrCall
		in.Call.Call = lhs[0]
		return nil
	}
	for _, t := range lhs {
		if t.Kind != ir.ExprRef && t.Kind != ir.ExprIndex {
			return fmt.Errorf("cannot assign to %s expression", t.Kind)
		}
	}
	val, err := p.expr(0)
	if err != nil {
		return err
	}
	in.Kind = ir.InstrAssign
	in.Assign = ir.AssignInstr{Targets: lhs, Value: val, Local: local}
	return nil
}

func (p *parser) exprList() ([]*ir.Expr, error) {
	var out []*ir.Expr
	for {
		e, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.accept(tokPunct, ",") {
			return out, nil
		}
	}
}

func (p *parser) binaryOp() (ir.BinaryOp, bool) {
	t := p.peek()
	if t.kind != tokPunct && !(t.kind == tokName && (t.text == "and" || t.text == "or")) {
		return 0, false
	}
	return ir.BinaryOpFromText(t.text)
}

// expr parses operators binding at least as tightly as minPrec.
func (p *parser) expr(minPrec int) (*ir.Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.binaryOp()
		if !ok || op.Precedence() < minPrec {
			return left, nil
		}
		p.next()
		next := op.Precedence() + 1
		if op.RightAssoc() {
			next = op.Precedence()
		}
		right, err := p.expr(next)
		if err != nil {
			return nil, err
		}
		left = ir.Binary(op, left, right)
	}
}

func (p *parser) unary() (*ir.Expr, error) {
	var op ir.UnaryOp
	switch {
	case p.accept(tokPunct, "-"):
		// -N is a negative literal unless N is the base of '^'.
		if p.peek().kind == tokNumber && !p.peekAt(1).is(tokPunct, "^") {
			return ir.Number(-p.next().num), nil
		}
		op = ir.OpNeg
	case p.accept(tokName, "not"):
		op = ir.OpNot
	case p.accept(tokPunct, "#"):
		op = ir.OpLen
	default:
		return p.postfix()
	}
	x, err := p.expr(ir.UnaryPrecedence)
	if err != nil {
		return nil, err
	}
	return ir.Unary(op, x), nil
}

func (p *parser) postfix() (*ir.Expr, error) {
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept(tokPunct, "."):
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			e = withKey(e, ir.String(name))
		case p.accept(tokPunct, "["):
			k, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokPunct, "]"); err != nil {
				return nil, err
			}
			e = withKey(e, k)
		case p.accept(tokPunct, ":"):
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			call := ir.Call(withKey(e.Clone(), ir.String(name)), append([]*ir.Expr{e}, args...)...)
			call.Call.Method = true
			if err := p.calleePC(call); err != nil {
				return nil, err
			}
			e = call
		case p.peek().is(tokPunct, "("):
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			call := ir.Call(e, args...)
			if err := p.calleePC(call); err != nil {
				return nil, err
			}
			e = call
		default:
			return e, nil
		}
	}
}

func (p *parser) calleePC(call *ir.Expr) error {
	if !p.accept(tokPunct, "@") {
		return nil
	}
	pc, err := p.expectInt()
	if err != nil {
		return err
	}
	call.Call.CalleePC = pc
	return nil
}

func (p *parser) args() ([]*ir.Expr, error) {
	if err := p.expect(tokPunct, "("); err != nil {
		return nil, err
	}
	if p.accept(tokPunct, ")") {
		return nil, nil
	}
	args, err := p.exprList()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokPunct, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

func withKey(base, key *ir.Expr) *ir.Expr {
	switch base.Kind {
	case ir.ExprRef:
		base.Ref.Keys = append(base.Ref.Keys, key)
		return base
	case ir.ExprIndex:
		base.Index.Keys = append(base.Index.Keys, key)
		return base
	default:
		return ir.Index(base, key)
	}
}

func (p *parser) primary() (*ir.Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return ir.Number(t.num), nil
	case tokString:
		return ir.String(t.text), nil
	case tokGlobal:
		return ir.Ref(p.fn.Ident(t.text, ir.IdentGlobal, -1)), nil
	case tokName:
		switch t.text {
		case "nil":
			return ir.Nil(), nil
		case "true":
			return ir.Bool(true), nil
		case "false":
			return ir.Bool(false), nil
		case "closure":
			n, err := p.expectInt()
			if err != nil {
				return nil, err
			}
			return ir.Closure(n), nil
		}
		if ir.IsReserved(t.text) {
			return nil, fmt.Errorf("unexpected keyword %q", t.text)
		}
		id, err := p.ident(t.text)
		if err != nil {
			return nil, err
		}
		return ir.Ref(id), nil
	case tokPunct:
		switch t.text {
		case "...":
			return ir.Vararg(), nil
		case "(":
			e, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokPunct, ")"); err != nil {
				return nil, err
			}
			return e, nil
		case "{":
			return p.table()
		}
	}
	return nil, fmt.Errorf("unexpected %s", t)
}

func (p *parser) table() (*ir.Expr, error) {
	var array []*ir.Expr
	var fields []ir.TableField
	for !p.accept(tokPunct, "}") {
		if len(array)+len(fields) > 0 {
			if err := p.expect(tokPunct, ","); err != nil {
				return nil, err
			}
		}
		switch {
		case p.accept(tokPunct, "["):
			k, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokPunct, "]"); err != nil {
				return nil, err
			}
			if err := p.expect(tokPunct, "="); err != nil {
				return nil, err
			}
			v, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ir.TableField{Key: k, Value: v})
		case p.peek().kind == tokName && p.pos+1 < len(p.toks) && p.toks[p.pos+1].is(tokPunct, "="):
			name := p.next().text
			p.next()
			v, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ir.TableField{Key: ir.String(name), Value: v})
		default:
			v, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			array = append(array, v)
		}
	}
	return ir.Table(array, fields), nil
}

// ident resolves a bare name: r<slot>[_<n>] is a register, u<slot>[_<n>] or
// a declared upval name is an upvalue.
func (p *parser) ident(name string) (*ir.Identifier, error) {
	if id, ok := p.fn.Lookup(name); ok {
		return id, nil
	}
	if idx, ok := p.upvalues[name]; ok {
		return p.fn.Ident(name, ir.IdentUpValue, idx), nil
	}
	if slot, ok := slotOf(name, 'r'); ok {
		return p.fn.Ident(name, ir.IdentRegister, slot), nil
	}
	if slot, ok := slotOf(name, 'u'); ok {
		return p.fn.Ident(name, ir.IdentUpValue, slot), nil
	}
	return nil, fmt.Errorf("unknown identifier %q", name)
}

func slotOf(name string, prefix byte) (int, bool) {
	if len(name) < 2 || name[0] != prefix {
		return 0, false
	}
	digits := name[1:]
	if i := strings.IndexByte(digits, '_'); i >= 0 {
		if _, err := strconv.Atoi(digits[i+1:]); err != nil {
			return 0, false
		}
		digits = digits[:i]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
