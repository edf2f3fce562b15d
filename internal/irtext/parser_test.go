package irtext_test

import (
	"fmt"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlua/internal/ir"
	"unlua/internal/irtext"
)

const diamond = `function main(r0, ...)
  upval env stack 3
bb0 -> bb1, bb2
  0:1 local r1 = @print -- load print
  1:1 if r0 == nil
bb1 -> bb3
  2:2 r1("x", -2.5)@0
  3:2 jump
bb2 -> bb3
  4:3 r2_1, r3 = r0:get(env.key, {1, 2, name = true, [r0] = nil}) !list
  5:3 jump
bb3 -> bb4
  6:4 return r0.x[1] .. "y", not (r2_1 < 3), -r3 ^ 2, closure 0, ... !tail
bb4 exit
end

function inner(r0) in main
bb0 -> bb1
  0:10 return r0 -- a -- b
bb1 exit
end
`

func TestParse_RoundTrip(t *testing.T) {
	roots, err := irtext.Parse(diamond)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	f := roots[0]
	require.NoError(t, ir.Validate(f))
	assert.Equal(t, diamond, ir.Sprint(f))

	// Printing the reparsed dump must be a fixed point.
	again, err := irtext.ParseFunction(ir.Sprint(f))
	require.NoError(t, err)
	assert.Equal(t, ir.Sprint(f), ir.Sprint(again))
}

func TestParse_Structure(t *testing.T) {
	f := irtext.MustParse(diamond)

	assert.Equal(t, "main", f.Name)
	assert.True(t, f.Vararg)
	require.Len(t, f.Params, 1)
	assert.Equal(t, "r0", f.Params[0].Name)
	assert.Equal(t, ir.BlockID(4), f.End)
	assert.Equal(t, []ir.BlockID{1, 2}, f.Blocks[0].Succs)
	assert.Equal(t, []ir.BlockID{1, 2}, f.Blocks[3].Preds)
	require.Len(t, f.Children, 1)
	assert.Equal(t, []string{"a", "b"}, f.Children[0].Blocks[0].Instrs[0].Comments)

	load := f.Blocks[0].Instrs[0]
	assert.True(t, load.Assign.Local)
	assert.Equal(t, []string{"load print"}, load.Comments)
	assert.Equal(t, ir.IdentGlobal, load.Assign.Value.Ref.Ident.Kind)

	call := f.Blocks[1].Instrs[0]
	require.Equal(t, ir.InstrCall, call.Kind, spew.Sdump(call))
	assert.Equal(t, 0, call.Call.Call.Call.CalleePC)
	assert.Equal(t, -2.5, call.Call.Call.Call.Args[1].Const.Number)

	method := f.Blocks[2].Instrs[0]
	assert.True(t, method.Assign.List)
	assert.True(t, method.IsListAssign())
	site := method.CallSite()
	require.NotNil(t, site)
	assert.True(t, site.Method)
	assert.True(t, site.Args[0].RefersTo(f.Params[0]))
	env, ok := f.Lookup("env")
	require.True(t, ok)
	assert.Equal(t, ir.IdentUpValue, env.Kind)
	assert.Equal(t, 0, env.Slot)

	ret := f.Blocks[3].Instrs[0]
	assert.True(t, ret.Return.Tail)
	require.Len(t, ret.Return.Values, 5)
	neg := ret.Return.Values[2]
	require.Equal(t, ir.ExprUnary, neg.Kind)
	assert.Equal(t, ir.OpPow, neg.Unary.Operand.Binary.Op)
}

func TestParse_DefaultPC(t *testing.T) {
	f := irtext.MustParse(`function f()
bb0 -> bb1
  r0 = 1
  r1 = r0 + 1
  return r1
bb1 exit
end
`)
	ins := f.Blocks[0].Instrs
	require.Len(t, ins, 3)
	for i, in := range ins {
		assert.Equal(t, i, in.PC)
		assert.Equal(t, 0, in.Region)
	}
}

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"r0 + r1 * r2", "r0 + r1 * r2"},
		{"(r0 + r1) * r2", "(r0 + r1) * r2"},
		{"r0 .. r1 .. r2", "r0 .. r1 .. r2"},
		{"(r0 .. r1) .. r2", "(r0 .. r1) .. r2"},
		{"r0 - (r1 - r2)", "r0 - (r1 - r2)"},
		{"-r0 ^ 2", "-r0 ^ 2"},
		{"(-r0) ^ 2", "(-r0) ^ 2"},
		{"(-2) ^ 2", "(-2) ^ 2"},
		{"-(2)", "-(2)"},
		{"- -r0", "-(-r0)"},
		{"not r0 and r1 or r2", "not r0 and r1 or r2"},
		{"#r0.list + 1", "#r0.list + 1"},
		{"r0[r1 + 1].x", "r0[r1 + 1].x"},
		{"(r0 or r1).x", "(r0 or r1).x"},
		{`r0["not a name"]`, `r0["not a name"]`},
		{"r0.end", `r0["end"]`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			f, err := irtext.ParseFunction("function f(r0, r1, r2)\nbb0\n  return " + tt.src + "\nend\n")
			require.NoError(t, err)
			got := f.Blocks[0].Instrs[0].Return.Values[0]
			assert.Equal(t, tt.want, ir.ExprString(got))
		})
	}
}

// Printing an expression and parsing it back must rebuild the same tree.
func TestPrint_ReparsesToSameTree(t *testing.T) {
	type build func(f *ir.Function) *ir.Expr
	r := func(f *ir.Function, n int) *ir.Expr {
		return ir.Ref(f.Ident(fmt.Sprintf("r%d", n), ir.IdentRegister, n))
	}
	tests := []struct {
		name  string
		want  string
		build build
	}{
		{"negated base of pow", "(-r0) ^ 2", func(f *ir.Function) *ir.Expr {
			return ir.Binary(ir.OpPow, ir.Unary(ir.OpNeg, r(f, 0)), ir.Number(2))
		}},
		{"negative literal base of pow", "(-2) ^ 2", func(*ir.Function) *ir.Expr {
			return ir.Binary(ir.OpPow, ir.Number(-2), ir.Number(2))
		}},
		{"not as base of pow", "(not r0) ^ r1", func(f *ir.Function) *ir.Expr {
			return ir.Binary(ir.OpPow, ir.Unary(ir.OpNot, r(f, 0)), r(f, 1))
		}},
		{"negated pow", "-r0 ^ 2", func(f *ir.Function) *ir.Expr {
			return ir.Unary(ir.OpNeg, ir.Binary(ir.OpPow, r(f, 0), ir.Number(2)))
		}},
		{"negated literal", "-(2)", func(*ir.Function) *ir.Expr {
			return ir.Unary(ir.OpNeg, ir.Number(2))
		}},
		{"negated negative literal", "-(-2)", func(*ir.Function) *ir.Expr {
			return ir.Unary(ir.OpNeg, ir.Number(-2))
		}},
		{"double negation", "-(-r0)", func(f *ir.Function) *ir.Expr {
			return ir.Unary(ir.OpNeg, ir.Unary(ir.OpNeg, r(f, 0)))
		}},
		{"negative literal", "-2", func(*ir.Function) *ir.Expr {
			return ir.Number(-2)
		}},
		{"minus negation", "r0 - -r1", func(f *ir.Function) *ir.Expr {
			return ir.Binary(ir.OpSub, r(f, 0), ir.Unary(ir.OpNeg, r(f, 1)))
		}},
		{"pow of negation", "r0 ^ -r1", func(f *ir.Function) *ir.Expr {
			return ir.Binary(ir.OpPow, r(f, 0), ir.Unary(ir.OpNeg, r(f, 1)))
		}},
		{"negation plus", "-r0 + r1", func(f *ir.Function) *ir.Expr {
			return ir.Binary(ir.OpAdd, ir.Unary(ir.OpNeg, r(f, 0)), r(f, 1))
		}},
		{"indexed negation", "(-r0).x", func(f *ir.Function) *ir.Expr {
			return ir.Index(ir.Unary(ir.OpNeg, r(f, 0)), ir.String("x"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := ir.ExprString(tt.build(ir.NewFunction("f")))
			require.Equal(t, tt.want, text)

			f, err := irtext.ParseFunction("function f(r0, r1)\nbb0\n  return " + text + "\nend\n")
			require.NoError(t, err)
			got := f.Blocks[0].Instrs[0].Return.Values
			require.Len(t, got, 1)
			want := tt.build(f)
			assert.True(t, ir.Equal(want, got[0]), spew.Sdump(want, got[0]))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"missing end", "function f()\nbb0", 2},
		{"unknown ident", "function f()\nbb0\n  return x\nend\n", 3},
		{"out of order block", "function f()\nbb1\nend\n", 2},
		{"bad successor", "function f()\nbb0 -> bb7\nend\n", 3},
		{"bad flag", "function f()\nbb0\n  jump !tail\nend\n", 3},
		{"unknown parent", "function f() in g\nbb0\nend\n", 1},
		{"instr before block", "function f()\n  jump\nend\n", 2},
		{"assign to call", "function f(r0)\nbb0\n  r0() = 1\nend\n", 3},
		{"unterminated string", "function f()\nbb0\n  return \"abc\nend\n", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := irtext.Parse(tt.src)
			require.Error(t, err)
			var perr *irtext.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.line, perr.Line)
		})
	}

	_, err := irtext.Parse("-- nothing here\n")
	assert.ErrorIs(t, err, irtext.ErrNoFunction)
}
