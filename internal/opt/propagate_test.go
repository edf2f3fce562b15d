package opt_test

import (
	"context"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlua/internal/ir"
	"unlua/internal/irtext"
	"unlua/internal/opt"
)

// wrap builds a single-block function around body.
func wrap(params, body string) string {
	return "function f(" + params + ")\nbb0 -> bb1\n" + body + "bb1 exit\nend\n"
}

// instrs renders every instruction of f, block by block.
func instrs(f *ir.Function) []string {
	var out []string
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			out = append(out, ir.InstrString(in))
		}
	}
	return out
}

func propagate(t *testing.T, src string) (*ir.Function, bool) {
	t.Helper()
	f, err := irtext.ParseFunction(src)
	require.NoError(t, err)
	changed := opt.Propagate{}.Run(context.Background(), f)
	require.NoError(t, ir.Validate(f), ir.Sprint(f))
	return f, changed
}

func TestPropagate(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    []string
		changed bool
	}{
		{
			name: "constant into return",
			src: wrap("", `  0:1 r0 = 5
  1:1 return r0
`),
			want:    []string{"return 5"},
			changed: true,
		},
		{
			name: "method call on global",
			src: wrap("", `  0:1 r0 = @obj
  1:1 r0:m(1)
  2:1 return
`),
			want:    []string{"@obj:m(1)", "return"},
			changed: true,
		},
		{
			name: "method call in tail return",
			src: wrap("", `  0:1 r0 = @obj
  1:1 return r0:m(2) !tail
`),
			want:    []string{"return @obj:m(2) !tail"},
			changed: true,
		},
		{
			name: "call result through plain return",
			src: wrap("", `  0:1 r1 = @f()
  1:1 return r1
`),
			want: []string{"r1 = @f()", "return r1"},
		},
		{
			name: "call result through tail return",
			src: wrap("", `  0:1 r1 = @f()
  1:1 return r1 !tail
`),
			want:    []string{"return @f() !tail"},
			changed: true,
		},
		{
			name: "callee resolved after definition",
			src: wrap("", `  0:1 r0 = 1
  1:1 @g(r0)@5
  2:1 return
`),
			want: []string{"r0 = 1", "@g(r0)@5", "return"},
		},
		{
			name: "callee resolved at definition",
			src: wrap("", `  0:1 r0 = 1
  1:1 @g(r0)@0
  2:1 return
`),
			want:    []string{"@g(1)@0", "return"},
			changed: true,
		},
		{
			name: "always propagate ignores callee pc",
			src: wrap("", `  0:1 r0 = 1 !always
  1:1 @g(r0)@5
  2:1 return
`),
			want:    []string{"@g(1)@5", "return"},
			changed: true,
		},
		{
			name: "always propagate crosses regions",
			src: wrap("", `  0:1 r0 = @x !always
  1:2 r1 = 2
  2:3 @print(r0, r1)
  3:3 return
`),
			want:    []string{"r1 = 2", "@print(@x, r1)", "return"},
			changed: true,
		},
		{
			name: "list assignment",
			src: wrap("", `  0:1 r0 = @t
  1:2 r1, r2 = @f(r0)
  2:2 return r1, r2
`),
			want:    []string{"r1, r2 = @f(@t)", "return r1, r2"},
			changed: true,
		},
		{
			name: "table list elements",
			src: wrap("", `  0:1 r1 = @a
  1:1 r2 = @b
  2:1 r0 = {r1, r2}
  3:1 return r0
`),
			want:    []string{"return {@a, @b}"},
			changed: true,
		},
		{
			name: "local declaration in the same slot",
			src: wrap("", `  0:1 r0 = @x + 1
  1:2 local r0_1 = r0
  2:3 return r0_1
`),
			want:    []string{"local r0_1 = @x + 1", "return r0_1"},
			changed: true,
		},
		{
			name: "local declaration in another slot",
			src: wrap("", `  0:1 r0 = @x + 1
  1:2 local r3 = r0
  2:3 return r3
`),
			want: []string{"r0 = @x + 1", "local r3 = r0", "return r3"},
		},
		{
			name: "read twice",
			src: wrap("", `  0:1 r0 = 2
  1:1 return r0 * r0
`),
			want: []string{"r0 = 2", "return r0 * r0"},
		},
		{
			name: "constant read twice with always",
			src: wrap("", `  0:1 r0 = 2 !always
  1:1 return r0 * r0
`),
			want:    []string{"return 2 * 2"},
			changed: true,
		},
		{
			name: "always propagate into every reader",
			src: wrap("", `  0:1 r0 = @x !always
  1:2 @f(r0)
  2:3 @g(r0)
  3:3 return
`),
			want:    []string{"@f(@x)", "@g(@x)", "return"},
			changed: true,
		},
		{
			name: "always propagate read twice",
			src: wrap("", `  0:1 r0 = @x !always
  1:1 return r0, r0
`),
			want:    []string{"return @x, @x"},
			changed: true,
		},
		{
			name: "first instruction of a block",
			src: `function f()
bb0 -> bb1
  0:1 r0 = @x !always
  1:1 jump
bb1 -> bb2
  2:1 return r0
bb2 exit
end
`,
			want: []string{"r0 = @x !always", "jump", "return r0"},
		},
		{
			name: "operand overwritten in between",
			src: wrap("r0", `  0:1 r1 = r0 !always
  1:1 r0 = 2
  2:1 @f(r1)
  3:1 return
`),
			want: []string{"r1 = r0 !always", "r0 = 2", "@f(r1)", "return"},
		},
		{
			name: "method call as assigned value",
			src: wrap("", `  0:1 r0 = @obj
  1:1 r1 = r0:m(2)
  2:1 return r1
`),
			want:    []string{"r1 = @obj:m(2)", "return r1"},
			changed: true,
		},
		{
			name: "method call on a constant",
			src: wrap("", `  0:1 r0 = "s"
  1:1 return r0:len() !tail
`),
			want:    []string{`return ("s"):len() !tail`},
			changed: true,
		},
		{
			name: "negation into power base",
			src: wrap("r1", `  0:1 r0 = -r1
  1:1 return r0 ^ 2
`),
			want:    []string{"return (-r1) ^ 2"},
			changed: true,
		},
		{
			name: "read elsewhere",
			src: wrap("", `  0:1 r0 = @x
  1:1 r1 = r0.y
  2:1 return r0, r1
`),
			want:    []string{"r0 = @x", "return r0, r0.y"},
			changed: true,
		},
		{
			name: "parameter",
			src: wrap("r0", `  0:1 r1 = r0
  1:1 return r1
`),
			want:    []string{"return r0"},
			changed: true,
		},
		{
			name: "reassigned parameter",
			src: wrap("r0", `  0:1 r0 = 1
  1:1 return r0
`),
			want: []string{"r0 = 1", "return r0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, changed := propagate(t, tt.src)
			assert.Equal(t, tt.want, instrs(f), ir.Sprint(f))
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestPropagate_AcrossBlocks(t *testing.T) {
	f, changed := propagate(t, `function f()
bb0 -> bb1
  0:1 r0 = @x !always
  1:1 jump
bb1 -> bb2
  2:2 r1 = 1
  3:2 @print(r0, r1)
  4:2 return
bb2 exit
end
`)
	require.True(t, changed)
	assert.Equal(t, []string{"jump", "@print(@x, 1)", "return"}, instrs(f))
}

func TestPropagate_Bookkeeping(t *testing.T) {
	f, err := irtext.ParseFunction(wrap("", `  0:1 r0 = 5 -- five
  1:1 return r0 -- ret
`))
	require.NoError(t, err)
	r0, ok := f.Lookup("r0")
	require.True(t, ok)
	require.True(t, f.Vars.Contains(r0))

	require.True(t, opt.Propagate{}.Run(context.Background(), f))
	ret := f.Blocks[0].Instrs[0]
	assert.Equal(t, []string{"five", "ret"}, ret.Comments)
	assert.Equal(t, 1, ret.PC)
	assert.False(t, f.Vars.Contains(r0), "eliminated register is no longer tracked")
}

// idiomSrc mixes every rewrite the pass knows.
const idiomSrc = `function f(r0)
bb0 -> bb1, bb2
  0:1 r1 = r0.x
  1:1 r2 = r1 + 1
  2:1 if r2 < 10
bb1 -> bb3
  3:2 r3 = @obj
  4:2 r3:log(r2)
  5:2 jump
bb2 -> bb3
  6:3 r4 = {r0, r2}
  7:3 @store(r4)
  8:3 jump
bb3 -> bb4
  9:4 r5 = @done
  10:4 return r5(r2) !tail
bb4 exit
end
`

func TestPropagate_Idempotent(t *testing.T) {
	f, changed := propagate(t, idiomSrc)
	require.True(t, changed)
	once := ir.Sprint(f)

	assert.False(t, opt.Propagate{}.Run(context.Background(), f), once)
	assert.Equal(t, once, ir.Sprint(f))
}

// countUses sums the reads of every identifier over the whole function.
func countUses(f *ir.Function) map[string]int {
	counts := make(map[string]int)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for _, id := range in.OrderedUses(false) {
				counts[id.String()] += in.CountUses(id)
			}
		}
	}
	return counts
}

func TestPropagate_UseCountsNeverGrow(t *testing.T) {
	src := `function f(r0, r1)
bb0 -> bb1
  0:1 r2 = r0.a
  1:1 r3 = r2 * r1
  2:2 r4 = @g
  3:2 r5 = r4(r3, r1)
  4:3 r6 = 7 !always
  5:3 r7 = {r5, r6, r6}
  6:4 return r7
bb1 exit
end
`
	f, err := irtext.ParseFunction(src)
	require.NoError(t, err)
	before := countUses(f)
	instrsBefore := f.NumInstrs()

	require.True(t, opt.Propagate{}.Run(context.Background(), f))
	after := countUses(f)
	for name, n := range after {
		assert.LessOrEqual(t, n, before[name], "%s: %s", name, spew.Sdump(before, after))
	}
	assert.Less(t, f.NumInstrs(), instrsBefore)
}

func TestPropagate_ExhaustiveOverKinds(t *testing.T) {
	f, err := irtext.ParseFunction(wrap("", `  0:1 r0 = 1
  1:1 return r0
`))
	require.NoError(t, err)
	f.Blocks[0].Instrs[1].Kind = ir.InstrKind(99)

	defer func() {
		r := recover()
		fault, ok := r.(*ir.InternalError)
		require.True(t, ok, "recovered %v", r)
		assert.True(t, strings.Contains(fault.Error(), "unhandled instruction kind"), fault.Error())
	}()
	opt.Propagate{}.Run(context.Background(), f)
}
