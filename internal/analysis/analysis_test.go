package analysis_test

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlua/internal/analysis"
	"unlua/internal/ir"
	"unlua/internal/irtext"
)

const diamondSrc = `function diamond(r0)
bb0 -> bb1, bb2
  0:1 if r0
bb1 -> bb3
  1:2 r1 = 1
  2:2 jump
bb2 -> bb3
  3:3 r1 = 2
  4:3 jump
bb3 -> bb4
  5:4 return r1
bb4 exit
end
`

const loopSrc = `function loop()
bb0 -> bb1
  0:1 r0 = 0
  1:1 jump
bb1 -> bb2, bb3
  2:2 if r0 < 10
bb2 -> bb1
  3:3 r0 = r0 + 1
  4:3 jump
bb3 -> bb4
  5:4 return r0
bb4 exit
end
`

// nested loops with a side exit and an unreachable block
const tangleSrc = `function tangle(r0)
bb0 -> bb1
  jump
bb1 -> bb2, bb6
  if r0
bb2 -> bb3, bb4
  if r0
bb3 -> bb5
  jump
bb4 -> bb5, bb7
  if r0
bb5 -> bb1
  jump
bb6 -> bb7
  jump
bb7 -> bb9
  return
bb8 -> bb7
  jump
bb9 exit
end
`

func parse(t *testing.T, src string) *ir.Function {
	t.Helper()
	f, err := irtext.ParseFunction(src)
	require.NoError(t, err)
	return f
}

func ids(list ...ir.BlockID) []ir.BlockID { return list }

func TestPostorder_Diamond(t *testing.T) {
	f := parse(t, diamondSrc)

	assert.Equal(t, ids(3, 1, 2, 0), analysis.Postorder(f, false))
	assert.Equal(t, ids(4, 3, 1, 2, 0), analysis.Postorder(f, true))

	rpo := analysis.NumberRPO(f)
	assert.Equal(t, ids(0, 2, 1, 3), rpo)
	assert.Equal(t, rpo, analysis.RPO(f))
	assert.Equal(t, -1, f.Blocks[4].RPO, "end sentinel is not numbered")
	for i, id := range rpo {
		assert.Equal(t, i, f.Blocks[id].RPO)
	}
}

func TestDominance_Diamond(t *testing.T) {
	f := parse(t, diamondSrc)
	analysis.Ensure(f, ir.AnalysisFrontier)

	for _, id := range ids(1, 2, 3) {
		assert.Equal(t, ir.BlockID(0), f.Blocks[id].IDom, "idom of bb%d", id)
	}
	assert.Equal(t, ir.BlockID(0), f.Blocks[0].IDom, "entry dominates itself")
	assert.Equal(t, ids(2, 1, 3), f.Blocks[0].DomChildren)

	assert.Equal(t, ids(3), f.Blocks[1].Frontier)
	assert.Equal(t, ids(3), f.Blocks[2].Frontier)
	assert.Empty(t, f.Blocks[0].Frontier)
	assert.Empty(t, f.Blocks[3].Frontier)

	assert.True(t, f.Blocks[0].Dominates(f.Blocks[3]))
	assert.False(t, f.Blocks[1].Dominates(f.Blocks[3]))
	assert.Equal(t, ids(0, 3), analysis.Dominators(f, f.Blocks[3]))
}

func TestDominance_Loop(t *testing.T) {
	f := parse(t, loopSrc)
	analysis.Ensure(f, ir.AnalysisFrontier)

	assert.Equal(t, ir.BlockID(0), f.Blocks[1].IDom)
	assert.Equal(t, ir.BlockID(1), f.Blocks[2].IDom)
	assert.Equal(t, ir.BlockID(1), f.Blocks[3].IDom)

	// the loop header is in its own frontier and in that of the latch
	assert.Equal(t, ids(1), f.Blocks[1].Frontier)
	assert.Equal(t, ids(1), f.Blocks[2].Frontier)
	assert.Empty(t, f.Blocks[3].Frontier)
}

func TestDominance_SetsFormChains(t *testing.T) {
	f := parse(t, tangleSrc)
	analysis.Ensure(f, ir.AnalysisFrontier)

	for _, b := range f.Blocks {
		if !analysis.Reachable(b) {
			assert.Nil(t, b.Dom, "bb%d", b.ID)
			assert.Equal(t, ir.NoBlockID, b.IDom, "bb%d", b.ID)
			continue
		}
		require.NotNil(t, b.Dom, "bb%d", b.ID)
		assert.True(t, b.Dominates(b), "bb%d dominates itself", b.ID)

		chain := analysis.Dominators(f, b)
		require.NotEmpty(t, chain)
		assert.Equal(t, f.Begin, chain[0])
		assert.Equal(t, b.ID, chain[len(chain)-1])
		assert.Equal(t, uint(len(chain)), b.Dom.Count(), "bb%d: %s", b.ID, spew.Sdump(chain))
		for i := 1; i < len(chain); i++ {
			assert.Equal(t, chain[i-1], f.Blocks[chain[i]].IDom)
			assert.True(t, b.Dom.Test(uint(chain[i-1])))
		}
	}

	assert.Equal(t, ir.BlockID(1), f.Blocks[7].IDom, "bb7 is reached around the inner loop and from bb6")
	assert.Equal(t, ir.BlockID(2), f.Blocks[5].IDom)
	assert.Equal(t, -1, f.Blocks[8].RPO)
}

func TestFrontier_SinglePredecessor(t *testing.T) {
	f := parse(t, tangleSrc)
	analysis.Ensure(f, ir.AnalysisFrontier)

	// bb3 and bb6 have one predecessor each and are not merge points
	for _, id := range ids(3, 6) {
		for _, other := range f.Blocks {
			assert.NotContains(t, other.Frontier, id, "bb%d frontier", other.ID)
		}
	}
	assert.ElementsMatch(t, ids(5), f.Blocks[3].Frontier)
	assert.ElementsMatch(t, ids(5, 7), f.Blocks[4].Frontier)
	assert.ElementsMatch(t, ids(7), f.Blocks[6].Frontier)
	assert.ElementsMatch(t, ids(1), f.Blocks[5].Frontier)
	assert.ElementsMatch(t, ids(1, 7), f.Blocks[2].Frontier)
}

func names(s ir.IdentSet) []string {
	var out []string
	for _, id := range ir.SortedIdents(s) {
		out = append(out, id.Name)
	}
	return out
}

func TestLiveness_KilledBeforeUse(t *testing.T) {
	f := parse(t, diamondSrc)
	analysis.Ensure(f, ir.AnalysisLiveness)

	assert.Equal(t, []string{"r0"}, names(f.Blocks[0].UpwardExposed))
	assert.Empty(t, names(f.Blocks[0].LiveOut), "r1 is written on both paths before the exit reads it")
	assert.Equal(t, []string{"r1"}, names(f.Blocks[1].Killed))
	assert.Equal(t, []string{"r1"}, names(f.Blocks[1].LiveOut))
	assert.Equal(t, []string{"r1"}, names(f.Blocks[2].LiveOut))
	assert.Empty(t, names(f.Blocks[3].LiveOut))
	assert.Equal(t, []string{"r1"}, names(analysis.LiveIn(f, f.Blocks[3])))
}

func TestLiveness_Loop(t *testing.T) {
	f := parse(t, loopSrc)
	analysis.Ensure(f, ir.AnalysisLiveness)

	assert.True(t, f.Fresh(ir.AnalysisDominance))
	assert.True(t, f.Fresh(ir.AnalysisFrontier))
	for _, id := range ids(0, 1, 2) {
		assert.Equal(t, []string{"r0"}, names(f.Blocks[id].LiveOut), "bb%d", id)
	}
	assert.Equal(t, []string{"r0"}, names(f.Blocks[2].UpwardExposed))
	assert.Equal(t, []string{"r0"}, names(f.Blocks[2].Killed))
	assert.Empty(t, names(f.Blocks[0].UpwardExposed))
}

func TestLiveness_RegistersOnly(t *testing.T) {
	f := parse(t, `function f()
  upval u0 up 0
bb0 -> bb1
  r0 = @g + u0
  jump
bb1 -> bb2
  return r0, @g
bb2 exit
end
`)
	analysis.Ensure(f, ir.AnalysisLiveness)
	assert.Equal(t, []string{"r0"}, names(f.Blocks[0].LiveOut))
	assert.Empty(t, names(f.Blocks[0].UpwardExposed))
}

func TestEnsure_Staleness(t *testing.T) {
	f := parse(t, diamondSrc)
	analysis.Ensure(f, ir.AnalysisLiveness)
	for _, a := range []ir.Analysis{ir.AnalysisOrder, ir.AnalysisDominance, ir.AnalysisFrontier, ir.AnalysisLiveness} {
		assert.True(t, f.Fresh(a), a.String())
	}

	f.RemoveInstr(1, 0)
	assert.False(t, f.Fresh(ir.AnalysisOrder))
	assert.False(t, f.Fresh(ir.AnalysisLiveness))

	var fault *ir.InternalError
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			var ok bool
			fault, ok = r.(*ir.InternalError)
			require.True(t, ok, "recovered %T", r)
		}()
		analysis.LiveIn(f, f.Blocks[3])
	}()
	assert.Equal(t, "analysis.LiveIn", fault.Op)

	analysis.Ensure(f, ir.AnalysisLiveness)
	assert.Equal(t, []string{"r1"}, names(f.Blocks[0].LiveOut), "bb1 no longer writes r1")
}

func TestEnsure_UnknownAnalysis(t *testing.T) {
	f := parse(t, diamondSrc)
	assert.Panics(t, func() { analysis.Ensure(f, ir.Analysis(200)) })
}

func TestDefUse(t *testing.T) {
	f := parse(t, `function f(r0)
bb0 -> bb1
  0:1 r1 = r0.x
  1:1 r2 = r1 + r1
  2:2 r0 = 3
  3:2 r3 = {r2, r1, k = r2}
  4:3 local r4 = @print
  5:3 r4(r3, r0)
  6:3 return
bb1 exit
end
`)
	du := analysis.ComputeDefUse(f)
	require.True(t, du.Fresh())

	r0, _ := f.Lookup("r0")
	r1, _ := f.Lookup("r1")
	r2, _ := f.Lookup("r2")
	r4, _ := f.Lookup("r4")
	ins := f.Blocks[0].Instrs

	assert.Nil(t, du.Def(r0), "parameter reassigned in the body has two definitions")
	assert.Equal(t, 2, du.DefCount(r0))
	assert.Same(t, ins[0], du.Def(r1))
	assert.Same(t, ins[0], r1.Def)
	assert.Equal(t, ir.BlockID(0), du.DefBlock(r1))
	assert.Equal(t, ir.NoBlockID, du.DefBlock(r0))
	assert.Equal(t, 3, du.UseCount(r1))
	assert.Equal(t, 2, du.UseCount(r2))
	assert.Equal(t, 1, du.UseCount(r4))

	assert.True(t, du.IsListElement(ins[1]), "r2 sits in the array part")
	assert.True(t, du.IsListElement(ins[0]), "r1 sits in the array part")
	assert.False(t, du.IsListElement(ins[3]))

	locals := analysis.Locals(f)
	assert.True(t, locals.Contains(r0, r4))
	assert.False(t, locals.Contains(r1))

	f.Touch()
	assert.False(t, du.Fresh())
	assert.Panics(t, func() { du.UseCount(r1) })
}

func TestDot(t *testing.T) {
	f := parse(t, diamondSrc)
	var buf bytes.Buffer
	require.NoError(t, analysis.Dot(&buf, f))
	out := buf.String()

	assert.Contains(t, out, `digraph "diamond" {`)
	assert.Contains(t, out, `bb0 -> bb1 [label="T"];`)
	assert.Contains(t, out, `bb0 -> bb2 [label="F"];`)
	assert.Contains(t, out, `bb0 -> bb3 [style=dashed, color=gray];`)
	assert.Contains(t, out, `bb4 [label="bb4 (exit)"];`)
	assert.Contains(t, out, `\lreturn r1\l`)
}
