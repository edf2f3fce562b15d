package opt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlua/internal/ir"
	"unlua/internal/irtext"
	"unlua/internal/opt"
)

// TestSimplifyCFG_ForwardingChain tests that jumps are threaded through
// blocks that only forward control and that those blocks disappear.
func TestSimplifyCFG_ForwardingChain(t *testing.T) {
	// bb1 and bb2 only jump on; bb0 should branch straight to bb4.
	f := irtext.MustParse(`function f(r0)
bb0 -> bb1, bb3
  0:1 if r0
bb1 -> bb2
  1:2 jump
bb2 -> bb4
  2:3 jump
bb3 -> bb4
  3:4 @g()
  4:4 jump
bb4 -> bb5
  5:5 return
bb5 exit
end
`)
	require.True(t, opt.SimplifyCFG{}.Run(context.Background(), f))
	require.NoError(t, ir.Validate(f))

	assert.Equal(t, `function f(r0)
bb0 -> bb2, bb1
  0:1 if r0
bb1 -> bb2
  3:4 @g()
  4:4 jump
bb2 -> bb3
  5:5 return
bb3 exit
end
`, ir.Sprint(f))
	assert.Equal(t, ir.BlockID(3), f.End)
	assert.Equal(t, []ir.BlockID{0, 1}, f.Blocks[2].Preds)
}

// TestSimplifyCFG_Unreachable tests that blocks without a path from the
// entry are dropped and the rest renumbered.
func TestSimplifyCFG_Unreachable(t *testing.T) {
	f := irtext.MustParse(`function f()
bb0 -> bb2
  0:1 r0 = 1
  1:1 jump
bb1 -> bb2
  2:2 r0 = 2
  3:2 jump
bb2 -> bb3
  4:3 return r0
bb3 exit
end
`)
	require.Error(t, ir.Validate(f), "bb1 is unreachable")

	require.True(t, opt.SimplifyCFG{}.Run(context.Background(), f))
	require.NoError(t, ir.Validate(f))
	require.Len(t, f.Blocks, 3)
	for i, b := range f.Blocks {
		assert.Equal(t, ir.BlockID(i), b.ID)
	}
	assert.Equal(t, []ir.BlockID{1}, f.Blocks[0].Succs)
	assert.Equal(t, []ir.BlockID{0}, f.Blocks[1].Preds)
	assert.Equal(t, "return r0", ir.InstrString(f.Blocks[1].Instrs[0]))

	assert.False(t, opt.SimplifyCFG{}.Run(context.Background(), f), "second run finds nothing")
}

// TestSimplifyCFG_KeepsEntryAndCycles tests that the entry block and a cycle
// of forwarding blocks are left in place.
func TestSimplifyCFG_KeepsEntryAndCycles(t *testing.T) {
	f := irtext.MustParse(`function f(r0)
bb0 -> bb1, bb3
  0:1 if r0
bb1 -> bb2
  1:2 jump
bb2 -> bb1
  2:2 jump
bb3 -> bb4
  3:3 return
bb4 exit
end
`)
	before := ir.Sprint(f)
	assert.False(t, opt.SimplifyCFG{}.Run(context.Background(), f))
	assert.Equal(t, before, ir.Sprint(f))
}

func TestSimplifyCFG_InvalidatesAnalyses(t *testing.T) {
	f := irtext.MustParse(`function f()
bb0 -> bb2
  0:1 jump
bb1 -> bb2
  1:2 jump
bb2 -> bb3
  2:3 return
bb3 exit
end
`)
	f.Stamp(ir.AnalysisOrder)
	require.True(t, f.Fresh(ir.AnalysisOrder))
	require.True(t, opt.SimplifyCFG{}.Run(context.Background(), f))
	assert.False(t, f.Fresh(ir.AnalysisOrder))
}
