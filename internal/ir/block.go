package ir

import "github.com/willf/bitset"

// Block is a basic block. It owns its instructions; Preds and Succs are
// non-owning references by ID.
type Block struct {
	ID     BlockID
	Instrs []*Instr
	Preds  []BlockID
	Succs  []BlockID

	// Analysis scratch state. Valid only while the matching analysis stamp
	// on the owning Function is fresh.
	RPO           int            // reverse-postorder number, -1 when unreachable
	IDom          BlockID        // immediate dominator; the entry dominates itself
	Dom           *bitset.BitSet // dominator set, indexed by BlockID
	DomChildren   []BlockID      // dominator tree children
	Frontier      []BlockID      // dominance frontier
	Killed        IdentSet       // identifiers written in the block
	UpwardExposed IdentSet       // identifiers read before any write in the block
	LiveOut       IdentSet       // identifiers live on exit
}

// Dominates reports whether b dominates other, per the last dominance run.
func (b *Block) Dominates(other *Block) bool {
	if b == nil || other == nil || other.Dom == nil {
		return false
	}
	return other.Dom.Test(uint(b.ID))
}

// Terminator returns the last instruction, or nil for an empty block.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// IndexOf returns the position of in within b, or -1.
func (b *Block) IndexOf(in *Instr) int {
	for i, x := range b.Instrs {
		if x == in {
			return i
		}
	}
	return -1
}

func (b *Block) resetAnalysis() {
	b.RPO = -1
	b.IDom = NoBlockID
	b.Dom = nil
	b.DomChildren = nil
	b.Frontier = nil
	b.Killed = nil
	b.UpwardExposed = nil
	b.LiveOut = nil
}
