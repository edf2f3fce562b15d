package ir

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Analysis names a per-function analysis result whose freshness is tracked.
type Analysis uint8

const (
	AnalysisOrder Analysis = iota
	AnalysisDominance
	AnalysisFrontier
	AnalysisLiveness
	AnalysisDefUse
	numAnalyses
)

// String returns the string representation of Analysis.
func (a Analysis) String() string {
	switch a {
	case AnalysisOrder:
		return "order"
	case AnalysisDominance:
		return "dominance"
	case AnalysisFrontier:
		return "frontier"
	case AnalysisLiveness:
		return "liveness"
	case AnalysisDefUse:
		return "defuse"
	default:
		return "unknown"
	}
}

// Function is a decoded function: its blocks, identifiers and nested
// closures. Begin is the entry block, End the empty exit sentinel.
type Function struct {
	Name     string
	Blocks   []*Block
	Begin    BlockID
	End      BlockID
	Params   []*Identifier
	Children []*Function
	UpValues []UpValueBinding
	Vararg   bool

	// Vars tracks the live identifiers of the function; propagation drops
	// identifiers whose only definition it eliminated.
	Vars IdentSet

	idents map[string]*Identifier

	// epoch advances on every mutation; stamps[a] holds epoch+1 as of the
	// last run of analysis a, zero when it never ran.
	epoch  uint64
	stamps [numAnalyses]uint64
}

// NewFunction returns an empty function.
func NewFunction(name string) *Function {
	return &Function{
		Name:   name,
		Begin:  0,
		End:    NoBlockID,
		Vars:   NewIdentSet(),
		idents: make(map[string]*Identifier),
	}
}

// Ident interns the identifier called name. Globals live in their own
// namespace. The kind and slot of an existing identifier are never changed.
func (f *Function) Ident(name string, kind IdentKind, slot int) *Identifier {
	key := name
	if kind == IdentGlobal {
		key, slot = "@"+name, -1
	}
	if id, ok := f.idents[key]; ok {
		return id
	}
	id := &Identifier{Name: name, Kind: kind, Slot: slot}
	f.idents[key] = id
	if kind != IdentGlobal {
		f.Vars.Add(id)
	}
	return id
}

// Lookup returns the interned identifier called name; globals are found
// under "@name".
func (f *Function) Lookup(name string) (*Identifier, bool) {
	id, ok := f.idents[name]
	return id, ok
}

// Idents returns every interned identifier in name order.
func (f *Function) Idents() []*Identifier {
	out := make([]*Identifier, 0, len(f.idents))
	for _, id := range f.idents {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b *Identifier) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// AddBlock appends a new empty block.
func (f *Function) AddBlock() *Block {
	id, err := safecast.Conv[int32](len(f.Blocks))
	if err != nil {
		panic(fmt.Errorf("ir: block id overflow: %w", err))
	}
	b := &Block{ID: BlockID(id)}
	b.resetAnalysis()
	f.Blocks = append(f.Blocks, b)
	f.Touch()
	return b
}

// Block returns the block with the given ID, or nil when out of range.
func (f *Function) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// AddEdge links from -> to.
func (f *Function) AddEdge(from, to BlockID) {
	src, dst := f.Block(from), f.Block(to)
	if src == nil || dst == nil {
		panic(fmt.Errorf("ir: edge bb%d -> bb%d out of range", from, to))
	}
	src.Succs = append(src.Succs, to)
	dst.Preds = append(dst.Preds, from)
	f.Touch()
}

// RebuildPreds recomputes every predecessor list from the successor lists.
func (f *Function) RebuildPreds() {
	for _, b := range f.Blocks {
		b.Preds = b.Preds[:0]
	}
	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			f.Blocks[s].Preds = append(f.Blocks[s].Preds, b.ID)
		}
	}
	f.Touch()
}

// AppendInstr appends in to block id.
func (f *Function) AppendInstr(id BlockID, in *Instr) {
	b := f.Block(id)
	b.Instrs = append(b.Instrs, in)
	f.Touch()
}

// InsertInstr inserts in at position idx of block id.
func (f *Function) InsertInstr(id BlockID, idx int, in *Instr) {
	b := f.Block(id)
	b.Instrs = slices.Insert(b.Instrs, idx, in)
	f.Touch()
}

// RemoveInstr deletes and returns the instruction at position idx of block id.
func (f *Function) RemoveInstr(id BlockID, idx int) *Instr {
	b := f.Block(id)
	in := b.Instrs[idx]
	b.Instrs = slices.Delete(b.Instrs, idx, idx+1)
	f.Touch()
	return in
}

// ReplaceUses runs in.ReplaceUses and records the mutation.
func (f *Function) ReplaceUses(in *Instr, old *Identifier, with *Expr) bool {
	if !in.ReplaceUses(old, with) {
		return false
	}
	f.Touch()
	return true
}

// NumInstrs returns the instruction count over all blocks.
func (f *Function) NumInstrs() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}

// Touch records a mutation, making every analysis result stale.
func (f *Function) Touch() {
	f.epoch++
}

// Epoch returns the mutation counter.
func (f *Function) Epoch() uint64 {
	return f.epoch
}

// Stamp marks analysis a as computed against the current IR.
func (f *Function) Stamp(a Analysis) {
	if a >= numAnalyses {
		Faultf("Function.Stamp", "unknown analysis %d", a)
	}
	f.stamps[a] = f.epoch + 1
}

// Fresh reports whether analysis a was computed since the last mutation.
func (f *Function) Fresh(a Analysis) bool {
	return a < numAnalyses && f.stamps[a] == f.epoch+1
}

// Require panics with an *InternalError unless analysis a is fresh.
func (f *Function) Require(a Analysis, consumer string) {
	if !f.Fresh(a) {
		Faultf(consumer, "function %s: %s results are stale", f.Name, a)
	}
}

// ResetAnalysis clears the scratch fields of every block.
func (f *Function) ResetAnalysis() {
	for _, b := range f.Blocks {
		b.resetAnalysis()
	}
}
