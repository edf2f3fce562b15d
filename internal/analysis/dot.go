package analysis

import (
	"fmt"
	"io"
	"strings"

	"github.com/oleiade/lane"

	"unlua/internal/ir"
)

// Dot writes the control-flow graph of f in Graphviz format. Blocks are
// emitted breadth-first from the entry, unreachable blocks last; dominator
// tree edges are drawn dashed.
func Dot(w io.Writer, f *ir.Function) error {
	Ensure(f, ir.AnalysisFrontier)

	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", f.Name)
	sb.WriteString("  node [shape=box, fontname=\"Courier\"];\n")

	seen := make([]bool, len(f.Blocks))
	order := make([]ir.BlockID, 0, len(f.Blocks))
	if f.Block(f.Begin) != nil {
		q := lane.NewQueue()
		q.Enqueue(f.Begin)
		seen[f.Begin] = true
		for !q.Empty() {
			id := q.Dequeue().(ir.BlockID)
			order = append(order, id)
			for _, s := range f.Blocks[id].Succs {
				if !seen[s] {
					seen[s] = true
					q.Enqueue(s)
				}
			}
		}
	}
	for _, b := range f.Blocks {
		if !seen[b.ID] {
			order = append(order, b.ID)
		}
	}

	for _, id := range order {
		b := f.Blocks[id]
		fmt.Fprintf(&sb, "  bb%d [label=\"%s\"];\n", id, dotLabel(f, b))
	}
	for _, id := range order {
		for i, s := range f.Blocks[id].Succs {
			attr := ""
			if term := f.Blocks[id].Terminator(); term != nil && term.Kind == ir.InstrCond {
				attr = " [label=\"T\"]"
				if i == 1 {
					attr = " [label=\"F\"]"
				}
			}
			fmt.Fprintf(&sb, "  bb%d -> bb%d%s;\n", id, s, attr)
		}
	}
	for _, id := range order {
		b := f.Blocks[id]
		if Reachable(b) && b.IDom != id {
			fmt.Fprintf(&sb, "  bb%d -> bb%d [style=dashed, color=gray];\n", b.IDom, id)
		}
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

const maxDotInstrs = 20

func dotLabel(f *ir.Function, b *ir.Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "bb%d", b.ID)
	switch {
	case b.ID == f.End:
		sb.WriteString(" (exit)")
	case !Reachable(b):
		sb.WriteString(" (unreachable)")
	default:
		fmt.Fprintf(&sb, " rpo=%d", b.RPO)
		if len(b.Frontier) > 0 {
			fmt.Fprintf(&sb, " df=%v", b.Frontier)
		}
	}
	for i, in := range b.Instrs {
		if i == maxDotInstrs {
			sb.WriteString("\\l...")
			break
		}
		sb.WriteString("\\l")
		sb.WriteString(escapeDot(ir.InstrString(in)))
	}
	if len(b.Instrs) > 0 {
		sb.WriteString("\\l")
	}
	return sb.String()
}

func escapeDot(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
