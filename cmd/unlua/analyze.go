package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unlua/internal/analysis"
	"unlua/internal/ir"
	"unlua/internal/trace"
)

// blockFacts is the per-block report of analyze --format json.
type blockFacts struct {
	Block    ir.BlockID   `json:"block"`
	RPO      int          `json:"rpo"`
	IDom     ir.BlockID   `json:"idom"`
	Frontier []ir.BlockID `json:"frontier"`
	LiveIn   []string     `json:"live_in"`
	LiveOut  []string     `json:"live_out"`
	Exit     bool         `json:"exit,omitempty"`
}

type funcFacts struct {
	Function string       `json:"function"`
	RPO      []ir.BlockID `json:"rpo"`
	Blocks   []blockFacts `json:"blocks"`
}

func newAnalyzeCmd(s *session) *cobra.Command {
	var (
		funcName string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "analyze [flags] <file.lir>",
		Short: "Print block order, dominators, frontiers and liveness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
			return s.runAnalyze(cmd, args[0], funcName, format)
		},
	}
	cmd.Flags().StringVar(&funcName, "func", "", "only report the named function")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	return cmd
}

func (s *session) runAnalyze(cmd *cobra.Command, path, funcName, format string) error {
	ctx, span := trace.Start(cmd.Context(), trace.ScopeDriver, "analyze")
	defer span.End(path)

	src, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	idx := s.timer.Begin("parse")
	roots, err := parseInput(path, src)
	s.timer.End(idx, "")
	if err != nil {
		return err
	}
	funcs, err := selectFunctions(roots, funcName)
	if err != nil {
		return err
	}

	idx = s.timer.Begin("analyze")
	facts := make([]funcFacts, 0, len(funcs))
	for _, f := range funcs {
		_, fs := trace.Start(trace.WithFunc(ctx, f.Name), trace.ScopeFunc, "func:"+f.Name)
		analysis.Ensure(f, ir.AnalysisLiveness)
		facts = append(facts, collectFacts(f))
		fs.End(fmt.Sprintf("%d blocks", len(f.Blocks)))
	}
	s.timer.End(idx, fmt.Sprintf("%d functions", len(funcs)))

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(facts)
	}
	return printFacts(out, facts, useColor(cmd, out))
}

func collectFacts(f *ir.Function) funcFacts {
	ff := funcFacts{Function: f.Name, RPO: analysis.RPO(f)}
	for _, b := range f.Blocks {
		bf := blockFacts{
			Block:    b.ID,
			RPO:      b.RPO,
			IDom:     b.IDom,
			Frontier: b.Frontier,
			LiveIn:   identNames(analysis.LiveIn(f, b)),
			LiveOut:  identNames(b.LiveOut),
			Exit:     b.ID == f.End,
		}
		if bf.Frontier == nil {
			bf.Frontier = []ir.BlockID{}
		}
		ff.Blocks = append(ff.Blocks, bf)
	}
	return ff
}

func identNames(s ir.IdentSet) []string {
	ids := ir.SortedIdents(s)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func printFacts(w io.Writer, facts []funcFacts, useColor bool) error {
	header := color.New(color.Bold)
	if !useColor {
		header.DisableColor()
	} else {
		header.EnableColor()
	}
	for i, ff := range facts {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := header.Fprintf(w, "function %s\n", ff.Function); err != nil {
			return err
		}
		fmt.Fprintf(w, "  rpo %s\n", blockList(ff.RPO))
		for _, bf := range ff.Blocks {
			if bf.Exit {
				fmt.Fprintf(w, "  bb%-3d exit\n", bf.Block)
				continue
			}
			if bf.RPO < 0 {
				fmt.Fprintf(w, "  bb%-3d unreachable\n", bf.Block)
				continue
			}
			fmt.Fprintf(w, "  bb%-3d rpo=%-3d idom=bb%-3d df=%s in={%s} out={%s}\n",
				bf.Block, bf.RPO, bf.IDom, blockList(bf.Frontier),
				strings.Join(bf.LiveIn, ", "), strings.Join(bf.LiveOut, ", "))
		}
	}
	return nil
}

func blockList(ids []ir.BlockID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("bb%d", id)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
