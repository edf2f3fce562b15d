package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"unlua/internal/cache"
	"unlua/internal/ir"
	"unlua/internal/irtext"
	"unlua/internal/opt"
	"unlua/internal/trace"
)

type optOptions struct {
	passes     []string
	maxRounds  int
	noValidate bool
	stats      bool
	output     string
}

func newOptCmd(s *session) *cobra.Command {
	var o optOptions
	cmd := &cobra.Command{
		Use:   "opt [flags] <file.lir>",
		Short: "Run the optimization pipeline and print the rewritten IR",
		Long: `Parse textual IR, run the configured passes to a fixed point over every
function and closure, and print the result. Available passes:
` + describePasses(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("passes") {
				o.passes = s.cfg.Optimize.Passes
			}
			if !cmd.Flags().Changed("max-rounds") {
				o.maxRounds = s.cfg.Optimize.MaxRounds
			}
			return s.runOpt(cmd, args[0], o)
		},
	}
	cmd.Flags().StringSliceVar(&o.passes, "passes", nil, "comma-separated pass list (default from "+"config)")
	cmd.Flags().IntVar(&o.maxRounds, "max-rounds", opt.DefaultMaxRounds, "pass-list repetitions per function")
	cmd.Flags().BoolVar(&o.noValidate, "no-validate", false, "skip IR validation after each changing pass")
	cmd.Flags().BoolVar(&o.stats, "stats", false, "print pipeline statistics to stderr")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write the result to a file")
	return cmd
}

func describePasses() string {
	var sb strings.Builder
	for _, name := range opt.Names() {
		fmt.Fprintf(&sb, "  %-14s %s\n", name, opt.Describe(name))
	}
	return sb.String()
}

func (s *session) runOpt(cmd *cobra.Command, path string, o optOptions) (err error) {
	ctx, span := trace.Start(cmd.Context(), trace.ScopeDriver, "opt")
	defer span.End(path)

	pipeline, err := opt.NewPipeline(o.passes)
	if err != nil {
		return err
	}
	pipeline.MaxRounds = o.maxRounds
	pipeline.Jobs = s.cfg.Optimize.Jobs
	pipeline.Validate = !o.noValidate
	pipeline.Timer = s.timer

	idx := s.timer.Begin("read")
	src, err := readInput(cmd, path)
	s.timer.End(idx, "")
	if err != nil {
		return err
	}

	out, closeOut, err := outputWriter(cmd, o.output)
	if err != nil {
		return err
	}
	defer closeInto(&err, closeOut)
	color := o.output == "" && useColor(cmd, out)

	var store *cache.DiskCache
	key := cache.Key(src, cache.FingerprintOf(pipeline))
	if s.cfg.Cache.Enabled && path != "-" {
		if store, err = cache.Open(s.cfg.Cache.Dir, "unlua"); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: cache disabled: %v\n", err)
			store = nil
		}
	}
	if payload, ok, err := store.Get(key); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	} else if ok {
		trace.Point(ctx, trace.ScopeDriver, "cache-hit", key.String())
		if o.stats {
			printStats(cmd, payload.Stats, true)
		}
		return writeIR(out, payload.Output, color)
	}

	idx = s.timer.Begin("parse")
	roots, err := parseInput(path, src)
	s.timer.End(idx, fmt.Sprintf("%d functions", len(roots)))
	if err != nil {
		return err
	}

	idx = s.timer.Begin("optimize")
	var total opt.Result
	for _, f := range roots {
		res, err := pipeline.Run(ctx, f)
		if err != nil {
			s.timer.End(idx, "failed")
			return fmt.Errorf("%s: %w", path, err)
		}
		total.Functions += res.Functions
		total.Changed += res.Changed
		total.Rounds += res.Rounds
		total.Removed += res.Removed
	}
	s.timer.End(idx, fmt.Sprintf("%d removed", total.Removed))

	var buf bytes.Buffer
	for i, f := range roots {
		if i > 0 {
			buf.WriteString("\n")
		}
		if err := ir.Fprint(&buf, f, ir.PrintOptions{}); err != nil {
			return err
		}
	}
	if err := store.Put(key, &cache.Payload{
		Source:   path,
		Passes:   pipeline.PassNames(),
		Output:   buf.String(),
		Stats:    total,
		StoredAt: time.Now(),
	}); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: cache write failed: %v\n", err)
	}
	if o.stats {
		printStats(cmd, total, false)
	}
	return writeIR(out, buf.String(), color)
}

// writeIR prints dumped IR, re-rendering it with highlighting when color
// is on.
func writeIR(out interface{ Write([]byte) (int, error) }, text string, color bool) error {
	if !color {
		_, err := out.Write([]byte(text))
		return err
	}
	roots, err := irtext.Parse(text)
	if err != nil {
		return err
	}
	for i, f := range roots {
		if i > 0 {
			if _, err := out.Write([]byte("\n")); err != nil {
				return err
			}
		}
		if err := ir.Fprint(out, f, ir.PrintOptions{Color: true}); err != nil {
			return err
		}
	}
	return nil
}

func printStats(cmd *cobra.Command, r opt.Result, cached bool) {
	suffix := ""
	if cached {
		suffix = " (cached)"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "functions=%d changed=%d rounds=%d removed=%d%s\n",
		r.Functions, r.Changed, r.Rounds, r.Removed, suffix)
}
