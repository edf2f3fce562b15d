package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"unlua/internal/analysis"
	"unlua/internal/opt"
)

func newCfgCmd(s *session) *cobra.Command {
	var (
		funcName string
		output   string
		optimize bool
	)
	cmd := &cobra.Command{
		Use:   "cfg [flags] <file.lir>",
		Short: "Render control-flow graphs in Graphviz dot syntax",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			src, err := readInput(cmd, path)
			if err != nil {
				return err
			}
			roots, err := parseInput(path, src)
			if err != nil {
				return err
			}
			if optimize {
				p, err := opt.NewPipeline(s.cfg.Optimize.Passes)
				if err != nil {
					return err
				}
				p.MaxRounds = s.cfg.Optimize.MaxRounds
				p.Jobs = s.cfg.Optimize.Jobs
				p.Validate = true
				p.Timer = s.timer
				for _, f := range roots {
					if _, err := p.Run(cmd.Context(), f); err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
				}
			}
			funcs, err := selectFunctions(roots, funcName)
			if err != nil {
				return err
			}

			w, closeOut, err := outputWriter(cmd, output)
			if err != nil {
				return err
			}
			for _, f := range funcs {
				if err := analysis.Dot(w, f); err != nil {
					_ = closeOut()
					return err
				}
			}
			return closeOut()
		},
	}
	cmd.Flags().StringVar(&funcName, "func", "", "only render the named function")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the graph to a file")
	cmd.Flags().BoolVar(&optimize, "optimize", false, "run the configured passes first")
	return cmd
}
