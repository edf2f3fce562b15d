package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"unlua/internal/ir"
	"unlua/internal/irtext"
)

// readInput returns the contents of path, or of stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// parseInput parses src and checks the structural invariants of every
// function before any pass or analysis sees it.
func parseInput(path string, src []byte) ([]*ir.Function, error) {
	roots, err := irtext.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var errs []error
	for _, f := range roots {
		errs = append(errs, ir.Validate(f))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%s: invalid IR: %w", path, err)
	}
	return roots, nil
}

// selectFunctions lists every function in roots in pre-order, or only the
// one called name when name is set.
func selectFunctions(roots []*ir.Function, name string) ([]*ir.Function, error) {
	var all []*ir.Function
	var walk func(f *ir.Function)
	walk = func(f *ir.Function) {
		all = append(all, f)
		for _, c := range f.Children {
			walk(c)
		}
	}
	for _, f := range roots {
		walk(f)
	}
	if name == "" {
		return all, nil
	}
	for _, f := range all {
		if f.Name == name {
			return []*ir.Function{f}, nil
		}
	}
	return nil, fmt.Errorf("no function named %q", name)
}

// outputWriter opens path for writing, or returns stdout for "" and "-".
func outputWriter(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}

// closeInto runs closeFn and reports its error through errp unless an
// earlier error is already there.
func closeInto(errp *error, closeFn func() error) {
	if err := closeFn(); err != nil && *errp == nil {
		*errp = fmt.Errorf("failed to write output: %w", err)
	}
}
