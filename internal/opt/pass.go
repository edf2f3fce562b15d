// Package opt holds the IR rewriting passes and the pipeline that drives
// them to a fixed point over a function and its closures.
package opt

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"unlua/internal/ir"
	"unlua/internal/trace"
)

// Pass rewrites one function in place and reports whether it changed
// anything. A pass recomputes the analyses it consumes; it never assumes
// results from an earlier pass are still valid.
type Pass interface {
	Name() string
	Run(ctx context.Context, f *ir.Function) bool
}

// ErrUnknownPass is returned for a pass name missing from the registry.
var ErrUnknownPass = errors.New("unknown pass")

type passDescriptor struct {
	name string
	desc string
	new  func() Pass
}

var passes = [...]passDescriptor{
	{name: "simplify-cfg", desc: "Jump Threading and Unreachable Block Removal", new: func() Pass { return SimplifyCFG{} }},
	{name: "propagate", desc: "Expression Propagation", new: func() Pass { return Propagate{} }},
}

// DefaultPasses is the pass order used when none is configured.
var DefaultPasses = []string{"simplify-cfg", "propagate"}

// Lookup returns a fresh instance of the pass called name.
func Lookup(name string) (Pass, error) {
	for _, d := range passes {
		if d.name == name {
			return d.new(), nil
		}
	}
	return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownPass, name, Names())
}

// Names lists the registered passes in registry order.
func Names() []string {
	out := make([]string, len(passes))
	for i, d := range passes {
		out[i] = d.name
	}
	return out
}

// Describe returns the one-line description of a registered pass.
func Describe(name string) string {
	i := slices.IndexFunc(passes[:], func(d passDescriptor) bool { return d.name == name })
	if i < 0 {
		return ""
	}
	return passes[i].desc
}

// rewriteLog emits rewrite-scope trace points tagged with the function
// being rewritten.
type rewriteLog struct {
	ctx context.Context
}

func newRewriteLog(ctx context.Context, f *ir.Function) rewriteLog {
	return rewriteLog{ctx: trace.WithFunc(ctx, f.Name)}
}

func (l rewriteLog) logf(name, format string, args ...any) {
	trace.Pointf(l.ctx, trace.ScopeRewrite, name, format, args...)
}
