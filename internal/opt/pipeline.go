package opt

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"unlua/internal/ir"
	"unlua/internal/observ"
	"unlua/internal/trace"
)

// DefaultMaxRounds bounds how often the pass list is repeated on one
// function when no limit is configured.
const DefaultMaxRounds = 8

// Pipeline runs a list of passes over a function and all of its nested
// closures. Every function is driven independently to a fixed point: the
// pass list repeats until a round changes nothing or MaxRounds is reached.
type Pipeline struct {
	Passes    []Pass
	MaxRounds int
	Jobs      int           // concurrent functions, GOMAXPROCS when <= 0
	Validate  bool          // run ir.ValidateFunction after every changing pass
	Timer     *observ.Timer // optional per-pass timings
}

// Result summarizes one pipeline run.
type Result struct {
	Functions int `json:"functions" msgpack:"functions"`
	Changed   int `json:"changed" msgpack:"changed"`
	Rounds    int `json:"rounds" msgpack:"rounds"`
	Removed   int `json:"removed" msgpack:"removed"` // instructions deleted
}

// NewPipeline resolves names against the pass registry. An empty list
// selects DefaultPasses.
func NewPipeline(names []string) (*Pipeline, error) {
	if len(names) == 0 {
		names = DefaultPasses
	}
	p := &Pipeline{MaxRounds: DefaultMaxRounds}
	var errs []error
	for _, name := range names {
		pass, err := Lookup(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Passes = append(p.Passes, pass)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// PassNames returns the names of the configured passes in order.
func (p *Pipeline) PassNames() []string {
	out := make([]string, len(p.Passes))
	for i, pass := range p.Passes {
		out[i] = pass.Name()
	}
	return out
}

// Run optimizes f and every closure nested in it. Functions share no
// identifiers, so they are processed concurrently. An *ir.InternalError
// raised inside a worker is re-raised on the calling goroutine.
func (p *Pipeline) Run(ctx context.Context, f *ir.Function) (Result, error) {
	funcs := flatten(f, nil)
	ctx, span := trace.Start(ctx, trace.ScopePass, "optimize")

	jobs := p.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	var (
		mu     sync.Mutex
		total  Result
		fault  any
		failed bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(funcs)))
	for _, fn := range funcs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if !failed {
						fault, failed = r, true
					}
					mu.Unlock()
					err = fmt.Errorf("%s: aborted", fn.Name)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.runFunc(gctx, fn)
			mu.Lock()
			total.Functions++
			total.Changed += res.Changed
			total.Rounds += res.Rounds
			total.Removed += res.Removed
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	span.Set("functions", strconv.Itoa(total.Functions)).
		Set("changed", strconv.Itoa(total.Changed)).
		End(fmt.Sprintf("%d rounds", total.Rounds))
	if failed {
		panic(fault)
	}
	return total, err
}

// runFunc drives one function to a fixed point.
func (p *Pipeline) runFunc(ctx context.Context, f *ir.Function) (Result, error) {
	ctx = trace.WithFunc(ctx, f.Name)
	ctx, span := trace.Start(ctx, trace.ScopeFunc, "func:"+f.Name)

	before := f.NumInstrs()
	maxRounds := p.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	var res Result
	converged := false
	for round := 0; round < maxRounds && !converged; round++ {
		res.Rounds++
		changed, err := p.runRound(ctx, f)
		if err != nil {
			span.End("failed")
			return res, err
		}
		converged = !changed
		if changed {
			res.Changed = 1
		}
	}
	if !converged {
		trace.Pointf(ctx, trace.ScopeFunc, "round-limit", "still changing after %d rounds", maxRounds)
	}
	res.Removed = before - f.NumInstrs()
	span.Set("removed", strconv.Itoa(res.Removed)).End(fmt.Sprintf("%d rounds", res.Rounds))
	return res, nil
}

func (p *Pipeline) runRound(ctx context.Context, f *ir.Function) (bool, error) {
	changed := false
	for _, pass := range p.Passes {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		pctx, span := trace.Start(ctx, trace.ScopeFunc, pass.Name())
		start := time.Now()
		did := pass.Run(pctx, f)
		p.Timer.Add(pass.Name(), time.Since(start))
		span.End(strconv.FormatBool(did))
		if !did {
			continue
		}
		changed = true
		f.ResetAnalysis()
		if p.Validate {
			if err := ir.ValidateFunction(f); err != nil {
				return true, fmt.Errorf("after %s: %w", pass.Name(), err)
			}
		}
	}
	return changed, nil
}

// flatten lists f and its nested closures in pre-order.
func flatten(f *ir.Function, out []*ir.Function) []*ir.Function {
	out = append(out, f)
	for _, c := range f.Children {
		out = flatten(c, out)
	}
	return out
}
