package vouch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/vouchverify/vouch/internal/logger"
)

// Runner drives the full pipeline for a set of harnesses: reachability,
// lowering, engine invocation, and concretization. Harnesses share
// nothing but the layout cache, so they run in parallel.
type Runner struct {
	Prog    *ssa.Program
	Layouts *LayoutResolver
	Engine  Engine
	Options Options
}

// NewRunner returns a runner over the given program.
func NewRunner(prog *ssa.Program, eng Engine, opt Options) *Runner {
	return &Runner{
		Prog:    prog,
		Layouts: NewLayoutResolver(nil),
		Engine:  eng,
		Options: opt,
	}
}

// HarnessResult is the outcome of verifying one harness.
type HarnessResult struct {
	Spec        *HarnessSpec
	Verdict     *Verdict
	Program     *IRProgram
	Diagnostics []string
}

// Run verifies every harness and returns results in input order.
// Cancellation stops in-flight engine processes and returns the
// context error.
func (r *Runner) Run(ctx context.Context, harnesses []*ssa.Function) ([]*HarnessResult, error) {
	results := make([]*HarnessResult, len(harnesses))

	// Snapshot once; stub resolution needs the full function set.
	all := ssautil.AllFunctions(r.Prog)

	g, ctx := errgroup.WithContext(ctx)
	limit := r.Options.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, fn := range harnesses {
		i, fn := i, fn
		g.Go(func() error {
			res, err := r.runOne(ctx, fn, all)
			if err != nil {
				return fmt.Errorf("harness %s: %w", fn.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, fn *ssa.Function, all map[*ssa.Function]bool) (*HarnessResult, error) {
	spec, err := ParseHarnessSpec(fn)
	if err != nil {
		return nil, err
	}
	log := logger.Logger().With().Str("harness", spec.Name).Logger()

	stubs, err := resolveStubs(spec, all)
	if err != nil {
		return nil, err
	}

	inv := spec.Invocation(r.Options)

	reach, err := NewReachability(r.Prog, fn, stubs)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("functions", len(reach.Functions)).Msg("reachability complete")

	cfg := CodegenConfig{}
	if !inv.AutoUnwind {
		cfg.Unwind = inv.Unwind
	}
	prog, err := Compile(spec.Name, reach, r.Layouts, cfg)
	if err != nil {
		return nil, err
	}

	res := &HarnessResult{Spec: spec, Program: prog}

	result, err := r.Engine.Verify(ctx, prog, inv)
	switch {
	case errors.Is(err, ErrEngineTimeout), errors.Is(err, ErrEngineMemout):
		// Resource exhaustion: every property stays undetermined.
		for _, prop := range prog.Properties {
			prop.Resolve(StatusUndetermined)
		}
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("engine gave up: %v", err))
		res.Verdict = NewVerdict(spec, prog)
		log.Warn().Err(err).Msg("engine exhausted resources")
		return res, nil
	case errors.Is(err, ErrEngineCanceled):
		return nil, err
	case err != nil:
		return nil, err
	}

	if err := result.Apply(prog); err != nil {
		return nil, err
	}

	if r.Options.Trace {
		c := NewConcretizer(prog)
		res.Verdict = NewVerdict(spec, prog)
		res.Verdict.Playback = c.Concretize(result)
		res.Diagnostics = append(res.Diagnostics, c.Diagnostics()...)
	} else {
		res.Verdict = NewVerdict(spec, prog)
	}

	log.Info().Bool("ok", res.Verdict.OK).Str("result", res.Verdict.Message).Msg("harness verified")
	return res, nil
}

// resolveStubs maps the spec's name pairs onto program functions.
func resolveStubs(spec *HarnessSpec, all map[*ssa.Function]bool) (map[*ssa.Function]*ssa.Function, error) {
	if len(spec.Stubs) == 0 {
		return nil, nil
	}
	find := func(name string) *ssa.Function {
		for fn := range all {
			if fn.String() == name || fn.Name() == name {
				return fn
			}
		}
		return nil
	}

	stubs := make(map[*ssa.Function]*ssa.Function, len(spec.Stubs))
	for orig, repl := range spec.Stubs {
		of := find(orig)
		if of == nil {
			return nil, fmt.Errorf("stub original %q not found", orig)
		}
		rf := find(repl)
		if rf == nil {
			return nil, fmt.Errorf("stub replacement %q not found", repl)
		}
		stubs[of] = rf
	}
	return stubs, nil
}
