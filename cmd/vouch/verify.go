package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/vouchverify/vouch"
	"github.com/vouchverify/vouch/engine"
	"github.com/vouchverify/vouch/internal/logger"
)

// HarnessPrefix marks proof-harness functions: exported, niladic
// functions whose name starts with it.
const HarnessPrefix = "Harness"

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("vouch-verify", flag.ContinueOnError)
	enginePath := fs.String("engine", "", "decision engine binary (default vouch-engine)")
	solver := fs.String("solver", "", "decision procedure selector")
	unwind := fs.Int("unwind", 0, "loop unwind bound, overrides harness directives")
	defaultUnwind := fs.Int("default-unwind", 0, "loop unwind bound for harnesses without one")
	timeout := fs.Duration("timeout", 0, "per-harness engine timeout")
	memLimit := fs.Int("mem-limit-mb", 0, "engine memory ceiling in MB")
	trace := fs.Bool("trace", false, "produce replay tests for failures")
	outDir := fs.String("out", ".", "directory for generated replay tests")
	jobs := fs.Int("jobs", 1, "harnesses verified in parallel")
	harness := fs.String("harness", "", "only verify harnesses with this name")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package pattern required")
	}

	if !*verbose {
		logger.Set(logger.Logger().Level(zerolog.InfoLevel))
	}

	prog, harnesses, err := loadHarnesses(fs.Args(), *harness)
	if err != nil {
		return err
	}
	if len(harnesses) == 0 {
		return fmt.Errorf("no harnesses found")
	}

	runner := vouch.NewRunner(prog, engine.NewClient(*enginePath), vouch.Options{
		Unwind:        *unwind,
		DefaultUnwind: *defaultUnwind,
		Solver:        *solver,
		Timeout:       *timeout,
		MemLimitMB:    *memLimit,
		Trace:         *trace,
		Concurrency:   *jobs,
	})

	results, err := runner.Run(ctx, harnesses)
	if err != nil {
		return err
	}

	failed := 0
	for i, res := range results {
		fmt.Println(res.Verdict)
		for _, diag := range res.Diagnostics {
			fmt.Printf("  note: %s\n", diag)
		}
		if !res.Verdict.OK {
			failed++
		}
		if res.Verdict.Playback != nil {
			if err := writePlayback(*outDir, harnesses[i], res.Verdict.Playback); err != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d harnesses failed", failed, len(results))
	}
	return nil
}

// loadHarnesses builds SSA for the given patterns and collects harness
// functions, sorted by name for stable output.
func loadHarnesses(patterns []string, only string) (*ssa.Program, []*ssa.Function, error) {
	cfg := &packages.Config{Mode: packages.LoadAllSyntax, Tests: true}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, nil, err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, nil, fmt.Errorf("packages contain errors")
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()

	var harnesses []*ssa.Function
	for _, pkg := range ssaPkgs {
		if pkg == nil {
			continue
		}
		for _, member := range pkg.Members {
			fn, ok := member.(*ssa.Function)
			if !ok || !isHarness(fn) {
				continue
			}
			if only != "" && fn.Name() != only {
				continue
			}
			harnesses = append(harnesses, fn)
		}
	}
	sort.Slice(harnesses, func(i, j int) bool {
		return harnesses[i].String() < harnesses[j].String()
	})
	return prog, harnesses, nil
}

func isHarness(fn *ssa.Function) bool {
	if !strings.HasPrefix(fn.Name(), HarnessPrefix) {
		return false
	}
	sig := fn.Signature
	return sig.Params().Len() == 0 && sig.Results().Len() == 0 && sig.Recv() == nil
}

func writePlayback(dir string, fn *ssa.Function, unit *vouch.ConcretePlaybackUnit) error {
	pkgName := "main"
	if fn.Pkg != nil && fn.Pkg.Pkg != nil {
		pkgName = fn.Pkg.Pkg.Name()
	}
	src := unit.GenerateTest(pkgName, fn.Name())
	path := filepath.Join(dir, strings.ToLower(unit.Harness)+"_playback_test.go")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		return err
	}
	fmt.Printf("  wrote %s\n", path)
	return nil
}
