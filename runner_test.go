package vouch_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/go/ssa"

	"github.com/vouchverify/vouch"
)

// fakeEngine resolves each property by class using the verdict table,
// standing in for the external decision engine.
type fakeEngine struct {
	status map[vouch.PropertyClass]vouch.PropertyStatus
	trace  vouch.CounterexampleTrace
	err    error

	// inv records the invocation for inspection.
	inv vouch.Invocation
}

func (e *fakeEngine) Verify(ctx context.Context, prog *vouch.IRProgram, inv vouch.Invocation) (*vouch.EngineResult, error) {
	e.inv = inv
	if e.err != nil {
		return nil, e.err
	}

	result := &vouch.EngineResult{}
	for _, prop := range prog.Properties {
		status, ok := e.status[prop.Class]
		if !ok {
			status = vouch.StatusSuccess
			if prop.Class == vouch.ClassCover {
				status = vouch.StatusSatisfied
			}
		}
		pr := vouch.PropertyResult{Name: prop.Name(), Status: status}
		if status == vouch.StatusFailure {
			pr.Trace = e.trace
		}
		result.Properties = append(result.Properties, pr)
	}
	return result, nil
}

// runHarness drives the full pipeline for one testdata harness.
func runHarness(tb testing.TB, path, name string, eng vouch.Engine, opt vouch.Options) *vouch.HarnessResult {
	tb.Helper()

	prog := MustBuildProgram(tb, path)
	fn := MustFindFunction(tb, prog, name)

	r := vouch.NewRunner(prog, eng, opt)
	results, err := r.Run(context.Background(), []*ssa.Function{fn})
	if err != nil {
		tb.Fatal(err)
	}
	if got, exp := len(results), 1; got != exp {
		tb.Fatalf("results=%d, expected %d", got, exp)
	}
	return results[0]
}

func TestRunner_Run(t *testing.T) {
	t.Run("OverflowCounterexample", func(t *testing.T) {
		eng := &fakeEngine{
			status: map[vouch.PropertyClass]vouch.PropertyStatus{
				vouch.ClassOverflow: vouch.StatusFailure,
			},
			trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0xc8}, Width: 8},
				{Variable: "nondet_1", Value: []byte{0xc8}, Width: 8},
			},
		}
		res := runHarness(t, "./testdata/pkg000_overflow", "HarnessAdd", eng, vouch.Options{Trace: true})

		if res.Verdict.OK {
			t.Fatal("expected failure")
		}
		if res.Verdict.Playback == nil {
			t.Fatal("expected a playback unit")
		}
		if diff := cmp.Diff(res.Verdict.Playback.Values, [][]byte{{0xc8}, {0xc8}}); diff != "" {
			t.Fatalf("unexpected playback values:\n%s", diff)
		}
	})

	t.Run("Verified", func(t *testing.T) {
		res := runHarness(t, "./testdata/pkg000_overflow", "HarnessAdd", &fakeEngine{}, vouch.Options{})
		if !res.Verdict.OK {
			t.Fatalf("unexpected verdict: %s", res.Verdict)
		}
		if got, exp := res.Verdict.Message, "verified"; got != exp {
			t.Fatalf("message=%q, expected %q", got, exp)
		}
	})

	t.Run("UnwindFailure", func(t *testing.T) {
		eng := &fakeEngine{
			status: map[vouch.PropertyClass]vouch.PropertyStatus{
				vouch.ClassUnwind: vouch.StatusFailure,
			},
		}
		res := runHarness(t, "./testdata/pkg002_unwind", "HarnessLoop", eng, vouch.Options{})

		// The directive bound flows through to the invocation and the
		// lowered program.
		if got, exp := eng.inv.Unwind, 3; got != exp {
			t.Fatalf("unwind=%d, expected %d", got, exp)
		}
		if got := len(PropsByClass(res.Program, vouch.ClassUnwind)); got == 0 {
			t.Fatal("expected an unwind property")
		}
		if res.Verdict.OK {
			t.Fatal("expected failure")
		}
	})

	t.Run("ShouldPanic", func(t *testing.T) {
		eng := &fakeEngine{
			status: map[vouch.PropertyClass]vouch.PropertyStatus{
				vouch.ClassDivZero: vouch.StatusFailure,
			},
		}
		res := runHarness(t, "./testdata/pkg003_should_panic", "HarnessDivZero", eng, vouch.Options{})
		if !res.Verdict.OK {
			t.Fatalf("unexpected verdict: %s", res.Verdict)
		}
		if got, exp := res.Verdict.Message, "panicked as expected"; got != exp {
			t.Fatalf("message=%q, expected %q", got, exp)
		}
	})

	t.Run("UnsatisfiedCover", func(t *testing.T) {
		eng := &fakeEngine{
			status: map[vouch.PropertyClass]vouch.PropertyStatus{
				vouch.ClassCover: vouch.StatusUnsatisfiable,
			},
		}
		res := runHarness(t, "./testdata/pkg004_cover", "HarnessCover", eng, vouch.Options{})
		if res.Verdict.OK {
			t.Fatal("expected failure")
		}
		if !strings.Contains(res.Verdict.Message, "cover") {
			t.Fatalf("unexpected message: %q", res.Verdict.Message)
		}
	})

	t.Run("SatisfiedCover", func(t *testing.T) {
		res := runHarness(t, "./testdata/pkg004_cover", "HarnessCover", &fakeEngine{}, vouch.Options{})
		if !res.Verdict.OK {
			t.Fatalf("unexpected verdict: %s", res.Verdict)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		eng := &fakeEngine{err: vouch.ErrEngineTimeout}
		res := runHarness(t, "./testdata/pkg000_overflow", "HarnessAdd", eng, vouch.Options{})

		if res.Verdict.OK {
			t.Fatal("resource exhaustion must not verify")
		}
		for _, prop := range res.Program.Properties {
			if got, exp := prop.Status(), vouch.StatusUndetermined; got != exp {
				t.Fatalf("property %s status=%s, expected %s", prop.Name(), got, exp)
			}
		}
		if got, exp := len(res.Diagnostics), 1; got != exp {
			t.Fatalf("diagnostics=%d, expected %d", got, exp)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		prog := MustBuildProgram(t, "./testdata/pkg000_overflow")
		fn := MustFindFunction(t, prog, "HarnessAdd")

		r := vouch.NewRunner(prog, &fakeEngine{err: vouch.ErrEngineCanceled}, vouch.Options{})
		if _, err := r.Run(context.Background(), []*ssa.Function{fn}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("StubbedHarness", func(t *testing.T) {
		res := runHarness(t, "./testdata/pkg005_stub", "HarnessStubbed", &fakeEngine{}, vouch.Options{})
		if !res.Verdict.OK {
			t.Fatalf("unexpected verdict: %s", res.Verdict)
		}
	})
}
