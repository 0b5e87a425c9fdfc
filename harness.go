package vouch

import (
	"context"
	"fmt"
	"go/ast"
	"strconv"
	"strings"
	"time"

	"golang.org/x/tools/go/ssa"
)

// DefaultEngineTimeout bounds a single engine invocation unless overridden.
const DefaultEngineTimeout = 10 * time.Minute

// HarnessSpec describes one proof harness. It is built once when the
// harness is discovered and never modified afterward.
type HarnessSpec struct {
	Name string
	Pos  string

	// Unwind is the loop bound from the harness directive; zero means unset.
	Unwind int

	// Solver selects the decision procedure inside the engine; empty
	// means the engine's default.
	Solver string

	// Stubs maps original function names to replacement function names.
	Stubs map[string]string

	// ShouldPanic inverts the harness-level verdict: the harness is
	// expected to fail with a panic-class property.
	ShouldPanic bool
}

// ParseHarnessSpec builds a spec from the harness function's directive
// comments. Recognized directives, one per line in the doc comment:
//
//	//vouch:unwind N
//	//vouch:solver NAME
//	//vouch:stub ORIGINAL REPLACEMENT
//	//vouch:should_panic
func ParseHarnessSpec(fn *ssa.Function) (*HarnessSpec, error) {
	spec := &HarnessSpec{
		Name: fn.Name(),
		Pos:  fn.Prog.Fset.Position(fn.Pos()).String(),
	}

	decl, ok := fn.Syntax().(*ast.FuncDecl)
	if !ok || decl.Doc == nil {
		return spec, nil
	}

	for _, comment := range decl.Doc.List {
		line := strings.TrimPrefix(comment.Text, "//")
		if !strings.HasPrefix(line, "vouch:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "vouch:"))
		if len(fields) == 0 {
			return nil, fmt.Errorf("harness %s: empty directive", spec.Name)
		}

		switch fields[0] {
		case "unwind":
			if len(fields) != 2 {
				return nil, fmt.Errorf("harness %s: usage: vouch:unwind N", spec.Name)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("harness %s: invalid unwind bound %q", spec.Name, fields[1])
			}
			spec.Unwind = n
		case "solver":
			if len(fields) != 2 {
				return nil, fmt.Errorf("harness %s: usage: vouch:solver NAME", spec.Name)
			}
			spec.Solver = fields[1]
		case "stub":
			if len(fields) != 3 {
				return nil, fmt.Errorf("harness %s: usage: vouch:stub ORIGINAL REPLACEMENT", spec.Name)
			}
			if spec.Stubs == nil {
				spec.Stubs = make(map[string]string)
			}
			spec.Stubs[fields[1]] = fields[2]
		case "should_panic":
			spec.ShouldPanic = true
		default:
			return nil, fmt.Errorf("harness %s: unknown directive %q", spec.Name, fields[0])
		}
	}
	return spec, nil
}

// Options carries run-level configuration shared by all harnesses.
type Options struct {
	// Unwind, when set, overrides every harness's own unwind bound.
	Unwind int

	// DefaultUnwind applies to harnesses that set no bound of their own.
	// Zero means automatic unwinding up to the engine's limit.
	DefaultUnwind int

	Solver     string
	Timeout    time.Duration
	MemLimitMB int

	// Trace requests a counterexample trace on failure.
	Trace bool

	// Concurrency bounds the number of harnesses verified in parallel.
	// Zero means one at a time.
	Concurrency int
}

// Invocation is the fully resolved descriptor handed to the engine for
// one harness.
type Invocation struct {
	Unwind     int  `cbor:"unwind"`
	AutoUnwind bool `cbor:"auto_unwind"`

	Solver     string        `cbor:"solver,omitempty"`
	Timeout    time.Duration `cbor:"-"`
	MemLimitMB int           `cbor:"mem_limit_mb,omitempty"`
	WantTrace  bool          `cbor:"want_trace"`
}

// Invocation resolves the harness spec against run options. A run-level
// unwind override wins over the harness directive, which wins over the
// run-level default; with none set, unwinding is automatic.
func (s *HarnessSpec) Invocation(opt Options) Invocation {
	inv := Invocation{
		Solver:     s.Solver,
		Timeout:    opt.Timeout,
		MemLimitMB: opt.MemLimitMB,
		WantTrace:  opt.Trace,
	}
	if inv.Solver == "" {
		inv.Solver = opt.Solver
	}
	if inv.Timeout == 0 {
		inv.Timeout = DefaultEngineTimeout
	}

	switch {
	case opt.Unwind > 0:
		inv.Unwind = opt.Unwind
	case s.Unwind > 0:
		inv.Unwind = s.Unwind
	case opt.DefaultUnwind > 0:
		inv.Unwind = opt.DefaultUnwind
	default:
		inv.AutoUnwind = true
	}
	return inv
}

// Engine verifies a lowered program and reports per-property statuses.
// Implementations must honor ctx for cancellation and treat resource
// exhaustion as undetermined, never as success.
type Engine interface {
	Verify(ctx context.Context, prog *IRProgram, inv Invocation) (*EngineResult, error)
}

// TraceStep is one binding in a counterexample trace: a variable and
// the concrete bit pattern assigned to it, little-endian.
type TraceStep struct {
	Variable string `cbor:"var"`
	Value    []byte `cbor:"value"`
	Width    uint   `cbor:"width"`
}

// CounterexampleTrace is the ordered step sequence for one failed
// property. Immutable once received.
type CounterexampleTrace []TraceStep

// PropertyResult is the engine's answer for one property.
type PropertyResult struct {
	Name   string              `cbor:"name"`
	Status PropertyStatus      `cbor:"status"`
	Trace  CounterexampleTrace `cbor:"trace,omitempty"`
}

// EngineResult is the engine's full answer for one harness.
type EngineResult struct {
	Properties []PropertyResult `cbor:"properties"`
}

// Apply resolves each property in prog from the result. Properties the
// engine did not mention stay undetermined. Unknown names are an
// engine protocol violation.
func (r *EngineResult) Apply(prog *IRProgram) error {
	for _, pr := range r.Properties {
		prop := prog.Property(pr.Name)
		if prop == nil {
			return fmt.Errorf("engine reported unknown property: %s", pr.Name)
		}
		prop.Resolve(pr.Status)
	}
	for _, prop := range prog.Properties {
		if !prop.Resolved() {
			prop.Resolve(StatusUndetermined)
		}
	}
	return nil
}

// Verdict is the harness-level outcome derived from property statuses.
type Verdict struct {
	Harness string
	OK      bool
	Message string

	// Counts indexes property totals by status.
	Counts map[PropertyStatus]int

	// Failed lists properties with FAILURE status, in program order.
	Failed []*Property

	// Playback carries the replay artifact, when one was produced.
	Playback *ConcretePlaybackUnit
}

// NewVerdict summarizes resolved property statuses for one harness.
// should_panic reinterprets the summary without touching any property.
func NewVerdict(spec *HarnessSpec, prog *IRProgram) *Verdict {
	v := &Verdict{
		Harness: spec.Name,
		Counts:  make(map[PropertyStatus]int),
	}

	var panicFailures, otherFailures, undetermined, unsatisfied int
	for _, prop := range prog.Properties {
		status := prop.Status()
		v.Counts[status]++

		switch status {
		case StatusFailure:
			v.Failed = append(v.Failed, prop)
			if prop.Class.IsPanicClass() {
				panicFailures++
			} else {
				otherFailures++
			}
		case StatusUndetermined:
			undetermined++
		case StatusUnsatisfiable, StatusUnreachable:
			if prop.Class == ClassCover {
				unsatisfied++
			}
		}
	}

	if spec.ShouldPanic {
		// A failing panic check cuts its execution path, so properties
		// past the panic legitimately stay undetermined. Only determined
		// results can refute the expectation.
		switch {
		case otherFailures > 0:
			v.Message = "unexpected non-panic failures"
		case panicFailures == 0:
			v.Message = "expected a panic, got none"
		case unsatisfied > 0:
			v.Message = "unsatisfied cover properties"
		default:
			v.OK = true
			v.Message = "panicked as expected"
		}
		return v
	}

	switch {
	case panicFailures+otherFailures > 0:
		v.Message = fmt.Sprintf("%d failed properties", panicFailures+otherFailures)
	case undetermined > 0:
		v.Message = fmt.Sprintf("%d undetermined properties", undetermined)
	case unsatisfied > 0:
		v.Message = fmt.Sprintf("%d unsatisfied cover properties", unsatisfied)
	default:
		v.OK = true
		v.Message = "verified"
	}
	return v
}

// String returns a single summary line for the verdict.
func (v *Verdict) String() string {
	status := "FAILED"
	if v.OK {
		status = "OK"
	}
	return fmt.Sprintf("%s: %s (%s)", v.Harness, status, v.Message)
}
