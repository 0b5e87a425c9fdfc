package vouch_test

import (
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vouchverify/vouch"
)

// concretizeProgram builds a two-site program with one failing overflow
// property and one unsupported property.
func concretizeProgram(tb testing.TB) (*vouch.IRProgram, *vouch.Property, *vouch.Property) {
	tb.Helper()
	prog := vouch.NewIRProgram("HarnessAdd")
	prog.AddSite(&vouch.NondetSite{TypeName: "uint8", Width: 8, Strategy: vouch.NondetSafe})
	prog.AddSite(&vouch.NondetSite{TypeName: "uint16", Width: 16, Strategy: vouch.NondetSafe})
	overflow := prog.AddProperty("main.HarnessAdd", vouch.ClassOverflow, token.Position{})
	unsupported := prog.AddProperty("main.HarnessAdd", vouch.ClassUnsupported, token.Position{})
	return prog, overflow, unsupported
}

func TestConcretizer_Concretize(t *testing.T) {
	t.Run("NoFailures", func(t *testing.T) {
		prog, overflow, _ := concretizeProgram(t)
		c := vouch.NewConcretizer(prog)
		unit := c.Concretize(&vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: overflow.Name(), Status: vouch.StatusSuccess},
		}})
		if unit != nil {
			t.Fatal("expected no unit")
		}
		if got, exp := c.State(), vouch.StateNoTrace; got != exp {
			t.Fatalf("state=%s, expected %s", got, exp)
		}
	})

	t.Run("ExtractFirstBinding", func(t *testing.T) {
		prog, overflow, _ := concretizeProgram(t)
		c := vouch.NewConcretizer(prog)
		unit := c.Concretize(&vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: overflow.Name(), Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0xc8}, Width: 8},
				{Variable: "nondet_0", Value: []byte{0x01}, Width: 8}, // later rebinding, ignored
				{Variable: "nondet_1", Value: []byte{0x34, 0x12}, Width: 16},
			}},
		}})
		if unit == nil {
			t.Fatal("expected a unit")
		}
		if got, exp := unit.Property, overflow.Name(); got != exp {
			t.Fatalf("property=%s, expected %s", got, exp)
		}
		if diff := cmp.Diff(unit.Values, [][]byte{{0xc8}, {0x34, 0x12}}); diff != "" {
			t.Fatalf("unexpected values:\n%s", diff)
		}
		if got, exp := c.State(), vouch.StateEmitted; got != exp {
			t.Fatalf("state=%s, expected %s", got, exp)
		}
	})

	t.Run("ZeroFillUnexercised", func(t *testing.T) {
		prog, overflow, _ := concretizeProgram(t)
		c := vouch.NewConcretizer(prog)
		unit := c.Concretize(&vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: overflow.Name(), Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0xff}, Width: 8},
			}},
		}})
		if unit == nil {
			t.Fatal("expected a unit")
		}
		if diff := cmp.Diff(unit.Values, [][]byte{{0xff}, {0x00, 0x00}}); diff != "" {
			t.Fatalf("unexpected values:\n%s", diff)
		}
	})

	t.Run("NonConcretizableExcluded", func(t *testing.T) {
		prog, _, unsupported := concretizeProgram(t)
		c := vouch.NewConcretizer(prog)
		unit := c.Concretize(&vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: unsupported.Name(), Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0x01}, Width: 8},
			}},
		}})
		if unit != nil {
			t.Fatal("expected no unit")
		}
		if got, exp := len(c.Diagnostics()), 1; got != exp {
			t.Fatalf("diagnostics=%d, expected %d", got, exp)
		}
	})

	t.Run("DistinctCounterexampleDiagnostic", func(t *testing.T) {
		prog := vouch.NewIRProgram("HarnessAdd")
		prog.AddSite(&vouch.NondetSite{TypeName: "uint8", Width: 8, Strategy: vouch.NondetSafe})
		a := prog.AddProperty("main.HarnessAdd", vouch.ClassOverflow, token.Position{})
		b := prog.AddProperty("main.HarnessAdd", vouch.ClassBounds, token.Position{})

		c := vouch.NewConcretizer(prog)
		unit := c.Concretize(&vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: a.Name(), Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0x01}, Width: 8},
			}},
			{Name: b.Name(), Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0x02}, Width: 8},
			}},
		}})
		if unit == nil {
			t.Fatal("expected a unit")
		}
		if got, exp := unit.Property, a.Name(); got != exp {
			t.Fatalf("property=%s, expected %s", got, exp)
		}
		if got, exp := len(c.Diagnostics()), 1; got != exp {
			t.Fatalf("diagnostics=%d, expected %d", got, exp)
		}
		if !strings.Contains(c.Diagnostics()[0], b.Name()) {
			t.Fatalf("diagnostic does not name the dropped property: %s", c.Diagnostics()[0])
		}
	})

	t.Run("IdenticalCounterexampleShared", func(t *testing.T) {
		prog := vouch.NewIRProgram("HarnessAdd")
		prog.AddSite(&vouch.NondetSite{TypeName: "uint8", Width: 8, Strategy: vouch.NondetSafe})
		a := prog.AddProperty("main.HarnessAdd", vouch.ClassOverflow, token.Position{})
		b := prog.AddProperty("main.HarnessAdd", vouch.ClassBounds, token.Position{})

		trace := vouch.CounterexampleTrace{{Variable: "nondet_0", Value: []byte{0x01}, Width: 8}}
		c := vouch.NewConcretizer(prog)
		unit := c.Concretize(&vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: a.Name(), Status: vouch.StatusFailure, Trace: trace},
			{Name: b.Name(), Status: vouch.StatusFailure, Trace: trace},
		}})
		if unit == nil {
			t.Fatal("expected a unit")
		}
		if got, exp := len(c.Diagnostics()), 0; got != exp {
			t.Fatalf("diagnostics=%d, expected %d", got, exp)
		}
	})

	t.Run("UsedTwicePanics", func(t *testing.T) {
		prog, overflow, _ := concretizeProgram(t)
		result := &vouch.EngineResult{Properties: []vouch.PropertyResult{
			{Name: overflow.Name(), Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0x01}, Width: 8},
			}},
		}}
		c := vouch.NewConcretizer(prog)
		if unit := c.Concretize(result); unit == nil {
			t.Fatal("expected a unit")
		}

		var recovered interface{}
		func() {
			defer func() { recovered = recover() }()
			c.Concretize(result)
		}()
		if recovered == nil {
			t.Fatal("expected panic on reuse")
		}
	})
}

func TestConcretizeState_String(t *testing.T) {
	if got, exp := vouch.StateNoTrace.String(), "no-trace"; got != exp {
		t.Fatalf("String()=%q, expected %q", got, exp)
	}
	if got, exp := vouch.StateEmitted.String(), "emitted"; got != exp {
		t.Fatalf("String()=%q, expected %q", got, exp)
	}
}

func TestConcretePlaybackUnit_GenerateTest(t *testing.T) {
	unit := &vouch.ConcretePlaybackUnit{
		Harness:  "HarnessAdd",
		Property: "main.HarnessAdd.overflow.0",
		Values:   [][]byte{{0xc8}, {0x34, 0x12}},
	}
	src := unit.GenerateTest("main", "HarnessAdd")

	for _, want := range []string{
		"// Code generated by vouch. DO NOT EDIT.",
		"package main",
		"func TestPlayback_HarnessAdd(t *testing.T) {",
		"{0xc8},",
		"{0x34, 0x12},",
		"vouch.Playback(values, func() { HarnessAdd() })",
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("generated test missing %q:\n%s", want, src)
		}
	}
}
