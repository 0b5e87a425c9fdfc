package vouch

import (
	"bytes"
	"fmt"

	"github.com/vouchverify/vouch/internal/logger"
)

// ConcretizeState tracks the concretizer through its phases.
type ConcretizeState int

const (
	StateNoTrace = ConcretizeState(iota)
	StateTraceReceived
	StateExtracting
	StateDeduplicating
	StateEmitted
)

var concretizeStates = [...]string{
	StateNoTrace:       "no-trace",
	StateTraceReceived: "trace-received",
	StateExtracting:    "extracting",
	StateDeduplicating: "deduplicating",
	StateEmitted:       "emitted",
}

// String returns the string representation of the state.
func (s ConcretizeState) String() string {
	if s >= 0 && int(s) < len(concretizeStates) {
		return concretizeStates[s]
	}
	return fmt.Sprintf("ConcretizeState<%d>", int(s))
}

// ConcretePlaybackUnit holds one byte sequence per nondet site, in
// program order, sufficient to reproduce one property failure.
type ConcretePlaybackUnit struct {
	Harness  string
	Property string
	Values   [][]byte
}

// Concretizer turns an engine failure trace into a playback unit.
// One concretizer serves one harness run and is used once.
type Concretizer struct {
	prog  *IRProgram
	state ConcretizeState
	diags []string
}

// NewConcretizer returns a concretizer for the given lowered harness.
func NewConcretizer(prog *IRProgram) *Concretizer {
	return &Concretizer{prog: prog, state: StateNoTrace}
}

// State returns the current phase.
func (c *Concretizer) State() ConcretizeState { return c.state }

// Diagnostics returns the messages produced while concretizing.
func (c *Concretizer) Diagnostics() []string { return c.diags }

func (c *Concretizer) diagf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.diags = append(c.diags, msg)
	log := logger.Logger()
	log.Debug().Str("harness", c.prog.Name).Msg(msg)
}

// Concretize walks the engine result and emits at most one playback
// unit. Failures whose class has no runtime-observable signal are
// excluded; distinct extraction sets beyond the first are reported as
// diagnostics rather than emitted.
func (c *Concretizer) Concretize(result *EngineResult) *ConcretePlaybackUnit {
	assert(c.state == StateNoTrace, "concretizer used twice (state=%s)", c.state)

	type failure struct {
		prop  *Property
		trace CounterexampleTrace
	}
	var failures []failure
	for _, pr := range result.Properties {
		if pr.Status != StatusFailure {
			continue
		}
		prop := c.prog.Property(pr.Name)
		if prop == nil {
			continue
		}
		if !prop.Class.Concretizable() {
			c.diagf("property %s (%s) has no runtime failure signal, not concretized", pr.Name, prop.Class)
			continue
		}
		if len(pr.Trace) == 0 {
			continue
		}
		failures = append(failures, failure{prop: prop, trace: pr.Trace})
	}
	if len(failures) == 0 {
		return nil // terminal: nothing to replay
	}
	c.state = StateTraceReceived

	c.state = StateExtracting
	type extraction struct {
		prop   *Property
		values [][]byte
		sig    string
	}
	extractions := make([]extraction, 0, len(failures))
	for _, fl := range failures {
		values := c.extract(fl.trace)
		extractions = append(extractions, extraction{
			prop:   fl.prop,
			values: values,
			sig:    signature(values),
		})
	}

	c.state = StateDeduplicating
	first := extractions[0]
	for _, e := range extractions[1:] {
		if e.sig == first.sig {
			continue
		}
		c.diagf("property %s needs a distinct counterexample; only %s was emitted", e.prop.Name(), first.prop.Name())
	}

	c.state = StateEmitted
	return &ConcretePlaybackUnit{
		Harness:  c.prog.Name,
		Property: first.prop.Name(),
		Values:   first.values,
	}
}

// extract records, for each nondet site in program order, the first
// binding of its variable in the trace. Unexercised sites default to
// zero bytes.
func (c *Concretizer) extract(trace CounterexampleTrace) [][]byte {
	values := make([][]byte, len(c.prog.Sites))
	for i, site := range c.prog.Sites {
		n := int(minBytes(site.Width))
		b := make([]byte, n)
		for _, step := range trace {
			if step.Variable != site.Variable() {
				continue
			}
			copy(b, step.Value)
			break
		}
		values[i] = b
	}
	return values
}

func signature(values [][]byte) string {
	var buf bytes.Buffer
	for _, v := range values {
		fmt.Fprintf(&buf, "%x;", v)
	}
	return buf.String()
}

// GenerateTest renders the unit as a self-contained Go test that
// replays the recorded inputs through the harness entry function.
func (u *ConcretePlaybackUnit) GenerateTest(pkg, entry string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by vouch. DO NOT EDIT.\n\npackage %s\n\n", pkg)
	buf.WriteString("import (\n\t\"testing\"\n\n\t\"github.com/vouchverify/vouch\"\n)\n\n")
	fmt.Fprintf(&buf, "// Replays the counterexample for %s.\n", u.Property)
	fmt.Fprintf(&buf, "func TestPlayback_%s(t *testing.T) {\n", u.Harness)
	buf.WriteString("\tvalues := [][]byte{\n")
	for _, v := range u.Values {
		buf.WriteString("\t\t{")
		for i, b := range v {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "0x%02x", b)
		}
		buf.WriteString("},\n")
	}
	buf.WriteString("\t}\n")
	fmt.Fprintf(&buf, "\tvouch.Playback(values, func() { %s() })\n", entry)
	buf.WriteString("}\n")
	return buf.String()
}
