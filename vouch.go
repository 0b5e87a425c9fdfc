// Package vouch implements a bounded verification backend for Go programs.
//
// Given a program in SSA form and a set of proof harnesses, vouch compiles
// the items reachable from each harness into a bit-precise intermediate
// representation, inserts one verification condition per potentially
// undefined operation, and hands the result to an external decision
// procedure. When the engine reports a failing property with a trace, vouch
// extracts concrete values for every nondeterministic input and emits a
// replayable test that reproduces the failure without the verifier.
package vouch

import (
	"errors"
	"fmt"
	"go/token"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrEngineTimeout  = errors.New("engine timeout")
	ErrEngineMemout   = errors.New("engine memory limit exceeded")
	ErrEngineCanceled = errors.New("engine canceled")
	ErrNoEntryPoint   = errors.New("harness entry point not found")
)

// PropertyClass identifies the kind of verification condition a property encodes.
type PropertyClass string

const (
	ClassOverflow     = PropertyClass("overflow")
	ClassBounds       = PropertyClass("bounds")
	ClassNullDeref    = PropertyClass("null-deref")
	ClassDivZero      = PropertyClass("div-by-zero")
	ClassShift        = PropertyClass("shift")
	ClassAssertion    = PropertyClass("assertion")
	ClassUnwind       = PropertyClass("unwind")
	ClassCover        = PropertyClass("cover")
	ClassUnsupported  = PropertyClass("unsupported")
	ClassDerefInvalid = PropertyClass("deref-invalid")
)

// IsPanicClass returns true if a failure of this class manifests as a runtime
// panic when the same inputs are replayed outside the verifier.
func (c PropertyClass) IsPanicClass() bool {
	switch c {
	case ClassBounds, ClassNullDeref, ClassDivZero, ClassShift, ClassAssertion:
		return true
	default:
		return false
	}
}

// Concretizable returns true if a failure of this class can be reproduced by
// replaying concrete inputs. Classes with no runtime-observable signal are
// excluded from concretization.
func (c PropertyClass) Concretizable() bool {
	switch c {
	case ClassUnsupported, ClassDerefInvalid:
		return false
	default:
		return true
	}
}

// PropertyStatus is the engine-assigned outcome of one property.
type PropertyStatus int

const (
	StatusUndetermined = PropertyStatus(iota)
	StatusSuccess
	StatusFailure
	StatusUnreachable
	StatusSatisfied     // cover properties only
	StatusUnsatisfiable // cover properties only
)

var propertyStatuses = [...]string{
	StatusUndetermined:  "UNDETERMINED",
	StatusSuccess:       "SUCCESS",
	StatusFailure:       "FAILURE",
	StatusUnreachable:   "UNREACHABLE",
	StatusSatisfied:     "SATISFIED",
	StatusUnsatisfiable: "UNSATISFIABLE",
}

// String returns the string representation of the status.
func (s PropertyStatus) String() string {
	if s >= 0 && int(s) < len(propertyStatuses) {
		return propertyStatuses[s]
	}
	return fmt.Sprintf("PropertyStatus<%d>", s)
}

// Property represents one discrete verification condition.
//
// Properties are created during codegen and are write-once: the identity
// fields never change and the status is assigned exactly once, after the
// external engine returns.
type Property struct {
	Proc  string         // owning procedure
	Class PropertyClass  // condition kind
	Seq   int            // sequential id within (proc, class)
	Pos   token.Position // source location

	status   PropertyStatus
	resolved bool
}

// Name returns the stable property identity in "proc.class.seq" form.
func (p *Property) Name() string {
	return fmt.Sprintf("%s.%s.%d", p.Proc, p.Class, p.Seq)
}

// Status returns the assigned status. Unresolved properties report UNDETERMINED.
func (p *Property) Status() PropertyStatus { return p.status }

// Resolved returns true once a status has been assigned.
func (p *Property) Resolved() bool { return p.resolved }

// Resolve assigns the final status. Panics if the property was already resolved.
func (p *Property) Resolve(status PropertyStatus) {
	assert(!p.resolved, "property %s resolved twice", p.Name())
	p.status = status
	p.resolved = true
}

// String returns the string representation of the property.
func (p *Property) String() string {
	return fmt.Sprintf("%s [%s]", p.Name(), p.status)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
