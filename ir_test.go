package vouch_test

import (
	"go/token"
	"testing"

	"github.com/vouchverify/vouch"
)

func TestIRProgram_AddProperty(t *testing.T) {
	prog := vouch.NewIRProgram("HarnessX")

	p0 := prog.AddProperty("main.f", vouch.ClassOverflow, token.Position{})
	p1 := prog.AddProperty("main.f", vouch.ClassOverflow, token.Position{})
	p2 := prog.AddProperty("main.f", vouch.ClassBounds, token.Position{})
	p3 := prog.AddProperty("main.g", vouch.ClassOverflow, token.Position{})

	if got, exp := p0.Name(), "main.f.overflow.0"; got != exp {
		t.Fatalf("name=%s, expected %s", got, exp)
	}
	if got, exp := p1.Name(), "main.f.overflow.1"; got != exp {
		t.Fatalf("name=%s, expected %s", got, exp)
	}
	if got, exp := p2.Name(), "main.f.bounds.0"; got != exp {
		t.Fatalf("name=%s, expected %s", got, exp)
	}
	if got, exp := p3.Name(), "main.g.overflow.0"; got != exp {
		t.Fatalf("name=%s, expected %s", got, exp)
	}

	if prog.Property("main.f.overflow.1") != p1 {
		t.Fatal("lookup by name failed")
	}
	if prog.Property("main.f.overflow.9") != nil {
		t.Fatal("expected nil for unknown property")
	}
}

func TestProperty_Resolve(t *testing.T) {
	prog := vouch.NewIRProgram("HarnessX")
	prop := prog.AddProperty("main.f", vouch.ClassAssertion, token.Position{})

	if got, exp := prop.Status(), vouch.StatusUndetermined; got != exp {
		t.Fatalf("status=%s, expected %s", got, exp)
	}
	prop.Resolve(vouch.StatusFailure)
	if got, exp := prop.Status(), vouch.StatusFailure; got != exp {
		t.Fatalf("status=%s, expected %s", got, exp)
	}

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		prop.Resolve(vouch.StatusSuccess)
	}()
	if recovered == nil {
		t.Fatal("expected panic on second resolve")
	}
}

func TestIRProgram_AddSite(t *testing.T) {
	prog := vouch.NewIRProgram("HarnessX")
	s0 := &vouch.NondetSite{TypeName: "uint8", Width: 8}
	s1 := &vouch.NondetSite{TypeName: "bool", Width: 8}
	prog.AddSite(s0)
	prog.AddSite(s1)

	if got, exp := s0.Variable(), "nondet_0"; got != exp {
		t.Fatalf("variable=%s, expected %s", got, exp)
	}
	if got, exp := s1.Variable(), "nondet_1"; got != exp {
		t.Fatalf("variable=%s, expected %s", got, exp)
	}
}

func TestStmt_String(t *testing.T) {
	l := &vouch.Local{Name: "x.0", Width: 8}

	t.Run("Assign", func(t *testing.T) {
		s := &vouch.AssignStmt{Dest: l, Value: vouch.NewConstantExpr(3, 8)}
		if got, exp := s.String(), `(assign x.0 (const 3 8))`; got != exp {
			t.Fatalf("unexpected string: %s", got)
		}
	})
	t.Run("Branch", func(t *testing.T) {
		s := &vouch.BranchStmt{Cond: vouch.NewLocalExpr(&vouch.Local{Name: "c", Width: 1}), Then: "b1", Else: "b2"}
		if got, exp := s.String(), `(branch c b1 b2)`; got != exp {
			t.Fatalf("unexpected string: %s", got)
		}
	})
	t.Run("Call", func(t *testing.T) {
		s := &vouch.CallStmt{Proc: "main.f", Args: []vouch.Expr{vouch.NewConstantExpr(1, 8)}, Dests: []*vouch.Local{l}}
		if got, exp := s.String(), `(call main.f (const 1 8) -> x.0)`; got != exp {
			t.Fatalf("unexpected string: %s", got)
		}
	})
}

func TestPropertyClass(t *testing.T) {
	panicClasses := []vouch.PropertyClass{
		vouch.ClassBounds, vouch.ClassNullDeref, vouch.ClassDivZero,
		vouch.ClassShift, vouch.ClassAssertion,
	}
	for _, class := range panicClasses {
		if !class.IsPanicClass() {
			t.Fatalf("%s should be a panic class", class)
		}
	}
	for _, class := range []vouch.PropertyClass{vouch.ClassOverflow, vouch.ClassUnwind, vouch.ClassCover, vouch.ClassUnsupported, vouch.ClassDerefInvalid} {
		if class.IsPanicClass() {
			t.Fatalf("%s should not be a panic class", class)
		}
	}

	if vouch.ClassUnsupported.Concretizable() {
		t.Fatal("unsupported must not be concretizable")
	}
	if vouch.ClassDerefInvalid.Concretizable() {
		t.Fatal("deref-invalid must not be concretizable")
	}
	if !vouch.ClassOverflow.Concretizable() {
		t.Fatal("overflow must be concretizable")
	}
}
