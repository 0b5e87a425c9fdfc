package vouch

import (
	"bytes"
	"fmt"
	"go/token"
)

// IRProgram is the lowered form of a single harness and everything
// reachable from it, ready to hand to a decision engine.
type IRProgram struct {
	Name       string
	Procs      []*Procedure
	Arrays     []*Array
	Sites      []*NondetSite
	Properties []*Property

	// Demonic pointer tracker, one per harness. Holds the address of a
	// nondeterministically chosen dead stack allocation, or zero.
	Tracker *Array
}

// NewIRProgram returns a new empty program for the named harness.
func NewIRProgram(name string) *IRProgram {
	return &IRProgram{Name: name}
}

// Entry returns the entry procedure. The entry is always the first
// procedure emitted.
func (p *IRProgram) Entry() *Procedure {
	assert(len(p.Procs) > 0, "program has no procedures")
	return p.Procs[0]
}

// Proc returns the procedure with the given name, or nil.
func (p *IRProgram) Proc(name string) *Procedure {
	for _, proc := range p.Procs {
		if proc.Name == name {
			return proc
		}
	}
	return nil
}

// AddProperty registers a new property with the next sequence number
// for its procedure/class pair and returns it.
func (p *IRProgram) AddProperty(proc string, class PropertyClass, pos token.Position) *Property {
	seq := 0
	for _, prop := range p.Properties {
		if prop.Proc == proc && prop.Class == class {
			seq++
		}
	}
	prop := &Property{Proc: proc, Class: class, Seq: seq, Pos: pos}
	p.Properties = append(p.Properties, prop)
	return prop
}

// Property returns the property with the given name, or nil.
func (p *IRProgram) Property(name string) *Property {
	for _, prop := range p.Properties {
		if prop.Name() == name {
			return prop
		}
	}
	return nil
}

// AddSite registers a nondeterministic input site backed by array.
func (p *IRProgram) AddSite(site *NondetSite) {
	site.Index = len(p.Sites)
	p.Sites = append(p.Sites, site)
}

// String returns an s-expression form of the whole program.
func (p *IRProgram) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(program %s", p.Name)
	for _, proc := range p.Procs {
		fmt.Fprintf(&buf, "\n%s", proc)
	}
	buf.WriteString(")")
	return buf.String()
}

// Procedure is a single lowered function body.
type Procedure struct {
	Name   string
	Params []*Local
	Locals []*Local
	Blocks []*Block
}

// NewProcedure returns a new procedure with an empty entry block.
func NewProcedure(name string) *Procedure {
	return &Procedure{Name: name}
}

// AddLocal appends a new local with a unique name and returns it.
func (p *Procedure) AddLocal(name string, width uint) *Local {
	l := &Local{Name: fmt.Sprintf("%s.%d", name, len(p.Locals)), Width: width}
	p.Locals = append(p.Locals, l)
	return l
}

// AddBlock appends a new labeled block and returns it.
func (p *Procedure) AddBlock(label string) *Block {
	b := &Block{Label: label}
	p.Blocks = append(p.Blocks, b)
	return b
}

// Block returns the block with the given label, or nil.
func (p *Procedure) Block(label string) *Block {
	for _, b := range p.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// String returns an s-expression form of the procedure.
func (p *Procedure) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(proc %s", p.Name)
	for _, b := range p.Blocks {
		fmt.Fprintf(&buf, "\n  %s", b)
	}
	buf.WriteString(")")
	return buf.String()
}

// Local is a named scalar slot in a procedure.
type Local struct {
	Name  string
	Width uint
}

// String returns the string representation of the local.
func (l *Local) String() string {
	return fmt.Sprintf("(local %s %d)", l.Name, l.Width)
}

// Block is a labeled straight-line sequence of statements.
// The final statement is the only permitted control transfer.
type Block struct {
	Label string
	Stmts []Stmt
}

// Add appends a statement to the block.
func (b *Block) Add(stmt Stmt) {
	b.Stmts = append(b.Stmts, stmt)
}

// String returns an s-expression form of the block.
func (b *Block) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(block %s", b.Label)
	for _, stmt := range b.Stmts {
		fmt.Fprintf(&buf, "\n    %s", stmt)
	}
	buf.WriteString(")")
	return buf.String()
}

// Stmt represents a single lowered statement.
type Stmt interface {
	fmt.Stringer
	stmt()
}

func (*AssignStmt) stmt() {}
func (*StoreStmt) stmt()  {}
func (*AssertStmt) stmt() {}
func (*AssumeStmt) stmt() {}
func (*CoverStmt) stmt()  {}
func (*HavocStmt) stmt()  {}
func (*BranchStmt) stmt() {}
func (*JumpStmt) stmt()   {}
func (*CallStmt) stmt()   {}
func (*ReturnStmt) stmt() {}

// AssignStmt assigns the value of an expression to a local.
type AssignStmt struct {
	Dest  *Local
	Value Expr
}

func (s *AssignStmt) String() string {
	return fmt.Sprintf("(assign %s %s)", s.Dest.Name, s.Value)
}

// StoreStmt writes a value into a memory array.
type StoreStmt struct {
	Array *Array
	Index Expr
	Value Expr
}

func (s *StoreStmt) String() string {
	return fmt.Sprintf("(store-stmt %s %s %s)", s.Array, s.Index, s.Value)
}

// AssertStmt checks that a condition holds on every execution.
// Each assert carries exactly one property.
type AssertStmt struct {
	Cond     Expr
	Property *Property
}

func (s *AssertStmt) String() string {
	return fmt.Sprintf("(assert %s %s)", s.Property.Name(), s.Cond)
}

// AssumeStmt constrains subsequent executions to those satisfying cond.
type AssumeStmt struct {
	Cond Expr
}

func (s *AssumeStmt) String() string {
	return fmt.Sprintf("(assume %s)", s.Cond)
}

// CoverStmt checks that a condition is satisfiable at this point.
type CoverStmt struct {
	Cond     Expr
	Property *Property
}

func (s *CoverStmt) String() string {
	return fmt.Sprintf("(cover %s %s)", s.Property.Name(), s.Cond)
}

// HavocStmt fills an array with unconstrained bytes. Site links the
// havoc to a user-visible nondet input; internal havocs carry none.
type HavocStmt struct {
	Array *Array
	Site  *NondetSite
}

func (s *HavocStmt) String() string {
	if s.Site == nil {
		return fmt.Sprintf("(havoc %s)", s.Array)
	}
	return fmt.Sprintf("(havoc %s %s)", s.Array, s.Site.Variable())
}

// BranchStmt transfers control to one of two blocks based on cond.
type BranchStmt struct {
	Cond Expr
	Then string
	Else string
}

func (s *BranchStmt) String() string {
	return fmt.Sprintf("(branch %s %s %s)", s.Cond, s.Then, s.Else)
}

// JumpStmt transfers control unconditionally.
type JumpStmt struct {
	Target string
}

func (s *JumpStmt) String() string {
	return fmt.Sprintf("(jump %s)", s.Target)
}

// CallStmt invokes another procedure. Results, if any, are bound to dests.
type CallStmt struct {
	Proc  string
	Args  []Expr
	Dests []*Local
}

func (s *CallStmt) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(call %s", s.Proc)
	for _, arg := range s.Args {
		fmt.Fprintf(&buf, " %s", arg)
	}
	for _, dest := range s.Dests {
		fmt.Fprintf(&buf, " -> %s", dest.Name)
	}
	buf.WriteString(")")
	return buf.String()
}

// ReturnStmt returns zero or more values from the procedure.
type ReturnStmt struct {
	Values []Expr
}

func (s *ReturnStmt) String() string {
	var buf bytes.Buffer
	buf.WriteString("(return")
	for _, v := range s.Values {
		fmt.Fprintf(&buf, " %s", v)
	}
	buf.WriteString(")")
	return buf.String()
}

// NondetStrategy chooses how nondeterministic bytes are constrained.
type NondetStrategy int

const (
	// NondetSafe constrains the value to the type's valid bit patterns.
	NondetSafe = NondetStrategy(iota)
	// NondetRaw leaves all bit patterns available.
	NondetRaw
)

// String returns the string representation of the strategy.
func (s NondetStrategy) String() string {
	switch s {
	case NondetSafe:
		return "safe"
	case NondetRaw:
		return "raw"
	default:
		return fmt.Sprintf("NondetStrategy<%d>", int(s))
	}
}

// NondetSite identifies one call to a nondeterministic input intrinsic.
// Sites are numbered in emission order within a harness; the ordering is
// what lets a counterexample trace be replayed as concrete inputs.
type NondetSite struct {
	Index    int
	TypeName string
	Width    uint
	Strategy NondetStrategy
	Array    *Array
	Pos      token.Position
}

// Variable returns the trace variable name the engine reports values under.
func (s *NondetSite) Variable() string {
	return fmt.Sprintf("nondet_%d", s.Index)
}

// String returns the string representation of the site.
func (s *NondetSite) String() string {
	return fmt.Sprintf("(site %s %s %d %s)", s.Variable(), s.TypeName, s.Width, s.Strategy)
}
