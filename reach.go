package vouch

import (
	"fmt"
	"go/types"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/tools/go/ssa"
)

// Reachability holds everything transitively reachable from a single
// harness entry point: functions, globals, and the per-interface
// candidate sets needed to lower dynamic dispatch.
type Reachability struct {
	Entry     *ssa.Function
	Functions []*ssa.Function
	Globals   []*ssa.Global

	// Candidates maps an interface type (by string) to the concrete
	// types that may flow into it, restricted to reachable code.
	Candidates map[string][]types.Type

	// Stubs records the substitutions applied while walking, keyed by
	// the original function.
	Stubs map[*ssa.Function]*ssa.Function
}

// Reachable returns true if fn was reached from the entry point.
func (r *Reachability) Reachable(fn *ssa.Function) bool {
	for _, f := range r.Functions {
		if f == fn {
			return true
		}
	}
	return false
}

// reachWalker performs the breadth-first walk. Function identity is
// interned into a dense index so the visited set can be a bitset.
type reachWalker struct {
	prog    *ssa.Program
	stubs   map[*ssa.Function]*ssa.Function
	ids     map[*ssa.Function]uint
	visited *bitset.BitSet
	queue   []*ssa.Function

	functions []*ssa.Function
	globals   map[*ssa.Global]struct{}
	ifaces    map[string]map[string]types.Type

	// Indirect call sites and the function values seen flowing through
	// reachable code. Matched against each other once the queue drains.
	indirect []*types.Signature
	funcvals map[*ssa.Function]struct{}
}

// NewReachability walks the call graph from entry and returns the
// reachable set. Stub substitutions are applied at every call edge:
// a call to an original function is treated as a call to its
// replacement, and the original's body is never visited.
func NewReachability(prog *ssa.Program, entry *ssa.Function, stubs map[*ssa.Function]*ssa.Function) (*Reachability, error) {
	if entry == nil {
		return nil, ErrNoEntryPoint
	}
	for orig, repl := range stubs {
		if err := checkStubSignature(orig, repl); err != nil {
			return nil, err
		}
	}

	w := &reachWalker{
		prog:     prog,
		stubs:    stubs,
		ids:      make(map[*ssa.Function]uint),
		visited:  bitset.New(256),
		globals:  make(map[*ssa.Global]struct{}),
		ifaces:   make(map[string]map[string]types.Type),
		funcvals: make(map[*ssa.Function]struct{}),
	}
	w.enqueue(entry)

	// Indirect resolution may surface new functions, which may in turn
	// carry more call sites and function values. Iterate to a fixpoint.
	for {
		for len(w.queue) > 0 {
			fn := w.queue[0]
			w.queue = w.queue[1:]
			w.visitFunc(fn)
		}
		if !w.resolveIndirect() {
			break
		}
	}

	r := &Reachability{
		Entry:      entry,
		Functions:  w.functions,
		Candidates: make(map[string][]types.Type),
		Stubs:      stubs,
	}
	for g := range w.globals {
		r.Globals = append(r.Globals, g)
	}
	sort.Slice(r.Globals, func(i, j int) bool {
		return r.Globals[i].String() < r.Globals[j].String()
	})
	for key, set := range w.ifaces {
		candidates := make([]types.Type, 0, len(set))
		for _, typ := range set {
			candidates = append(candidates, typ)
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].String() < candidates[j].String()
		})
		r.Candidates[key] = candidates
	}
	return r, nil
}

func (w *reachWalker) id(fn *ssa.Function) uint {
	id, ok := w.ids[fn]
	if !ok {
		id = uint(len(w.ids))
		w.ids[fn] = id
	}
	return id
}

// enqueue applies stub substitution and marks the target visited.
func (w *reachWalker) enqueue(fn *ssa.Function) {
	if repl, ok := w.stubs[fn]; ok {
		fn = repl
	}
	id := w.id(fn)
	if w.visited.Test(id) {
		return
	}
	w.visited.Set(id)
	w.functions = append(w.functions, fn)
	w.queue = append(w.queue, fn)
}

func (w *reachWalker) visitFunc(fn *ssa.Function) {
	// The verification API is opaque: its functions lower as intrinsics
	// at the call site, so their runtime bodies never contribute callees.
	if fn.Pkg != nil && fn.Pkg.Pkg.Path() == PkgPath {
		return
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			w.visitInstr(instr)
		}
	}
	for _, anon := range fn.AnonFuncs {
		w.enqueue(anon)
	}
}

func (w *reachWalker) visitInstr(instr ssa.Instruction) {
	// Track globals and function values referenced by any operand.
	for _, op := range instr.Operands(nil) {
		switch v := (*op).(type) {
		case *ssa.Global:
			w.globals[v] = struct{}{}
		case *ssa.Function:
			w.funcvals[v] = struct{}{}
		}
	}

	switch instr := instr.(type) {
	case ssa.CallInstruction:
		w.visitCall(instr.Common())
	case *ssa.MakeClosure:
		w.enqueue(instr.Fn.(*ssa.Function))
	case *ssa.MakeInterface:
		w.recordCandidate(instr.Type(), instr.X.Type())
	case *ssa.ChangeInterface:
		// Candidates flow through unchanged; the narrower set is
		// recomputed per interface type at lowering.
		w.recordFlow(instr.X.Type(), instr.Type())
	}
}

func (w *reachWalker) visitCall(common *ssa.CallCommon) {
	if common.IsInvoke() {
		w.visitInvoke(common)
		return
	}
	switch v := common.Value.(type) {
	case *ssa.Function:
		w.enqueue(v)
	case *ssa.MakeClosure:
		w.enqueue(v.Fn.(*ssa.Function))
	case *ssa.Builtin:
		// no body
	default:
		// Indirect call through a function value. Resolved against the
		// function-value pool after the queue drains.
		w.visitIndirect(v.Type())
	}
}

// visitInvoke resolves a dynamic method call against the program's
// runtime types. Every concrete type implementing the interface
// contributes its method as a callee and itself as a candidate.
func (w *reachWalker) visitInvoke(common *ssa.CallCommon) {
	iface, ok := common.Value.Type().Underlying().(*types.Interface)
	if !ok {
		return
	}
	for _, typ := range w.prog.RuntimeTypes() {
		if !types.Implements(typ, iface) {
			continue
		}
		fn := w.prog.LookupMethod(typ, common.Method.Pkg(), common.Method.Name())
		if fn == nil {
			continue
		}
		w.enqueue(fn)
		w.recordCandidate(common.Value.Type(), typ)
	}
}

// visitIndirect records the call site's signature for later matching
// against the function values observed in reachable code.
func (w *reachWalker) visitIndirect(typ types.Type) {
	sig, ok := typ.Underlying().(*types.Signature)
	if !ok {
		return
	}
	w.indirect = append(w.indirect, sig)
}

// resolveIndirect enqueues every pooled function value whose signature
// matches a recorded indirect call site. Returns true if anything new
// was enqueued.
func (w *reachWalker) resolveIndirect() bool {
	before := len(w.queue)
	for fn := range w.funcvals {
		if fn.Signature == nil {
			continue
		}
		for _, sig := range w.indirect {
			if types.Identical(fn.Signature, sig) {
				w.enqueue(fn)
				break
			}
		}
	}
	return len(w.queue) > before
}

func (w *reachWalker) recordCandidate(iface, concrete types.Type) {
	key := iface.String()
	set, ok := w.ifaces[key]
	if !ok {
		set = make(map[string]types.Type)
		w.ifaces[key] = set
	}
	set[concrete.String()] = concrete
}

// recordFlow copies candidates already known for src into dst.
func (w *reachWalker) recordFlow(src, dst types.Type) {
	from, ok := w.ifaces[src.String()]
	if !ok {
		return
	}
	for _, typ := range from {
		w.recordCandidate(dst, typ)
	}
}

// checkStubSignature verifies replacement compatibility before any
// lowering begins. Mismatched stubs fail the whole harness up front.
func checkStubSignature(orig, repl *ssa.Function) error {
	if !types.Identical(orig.Signature, repl.Signature) {
		return fmt.Errorf("stub %s: signature %s does not match %s of %s",
			repl.String(), repl.Signature, orig.Signature, orig.String())
	}
	return nil
}
