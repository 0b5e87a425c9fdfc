package vouch

import (
	"go/types"
	"sync"

	"golang.org/x/tools/go/ssa"
)

// newIntrinsicTable maps the verification API functions to their
// lowerings. Calls to these never compile as procedure calls.
func newIntrinsicTable() map[funcKey]intrinsicFunc {
	t := make(map[funcKey]intrinsicFunc)
	key := func(name string) funcKey { return funcKey{path: PkgPath, name: name} }

	t[key("Assert")] = lowerAssertIntrinsic
	t[key("Assume")] = lowerAssumeIntrinsic
	t[key("Cover")] = lowerCoverIntrinsic
	t[key("AnyBytes")] = lowerAnyBytes

	t[key("AnyBool")] = lowerNondetBool(NondetSafe)
	t[key("AnyRawBool")] = lowerNondetBool(NondetRaw)

	for name, width := range map[string]uint{
		"AnyInt8": 8, "AnyInt16": 16, "AnyInt32": 32, "AnyInt64": 64, "AnyInt": 64,
		"AnyUint8": 8, "AnyUint16": 16, "AnyUint32": 32, "AnyUint64": 64, "AnyUint": 64,
	} {
		t[key(name)] = lowerNondetInt(name, width)
	}
	return t
}

// newSite emits the havoc for one nondeterministic input and registers
// its site in program order.
func (f *frame) newSite(call *ssa.Call, typeName string, width uint, strategy NondetStrategy) *NondetSite {
	arr := f.g.newArray("nondet", minBytes(width))
	site := &NondetSite{
		TypeName: typeName,
		Width:    width,
		Strategy: strategy,
		Array:    arr,
		Pos:      f.pos(call),
	}
	f.g.prog.AddSite(site)
	arr.Name = site.Variable()
	f.cur.Add(&HavocStmt{Array: arr, Site: site})
	return site
}

func lowerNondetBool(strategy NondetStrategy) intrinsicFunc {
	return func(f *frame, call *ssa.Call) error {
		site := f.newSite(call, "bool", 8, strategy)
		raw := site.Array.Select(NewConstantExpr64(0), 8)
		if strategy == NondetSafe {
			f.cur.Add(&AssumeStmt{Cond: NewBinaryExpr(ULE, raw, NewConstantExpr(1, 8))})
			f.assign(call, NewExtractExpr(raw, 0, WidthBool))
			return nil
		}
		// Replay treats any nonzero backing byte as true, so the model
		// must decode the byte the same way.
		f.assign(call, NewBinaryExpr(NE, raw, NewConstantExpr(0, 8)))
		return nil
	}
}

func lowerNondetInt(typeName string, width uint) intrinsicFunc {
	return func(f *frame, call *ssa.Call) error {
		site := f.newSite(call, typeName, width, NondetSafe)
		f.assign(call, site.Array.Select(NewConstantExpr64(0), width))
		return nil
	}
}

// lowerAnyBytes havocs a fixed-length byte region. The length must be
// a compile-time constant.
func lowerAnyBytes(f *frame, call *ssa.Call) error {
	c, ok := call.Common().Args[0].(*ssa.Const)
	if !ok {
		return unsupportedf("AnyBytes with non-constant length")
	}
	n := c.Int64()
	if n <= 0 {
		return unsupportedf("AnyBytes with non-positive length %d", n)
	}

	site := f.newSite(call, "[]byte", uint(n)*8, NondetRaw)
	f.regions[call] = &region{
		array:    site.Array,
		offset:   NewConstantExpr64(0),
		elems:    n,
		elemSize: 1,
	}
	f.assign(call, f.g.base(site.Array))
	return nil
}

func (f *frame) condArg(call *ssa.Call) (Expr, error) {
	return f.eval(call.Common().Args[0])
}

func lowerAssertIntrinsic(f *frame, call *ssa.Call) error {
	cond, err := f.condArg(call)
	if err != nil {
		return err
	}
	prop := f.newProperty(ClassAssertion, call)
	f.cur.Add(&AssertStmt{Cond: cond, Property: prop})
	return nil
}

func lowerAssumeIntrinsic(f *frame, call *ssa.Call) error {
	cond, err := f.condArg(call)
	if err != nil {
		return err
	}
	f.cur.Add(&AssumeStmt{Cond: cond})
	return nil
}

func lowerCoverIntrinsic(f *frame, call *ssa.Call) error {
	cond, err := f.condArg(call)
	if err != nil {
		return err
	}
	prop := f.newProperty(ClassCover, call)
	f.cur.Add(&CoverStmt{Cond: cond, Property: prop})
	return nil
}

// Invariant registry. Named types may declare a refinement predicate;
// conversions into the type assume it, so validity-respecting nondet
// values of the type stay inside the refinement.

var (
	invariantMu sync.RWMutex
	invariants  = make(map[string]func(Expr) Expr)
)

// RegisterInvariant declares a refinement for the named type, keyed by
// its fully qualified type string.
func RegisterInvariant(typeName string, fn func(value Expr) Expr) {
	invariantMu.Lock()
	defer invariantMu.Unlock()
	invariants[typeName] = fn
}

func lookupInvariant(t types.Type) func(Expr) Expr {
	if _, ok := t.(*types.Named); !ok {
		return nil
	}
	invariantMu.RLock()
	defer invariantMu.RUnlock()
	return invariants[t.String()]
}
