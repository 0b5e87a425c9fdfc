package vouch

import (
	"errors"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/tools/go/ssa"

	"github.com/vouchverify/vouch/internal/logger"
)

// PkgPath is the import path of the verification API package. Calls to
// it are recognized as intrinsics during lowering.
const PkgPath = "github.com/vouchverify/vouch"

// errUnsupported tags a construct with no translation. Lowering converts
// it into an unconditionally-false property rather than aborting, so
// verification fails if and only if the construct is actually executed.
var errUnsupported = errors.New("unsupported construct")

func unsupportedf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, errUnsupported)...)
}

// CodegenConfig holds per-harness lowering options.
type CodegenConfig struct {
	// Unwind is the loop bound; zero leaves unwinding to the engine and
	// emits no unwind properties.
	Unwind int

	// Sizes selects the target layout; nil uses the default.
	Sizes types.Sizes
}

// Compile lowers everything reachable from the harness entry into a
// single IRProgram with safety instrumentation.
func Compile(name string, reach *Reachability, layouts *LayoutResolver, cfg CodegenConfig) (*IRProgram, error) {
	g := &codegen{
		cfg:     cfg,
		reach:   reach,
		layouts: layouts,
		prog:    NewIRProgram(name),
		globals: make(map[*ssa.Global]*region),
	}
	g.intrinsics = newIntrinsicTable()

	g.prog.Tracker = g.newArray("demonic_tracker", uint(layouts.PointerWidth()/8))

	for _, global := range reach.Globals {
		g.resolveGlobal(global)
	}

	for _, fn := range reach.Functions {
		if len(fn.Blocks) == 0 {
			continue // no body; call sites report unsupported
		}
		if len(fn.FreeVars) > 0 {
			continue // only callable through closures, which are unsupported
		}
		if fn.Pkg != nil && fn.Pkg.Pkg.Path() == PkgPath {
			continue // intrinsics lower at the call site
		}
		if err := g.compileFunc(fn); err != nil {
			return nil, fmt.Errorf("compile %s: %w", fn.String(), err)
		}
	}

	if g.prog.Proc(procName(reach.Entry)) == nil {
		return nil, ErrNoEntryPoint
	}
	log := logger.Logger()
	log.Debug().
		Str("harness", name).
		Int("procs", len(g.prog.Procs)).
		Int("properties", len(g.prog.Properties)).
		Msg("lowered harness")
	return g.prog, nil
}

type codegen struct {
	cfg     CodegenConfig
	reach   *Reachability
	layouts *LayoutResolver
	prog    *IRProgram

	nextArrayID uint64
	globals     map[*ssa.Global]*region
	intrinsics  map[funcKey]intrinsicFunc
}

// funcKey identifies a function by package path and name.
type funcKey struct {
	path string
	name string
}

type intrinsicFunc func(f *frame, call *ssa.Call) error

// region is the static resolution of a pointer: a backing array plus a
// byte offset expression. Element regions additionally carry a length
// so indexing can be bounds checked.
type region struct {
	array    *Array
	offset   Expr // byte offset, pointer width
	elems    int64
	elemSize int64
}

// base returns the numeric address of the region start.
func (g *codegen) base(a *Array) *ConstantExpr {
	// Regions are spaced so offsets never alias across arrays and the
	// zero address stays invalid.
	return NewConstantExpr64((a.ID + 1) << 20)
}

func (g *codegen) newArray(name string, size uint) *Array {
	a := NewArray(g.nextArrayID, name, size)
	g.nextArrayID++
	g.prog.Arrays = append(g.prog.Arrays, a)
	return a
}

func (g *codegen) trackerVal() Expr {
	return g.prog.Tracker.Select(NewConstantExpr64(0), g.layouts.PointerWidth())
}

// resolveGlobal creates the backing array for a package-level variable.
// Globals of unsupported types get no region; accesses to them report
// unsupported at the use site.
func (g *codegen) resolveGlobal(global *ssa.Global) {
	elem := global.Type().(*types.Pointer).Elem()
	layout, err := g.layouts.Resolve(elem)
	if err != nil {
		return
	}
	arr := g.newArray(global.String(), uint(layout.Size))
	g.globals[global] = &region{array: arr, offset: NewConstantExpr64(0), elems: -1}
}

func procName(fn *ssa.Function) string { return fn.String() }

// compileFunc lowers one function body into a procedure.
func (g *codegen) compileFunc(fn *ssa.Function) error {
	f := &frame{
		g:        g,
		fn:       fn,
		proc:     NewProcedure(procName(fn)),
		values:   make(map[ssa.Value]*Local),
		regions:  make(map[ssa.Value]*region),
		ifaces:   make(map[ssa.Value]*ifaceVal),
		tuples:   make(map[ssa.Value][]*Local),
		blocks:   make(map[*ssa.BasicBlock]*Block),
		counters: make(map[*ssa.BasicBlock]*Local),
	}
	g.prog.Procs = append(g.prog.Procs, f.proc)

	for _, p := range fn.Params {
		width, err := f.valueWidth(p.Type())
		if err != nil {
			width = g.layouts.PointerWidth()
		}
		l := f.proc.AddLocal("p_"+p.Name(), width)
		f.proc.Params = append(f.proc.Params, l)
		f.values[p] = l
	}

	// Create one IR block per SSA block, plus phi destinations, before
	// lowering any bodies so forward references resolve.
	for _, b := range fn.Blocks {
		f.blocks[b] = f.proc.AddBlock(fmt.Sprintf("b%d", b.Index))
		for _, instr := range b.Instrs {
			if phi, ok := instr.(*ssa.Phi); ok {
				f.bindValue(phi)
			}
		}
	}

	if fn == g.reach.Entry {
		f.emitPrologue()
	}

	for _, b := range fn.Blocks {
		f.cur = f.blocks[b]
		for _, instr := range b.Instrs {
			if err := f.lower(instr); err != nil {
				if errors.Is(err, errUnsupported) {
					f.unsupported(instr, err)
					continue
				}
				return err
			}
		}
	}
	return nil
}

type frame struct {
	g    *codegen
	fn   *ssa.Function
	proc *Procedure
	cur  *Block

	values   map[ssa.Value]*Local
	regions  map[ssa.Value]*region
	ifaces   map[ssa.Value]*ifaceVal
	tuples   map[ssa.Value][]*Local
	blocks   map[*ssa.BasicBlock]*Block
	counters map[*ssa.BasicBlock]*Local

	// Address-taken stack allocations, invalidated at scope exit.
	allocs []*Array
}

// ifaceVal is the static lowering of an interface value: a discriminant
// tag plus the payload widened to pointer size.
type ifaceVal struct {
	tag     *Local
	payload *Local
	disc    *Discriminant
}

func (f *frame) pos(instr ssa.Instruction) token.Position {
	return f.fn.Prog.Fset.Position(instr.Pos())
}

func (f *frame) newProperty(class PropertyClass, instr ssa.Instruction) *Property {
	return f.g.prog.AddProperty(f.proc.Name, class, f.pos(instr))
}

// bindValue returns the local holding v's value, creating it on demand.
func (f *frame) bindValue(v ssa.Value) *Local {
	if l, ok := f.values[v]; ok {
		return l
	}
	width, err := f.valueWidth(v.Type())
	if err != nil {
		width = f.g.layouts.PointerWidth()
	}
	l := f.proc.AddLocal("t_"+v.Name(), width)
	f.values[v] = l
	return l
}

func (f *frame) assign(v ssa.Value, value Expr) {
	f.cur.Add(&AssignStmt{Dest: f.bindValue(v), Value: value})
}

// valueWidth returns the bit width a value occupies in the IR. Booleans
// are single bits; everything else follows its layout. Values wider
// than 64 bits cannot be held in a local.
func (f *frame) valueWidth(t types.Type) (uint, error) {
	if basic, ok := t.Underlying().(*types.Basic); ok && basic.Info()&types.IsBoolean != 0 {
		return WidthBool, nil
	}
	layout, err := f.g.layouts.Resolve(t)
	if err != nil {
		return 0, unsupportedf("layout of %s", t)
	}
	if layout.Bits() > 64 {
		return 0, unsupportedf("value of %s exceeds 64 bits", t)
	}
	return layout.Bits(), nil
}

func isSigned(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsInteger != 0 && basic.Info()&types.IsUnsigned == 0
}

// eval returns the expression for an operand value.
func (f *frame) eval(v ssa.Value) (Expr, error) {
	switch v := v.(type) {
	case *ssa.Const:
		return f.evalConst(v)
	case *ssa.Global:
		r, ok := f.g.globals[v]
		if !ok {
			return nil, unsupportedf("global %s", v)
		}
		return f.g.base(r.array), nil
	case *ssa.Function:
		return nil, unsupportedf("function value %s", v)
	case *ssa.FreeVar:
		return nil, unsupportedf("captured variable %s", v.Name())
	default:
		return NewLocalExpr(f.bindValue(v)), nil
	}
}

func (f *frame) evalConst(c *ssa.Const) (Expr, error) {
	if c.Value == nil {
		// nil pointer, interface, slice, etc.
		return NewConstantExpr64(0), nil
	}
	basic, ok := c.Type().Underlying().(*types.Basic)
	if !ok {
		return nil, unsupportedf("constant of %s", c.Type())
	}
	switch {
	case basic.Info()&types.IsBoolean != 0:
		if constant.BoolVal(c.Value) {
			return NewBoolConstantExpr(true), nil
		}
		return NewBoolConstantExpr(false), nil
	case basic.Info()&types.IsInteger != 0:
		width, err := f.valueWidth(c.Type())
		if err != nil {
			return nil, err
		}
		if isSigned(c.Type()) {
			return NewConstantExpr(uint64(c.Int64()), width), nil
		}
		return NewConstantExpr(c.Uint64(), width), nil
	default:
		return nil, unsupportedf("constant of %s", c.Type())
	}
}

// unsupported replaces an untranslatable instruction with a false
// assertion. The path is cut afterwards so later statements on it do
// not produce spurious results.
func (f *frame) unsupported(instr ssa.Instruction, err error) {
	log := logger.Logger()
	log.Debug().
		Str("proc", f.proc.Name).
		Str("pos", f.pos(instr).String()).
		Msgf("unsupported: %v", err)

	prop := f.newProperty(ClassUnsupported, instr)
	f.cur.Add(&AssertStmt{Cond: NewBoolConstantExpr(false), Property: prop})
	f.cur.Add(&AssumeStmt{Cond: NewBoolConstantExpr(false)})

	if v, ok := instr.(ssa.Value); ok {
		l := f.bindValue(v)
		f.cur.Add(&AssignStmt{Dest: l, Value: NewConstantExpr(0, l.Width)})
	}
}

// emitPrologue initializes the demonic tracker and zeroes globals.
// Runs once, at the top of the entry procedure.
func (f *frame) emitPrologue() {
	f.cur = f.blocks[f.fn.Blocks[0]]
	pw := f.g.layouts.PointerWidth()
	f.cur.Add(&StoreStmt{
		Array: f.g.prog.Tracker,
		Index: NewConstantExpr64(0),
		Value: NewConstantExpr(0, pw),
	})
	for _, global := range f.g.reach.Globals {
		r, ok := f.g.globals[global]
		if !ok {
			continue
		}
		f.zeroFill(r.array)
	}
}

func (f *frame) zeroFill(a *Array) {
	for off := uint(0); off < a.Size; off += 8 {
		w := min(8, a.Size-off) * 8
		f.cur.Add(&StoreStmt{
			Array: a,
			Index: NewConstantExpr64(uint64(off)),
			Value: NewConstantExpr(0, w),
		})
	}
}

func (f *frame) lower(instr ssa.Instruction) error {
	switch instr := instr.(type) {
	case *ssa.DebugRef:
		return nil
	case *ssa.Phi:
		return nil // assigned on incoming edges
	case *ssa.Alloc:
		return f.lowerAlloc(instr)
	case *ssa.BinOp:
		return f.lowerBinOp(instr)
	case *ssa.UnOp:
		return f.lowerUnOp(instr)
	case *ssa.Convert:
		return f.lowerConvert(instr, instr.X, instr.Type())
	case *ssa.ChangeType:
		return f.lowerConvert(instr, instr.X, instr.Type())
	case *ssa.Store:
		return f.lowerStore(instr)
	case *ssa.FieldAddr:
		return f.lowerFieldAddr(instr)
	case *ssa.IndexAddr:
		return f.lowerIndexAddr(instr)
	case *ssa.Field:
		return f.lowerField(instr)
	case *ssa.Index:
		return f.lowerIndex(instr)
	case *ssa.Slice:
		return f.lowerSlice(instr)
	case *ssa.Call:
		return f.lowerCall(instr)
	case *ssa.Extract:
		return f.lowerExtract(instr)
	case *ssa.MakeInterface:
		return f.lowerMakeInterface(instr)
	case *ssa.ChangeInterface:
		return f.lowerChangeInterface(instr)
	case *ssa.TypeAssert:
		return f.lowerTypeAssert(instr)
	case *ssa.If:
		return f.lowerIf(instr)
	case *ssa.Jump:
		return f.lowerJump(instr)
	case *ssa.Return:
		return f.lowerReturn(instr)
	case *ssa.Panic:
		prop := f.newProperty(ClassAssertion, instr)
		f.cur.Add(&AssertStmt{Cond: NewBoolConstantExpr(false), Property: prop})
		f.cur.Add(&AssumeStmt{Cond: NewBoolConstantExpr(false)})
		return nil
	case *ssa.RunDefers:
		return nil // no defers survive lowering; Defer itself is unsupported
	case *ssa.MakeClosure:
		return unsupportedf("closure")
	case *ssa.Go:
		return unsupportedf("goroutine")
	case *ssa.Defer:
		return unsupportedf("defer")
	case *ssa.Send:
		return unsupportedf("channel send")
	case *ssa.Select:
		return unsupportedf("select")
	case *ssa.MakeChan:
		return unsupportedf("channel")
	case *ssa.MakeMap:
		return unsupportedf("map")
	case *ssa.MapUpdate:
		return unsupportedf("map update")
	case *ssa.Lookup:
		return unsupportedf("lookup")
	case *ssa.Range:
		return unsupportedf("range")
	case *ssa.Next:
		return unsupportedf("range iteration")
	case *ssa.MakeSlice:
		return unsupportedf("dynamic slice allocation")
	default:
		return unsupportedf("instruction %T", instr)
	}
}

func (f *frame) lowerAlloc(instr *ssa.Alloc) error {
	elem := instr.Type().(*types.Pointer).Elem()
	layout, err := f.g.layouts.Resolve(elem)
	if err != nil {
		return unsupportedf("alloc of %s", elem)
	}

	name := fmt.Sprintf("%s_%s", f.fn.Name(), instr.Name())
	arr := f.g.newArray(name, uint(layout.Size))

	r := &region{array: arr, offset: NewConstantExpr64(0), elems: -1}
	if at, ok := elem.Underlying().(*types.Array); ok {
		el, err := f.g.layouts.Resolve(at.Elem())
		if err == nil {
			r.elems = at.Len()
			r.elemSize = el.Size
		}
	}
	f.regions[instr] = r
	f.assign(instr, f.g.base(arr))
	f.zeroFill(arr)

	if !instr.Heap {
		f.allocs = append(f.allocs, arr)
	}
	return nil
}

func (f *frame) lowerBinOp(instr *ssa.BinOp) error {
	x, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	y, err := f.eval(instr.Y)
	if err != nil {
		return err
	}
	signed := isSigned(instr.X.Type())

	switch instr.Op {
	case token.ADD, token.SUB, token.MUL:
		return f.lowerCheckedArith(instr, x, y, signed)
	case token.QUO, token.REM:
		return f.lowerDivRem(instr, x, y, signed)
	case token.AND:
		f.assign(instr, NewBinaryExpr(AND, x, y))
	case token.OR:
		f.assign(instr, NewBinaryExpr(OR, x, y))
	case token.XOR:
		f.assign(instr, NewBinaryExpr(XOR, x, y))
	case token.AND_NOT:
		f.assign(instr, NewBinaryExpr(AND, x, NewNotExpr(y)))
	case token.SHL, token.SHR:
		return f.lowerShift(instr, x, y, signed)
	case token.EQL:
		f.assign(instr, NewBinaryExpr(EQ, x, y))
	case token.NEQ:
		f.assign(instr, NewBinaryExpr(NE, x, y))
	case token.LSS:
		f.assign(instr, f.cmp(SLT, ULT, signed, x, y))
	case token.LEQ:
		f.assign(instr, f.cmp(SLE, ULE, signed, x, y))
	case token.GTR:
		f.assign(instr, f.cmp(SGT, UGT, signed, x, y))
	case token.GEQ:
		f.assign(instr, f.cmp(SGE, UGE, signed, x, y))
	default:
		return unsupportedf("binary op %s on %s", instr.Op, instr.X.Type())
	}
	return nil
}

func (f *frame) cmp(sop, uop BinaryOp, signed bool, x, y Expr) Expr {
	if signed {
		return NewBinaryExpr(sop, x, y)
	}
	return NewBinaryExpr(uop, x, y)
}

// lowerCheckedArith emits the overflow property for add/sub/mul by
// performing the operation at double width and requiring the result to
// survive the round trip back to the operand width.
func (f *frame) lowerCheckedArith(instr *ssa.BinOp, x, y Expr, signed bool) error {
	w := ExprWidth(x)
	if w == WidthBool {
		return unsupportedf("arithmetic on boolean")
	}

	var op BinaryOp
	switch instr.Op {
	case token.ADD:
		op = ADD
	case token.SUB:
		op = SUB
	case token.MUL:
		op = MUL
	default:
		panic("unreachable")
	}

	wide := NewBinaryExpr(op, NewCastExpr(x, 2*w, signed), NewCastExpr(y, 2*w, signed))
	narrow := NewExtractExpr(wide, 0, w)

	prop := f.newProperty(ClassOverflow, instr)
	f.cur.Add(&AssertStmt{
		Cond:     NewBinaryExpr(EQ, NewCastExpr(narrow, 2*w, signed), wide),
		Property: prop,
	})
	f.assign(instr, narrow)
	return nil
}

func (f *frame) lowerDivRem(instr *ssa.BinOp, x, y Expr, signed bool) error {
	w := ExprWidth(x)

	prop := f.newProperty(ClassDivZero, instr)
	f.cur.Add(&AssertStmt{
		Cond:     NewBinaryExpr(NE, y, NewConstantExpr(0, w)),
		Property: prop,
	})

	if signed {
		// The only representable quotient overflow: MinInt / -1.
		minInt := NewConstantExpr(1<<(w-1), w)
		negOne := NewConstantExpr(bitmask(w), w)
		over := f.newProperty(ClassOverflow, instr)
		f.cur.Add(&AssertStmt{
			Cond: NewNotExpr(NewBinaryExpr(AND,
				NewBinaryExpr(EQ, x, minInt),
				NewBinaryExpr(EQ, y, negOne))),
			Property: over,
		})
	}

	var op BinaryOp
	switch {
	case instr.Op == token.QUO && signed:
		op = SDIV
	case instr.Op == token.QUO:
		op = UDIV
	case instr.Op == token.REM && signed:
		op = SREM
	default:
		op = UREM
	}
	f.assign(instr, NewBinaryExpr(op, x, y))
	return nil
}

func (f *frame) lowerShift(instr *ssa.BinOp, x, y Expr, signed bool) error {
	w := ExprWidth(x)

	prop := f.newProperty(ClassShift, instr)
	f.cur.Add(&AssertStmt{
		Cond:     NewBinaryExpr(ULT, NewCastExpr(y, 64, false), NewConstantExpr64(uint64(w))),
		Property: prop,
	})

	amount := NewCastExpr(y, w, false)
	switch {
	case instr.Op == token.SHL:
		f.assign(instr, NewBinaryExpr(SHL, x, amount))
	case signed:
		f.assign(instr, NewBinaryExpr(ASHR, x, amount))
	default:
		f.assign(instr, NewBinaryExpr(LSHR, x, amount))
	}
	return nil
}

func (f *frame) lowerUnOp(instr *ssa.UnOp) error {
	switch instr.Op {
	case token.MUL:
		return f.lowerLoad(instr)
	case token.SUB:
		x, err := f.eval(instr.X)
		if err != nil {
			return err
		}
		w := ExprWidth(x)
		signed := isSigned(instr.X.Type())

		wide := NewBinaryExpr(SUB, NewConstantExpr(0, 2*w), NewCastExpr(x, 2*w, signed))
		narrow := NewExtractExpr(wide, 0, w)
		prop := f.newProperty(ClassOverflow, instr)
		f.cur.Add(&AssertStmt{
			Cond:     NewBinaryExpr(EQ, NewCastExpr(narrow, 2*w, signed), wide),
			Property: prop,
		})
		f.assign(instr, narrow)
		return nil
	case token.XOR:
		x, err := f.eval(instr.X)
		if err != nil {
			return err
		}
		f.assign(instr, NewNotExpr(x))
		return nil
	case token.NOT:
		x, err := f.eval(instr.X)
		if err != nil {
			return err
		}
		f.assign(instr, NewIsZeroExpr(x))
		return nil
	case token.ARROW:
		return unsupportedf("channel receive")
	default:
		return unsupportedf("unary op %s", instr.Op)
	}
}

// derefChecks emits the null and invalidated-object properties guarding
// a memory access through ptr.
func (f *frame) derefChecks(instr ssa.Instruction, ptr Expr) {
	pw := f.g.layouts.PointerWidth()

	null := f.newProperty(ClassNullDeref, instr)
	f.cur.Add(&AssertStmt{
		Cond:     NewBinaryExpr(NE, ptr, NewConstantExpr(0, pw)),
		Property: null,
	})

	// Demonic check: the tracker may hold the address of any dead stack
	// allocation. Over-approximate, so spurious alarms are possible; it
	// cannot serve as a modular assumption.
	dead := f.newProperty(ClassDerefInvalid, instr)
	f.cur.Add(&AssertStmt{
		Cond:     NewBinaryExpr(NE, ptr, f.g.trackerVal()),
		Property: dead,
	})
}

func (f *frame) lowerLoad(instr *ssa.UnOp) error {
	r, ok := f.parentRegion(instr.X)
	if !ok {
		return unsupportedf("load through unresolved pointer")
	}
	ptr, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	width, err := f.valueWidth(instr.Type())
	if err != nil {
		return err
	}

	f.derefChecks(instr, ptr)
	f.assign(instr, r.array.Select(r.offset, width))
	return nil
}

func (f *frame) lowerStore(instr *ssa.Store) error {
	r, ok := f.parentRegion(instr.Addr)
	if !ok {
		return unsupportedf("store through unresolved pointer")
	}
	ptr, err := f.eval(instr.Addr)
	if err != nil {
		return err
	}
	val, err := f.eval(instr.Val)
	if err != nil {
		return err
	}

	f.derefChecks(instr, ptr)
	f.cur.Add(&StoreStmt{Array: r.array, Index: r.offset, Value: val})
	return nil
}

// resolveValue strips value copies so region lookups see through them.
func resolveValue(v ssa.Value) ssa.Value {
	for {
		ct, ok := v.(*ssa.ChangeType)
		if !ok {
			return v
		}
		v = ct.X
	}
}

func (f *frame) lowerFieldAddr(instr *ssa.FieldAddr) error {
	r, ok := f.parentRegion(instr.X)
	if !ok {
		return unsupportedf("field address through unresolved pointer")
	}
	st := instr.X.Type().Underlying().(*types.Pointer).Elem()
	layout, err := f.g.layouts.Resolve(st)
	if err != nil {
		return unsupportedf("layout of %s", st)
	}
	if instr.Field >= len(layout.Offsets) {
		return fmt.Errorf("field %d out of range:\n%s", instr.Field, spew.Sdump(layout))
	}
	off := layout.Offsets[instr.Field]

	nr := &region{
		array:  r.array,
		offset: NewBinaryExpr(ADD, r.offset, NewConstantExpr64(uint64(off))),
		elems:  -1,
	}
	f.regions[instr] = nr

	ptr, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	f.assign(instr, NewBinaryExpr(ADD, ptr, NewConstantExpr64(uint64(off))))
	return nil
}

func (f *frame) lowerIndexAddr(instr *ssa.IndexAddr) error {
	r, ok := f.parentRegion(instr.X)
	if !ok {
		return unsupportedf("index address through unresolved pointer")
	}
	if r.elems < 0 {
		// Pointer-to-array operands carry their length in the type.
		if at, isArr := deref(instr.X.Type()).Underlying().(*types.Array); isArr {
			el, err := f.g.layouts.Resolve(at.Elem())
			if err != nil {
				return unsupportedf("layout of %s", at.Elem())
			}
			r = &region{array: r.array, offset: r.offset, elems: at.Len(), elemSize: el.Size}
		} else {
			return unsupportedf("indexing region of unknown length")
		}
	}

	idx, err := f.eval(instr.Index)
	if err != nil {
		return err
	}
	idx64 := NewCastExpr(idx, 64, false)

	prop := f.newProperty(ClassBounds, instr)
	f.cur.Add(&AssertStmt{
		Cond:     NewBinaryExpr(ULT, idx64, NewConstantExpr64(uint64(r.elems))),
		Property: prop,
	})

	byteOff := NewBinaryExpr(MUL, idx64, NewConstantExpr64(uint64(r.elemSize)))
	nr := &region{
		array:  r.array,
		offset: NewBinaryExpr(ADD, r.offset, byteOff),
		elems:  -1,
	}
	f.regions[instr] = nr

	ptr, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	f.assign(instr, NewBinaryExpr(ADD, ptr, byteOff))
	return nil
}

// parentRegion resolves the region backing a pointer or slice operand.
func (f *frame) parentRegion(v ssa.Value) (*region, bool) {
	if r, ok := f.regions[resolveValue(v)]; ok {
		return r, true
	}
	if g, ok := v.(*ssa.Global); ok {
		r, ok := f.g.globals[g]
		if !ok {
			return nil, false
		}
		// A pointer-to-array global indexes over its elements.
		if at, isArr := g.Type().(*types.Pointer).Elem().Underlying().(*types.Array); isArr {
			el, err := f.g.layouts.Resolve(at.Elem())
			if err == nil {
				return &region{array: r.array, offset: r.offset, elems: at.Len(), elemSize: el.Size}, true
			}
		}
		return r, true
	}
	return nil, false
}

func (f *frame) lowerField(instr *ssa.Field) error {
	x, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	layout, err := f.g.layouts.Resolve(instr.X.Type())
	if err != nil || layout.Bits() > 64 {
		return unsupportedf("field of %s by value", instr.X.Type())
	}
	width, err := f.valueWidth(instr.Type())
	if err != nil {
		return err
	}
	off := uint(layout.Offsets[instr.Field]) * 8
	f.assign(instr, NewExtractExpr(x, off, width))
	return nil
}

func (f *frame) lowerIndex(instr *ssa.Index) error {
	idx, ok := instr.Index.(*ssa.Const)
	if !ok {
		return unsupportedf("dynamic index of array value")
	}
	x, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	at, ok := instr.X.Type().Underlying().(*types.Array)
	if !ok {
		return unsupportedf("index of %s by value", instr.X.Type())
	}
	el, err := f.g.layouts.Resolve(at.Elem())
	if err != nil {
		return unsupportedf("layout of %s", at.Elem())
	}
	width, err := f.valueWidth(instr.Type())
	if err != nil {
		return err
	}
	i := idx.Int64()
	if i < 0 || i >= at.Len() {
		prop := f.newProperty(ClassBounds, instr)
		f.cur.Add(&AssertStmt{Cond: NewBoolConstantExpr(false), Property: prop})
		f.cur.Add(&AssumeStmt{Cond: NewBoolConstantExpr(false)})
		f.assign(instr, NewConstantExpr(0, width))
		return nil
	}
	f.assign(instr, NewExtractExpr(x, uint(i*el.Size)*8, width))
	return nil
}

// lowerSlice supports reslicing a statically resolved region with
// constant bounds; everything else has no translation.
func (f *frame) lowerSlice(instr *ssa.Slice) error {
	r, ok := f.parentRegion(instr.X)
	if !ok {
		return unsupportedf("slice of unresolved value")
	}

	elems := r.elems
	elemSize := r.elemSize
	if at, isArr := deref(instr.X.Type()).Underlying().(*types.Array); isArr {
		el, err := f.g.layouts.Resolve(at.Elem())
		if err != nil {
			return unsupportedf("layout of %s", at.Elem())
		}
		elems = at.Len()
		elemSize = el.Size
	}
	if elems < 0 {
		return unsupportedf("slice of region with unknown length")
	}

	low := int64(0)
	high := elems
	if instr.Low != nil {
		c, ok := instr.Low.(*ssa.Const)
		if !ok {
			return unsupportedf("non-constant slice bound")
		}
		low = c.Int64()
	}
	if instr.High != nil {
		c, ok := instr.High.(*ssa.Const)
		if !ok {
			return unsupportedf("non-constant slice bound")
		}
		high = c.Int64()
	}
	if low < 0 || high < low || high > elems {
		prop := f.newProperty(ClassBounds, instr)
		f.cur.Add(&AssertStmt{Cond: NewBoolConstantExpr(false), Property: prop})
		f.cur.Add(&AssumeStmt{Cond: NewBoolConstantExpr(false)})
		return nil
	}

	f.regions[instr] = &region{
		array:    r.array,
		offset:   NewBinaryExpr(ADD, r.offset, NewConstantExpr64(uint64(low*elemSize))),
		elems:    high - low,
		elemSize: elemSize,
	}
	ptr, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	f.assign(instr, NewBinaryExpr(ADD, ptr, NewConstantExpr64(uint64(low*elemSize))))
	return nil
}

func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

func (f *frame) lowerExtract(instr *ssa.Extract) error {
	locals, ok := f.tuples[instr.Tuple]
	if !ok {
		return unsupportedf("extract from unsupported tuple")
	}
	f.assign(instr, NewLocalExpr(locals[instr.Index]))
	return nil
}

func (f *frame) lowerConvert(instr ssa.Value, x ssa.Value, dst types.Type) error {
	xe, err := f.eval(x)
	if err != nil {
		return err
	}
	width, err := f.valueWidth(dst)
	if err != nil {
		return err
	}

	// Pointer-shaped conversions keep the region association.
	if _, ok := dst.Underlying().(*types.Pointer); ok {
		if r, ok := f.parentRegion(x); ok {
			f.regions[instr] = r
		}
	}

	f.assign(instr, NewCastExpr(xe, width, isSigned(x.Type())))

	// Named types may carry a registered refinement; conversions into
	// them assume it.
	if inv := lookupInvariant(dst); inv != nil {
		f.cur.Add(&AssumeStmt{Cond: inv(NewLocalExpr(f.values[instr]))})
	}
	return nil
}

func (f *frame) lowerCall(instr *ssa.Call) error {
	common := instr.Common()
	if common.IsInvoke() {
		return f.lowerInvoke(instr)
	}

	switch callee := common.Value.(type) {
	case *ssa.Builtin:
		return f.lowerBuiltin(instr, callee)
	case *ssa.Function:
		if fn, ok := f.g.intrinsics[calleeKey(callee)]; ok {
			return fn(f, instr)
		}
		if callee.Pkg != nil && callee.Pkg.Pkg.Path() == PkgPath {
			return unsupportedf("call to %s", callee)
		}
		return f.lowerStaticCall(instr, callee)
	default:
		return unsupportedf("indirect call through %s", common.Value.Type())
	}
}

func calleeKey(fn *ssa.Function) funcKey {
	if fn.Pkg == nil {
		return funcKey{}
	}
	return funcKey{path: fn.Pkg.Pkg.Path(), name: fn.Name()}
}

func (f *frame) lowerBuiltin(instr *ssa.Call, builtin *ssa.Builtin) error {
	switch builtin.Name() {
	case "len", "cap":
		arg := instr.Common().Args[0]
		if at, ok := deref(arg.Type()).Underlying().(*types.Array); ok {
			f.assign(instr, NewConstantExpr64(uint64(at.Len())))
			return nil
		}
		if r, ok := f.parentRegion(arg); ok && r.elems >= 0 {
			f.assign(instr, NewConstantExpr64(uint64(r.elems)))
			return nil
		}
		return unsupportedf("%s of %s", builtin.Name(), arg.Type())
	default:
		return unsupportedf("builtin %s", builtin.Name())
	}
}

func (f *frame) lowerStaticCall(instr *ssa.Call, callee *ssa.Function) error {
	target := callee
	if repl, ok := f.g.reach.Stubs[callee]; ok {
		target = repl
	}
	if len(target.Blocks) == 0 || len(target.FreeVars) > 0 {
		return unsupportedf("call to %s without body", target)
	}

	args := make([]Expr, 0, len(instr.Common().Args))
	for _, arg := range instr.Common().Args {
		e, err := f.eval(arg)
		if err != nil {
			return err
		}
		args = append(args, e)
	}

	dests, err := f.callDests(instr)
	if err != nil {
		return err
	}
	f.cur.Add(&CallStmt{Proc: procName(target), Args: args, Dests: dests})
	return nil
}

// callDests binds result locals for a call: none, one, or a tuple.
func (f *frame) callDests(instr *ssa.Call) ([]*Local, error) {
	results := instr.Common().Signature().Results()
	switch results.Len() {
	case 0:
		return nil, nil
	case 1:
		return []*Local{f.bindValue(instr)}, nil
	default:
		locals := make([]*Local, results.Len())
		for i := 0; i < results.Len(); i++ {
			width, err := f.valueWidth(results.At(i).Type())
			if err != nil {
				return nil, err
			}
			locals[i] = f.proc.AddLocal(fmt.Sprintf("r_%s_%d", instr.Name(), i), width)
		}
		f.tuples[instr] = locals
		return locals, nil
	}
}

// lowerInvoke compiles a dynamic method call into a branch chain over
// the interface's discriminant tag.
func (f *frame) lowerInvoke(instr *ssa.Call) error {
	common := instr.Common()
	iv, ok := f.ifaces[resolveValue(common.Value)]
	if !ok {
		return unsupportedf("invoke through unresolved interface")
	}
	if len(iv.disc.Candidates) == 0 {
		f.cur.Add(&AssumeStmt{Cond: NewBoolConstantExpr(false)})
		return nil
	}

	extraArgs := make([]Expr, 0, len(common.Args))
	for _, arg := range common.Args {
		e, err := f.eval(arg)
		if err != nil {
			return err
		}
		extraArgs = append(extraArgs, e)
	}
	dests, err := f.callDests(instr)
	if err != nil {
		return err
	}

	merge := f.proc.AddBlock(fmt.Sprintf("%s.m%s", f.cur.Label, instr.Name()))

	tag := NewLocalExpr(iv.tag)
	for i, typ := range iv.disc.Candidates {
		method := f.g.reach.Entry.Prog.LookupMethod(typ, common.Method.Pkg(), common.Method.Name())
		if method == nil {
			return unsupportedf("no method %s on %s", common.Method.Name(), typ)
		}

		callBlock := f.proc.AddBlock(fmt.Sprintf("%s.d%d", merge.Label, i))
		nextLabel := merge.Label
		var next *Block
		if i < len(iv.disc.Candidates)-1 {
			next = f.proc.AddBlock(fmt.Sprintf("%s.t%d", merge.Label, i+1))
			nextLabel = next.Label
		}

		f.cur.Add(&BranchStmt{
			Cond: NewBinaryExpr(EQ, tag, NewConstantExpr(uint64(i), iv.disc.Bits)),
			Then: callBlock.Label,
			Else: nextLabel,
		})

		// Receiver is the payload narrowed to the candidate's width.
		width, werr := f.valueWidth(typ)
		if werr != nil {
			return werr
		}
		recv := NewCastExpr(NewLocalExpr(iv.payload), width, false)
		if len(method.Blocks) == 0 {
			f.cur = callBlock
			f.unsupported(instr, unsupportedf("method %s without body", method))
			callBlock.Add(&JumpStmt{Target: merge.Label})
		} else {
			callBlock.Add(&CallStmt{
				Proc:  procName(method),
				Args:  append([]Expr{recv}, extraArgs...),
				Dests: dests,
			})
			callBlock.Add(&JumpStmt{Target: merge.Label})
		}

		if next != nil {
			f.cur = next
		}
	}
	f.cur = merge
	return nil
}

func (f *frame) interfaceDisc(t types.Type) (*Discriminant, error) {
	layout, err := f.g.layouts.ResolveInterface(t, f.g.reach.Candidates[t.String()])
	if err != nil {
		return nil, err
	}
	if layout.Unconstructible {
		return &Discriminant{}, nil
	}
	return layout.Discriminant, nil
}

func (f *frame) lowerMakeInterface(instr *ssa.MakeInterface) error {
	disc, err := f.interfaceDisc(instr.Type())
	if err != nil {
		return unsupportedf("interface %s", instr.Type())
	}
	tag := disc.Tag(instr.X.Type())
	if tag < 0 {
		return fmt.Errorf("candidate %s missing from discriminant:\n%s",
			instr.X.Type(), spew.Sdump(disc))
	}

	x, err := f.eval(instr.X)
	if err != nil {
		return err
	}
	pw := f.g.layouts.PointerWidth()

	iv := &ifaceVal{
		tag:     f.proc.AddLocal("i_tag_"+instr.Name(), disc.Bits),
		payload: f.proc.AddLocal("i_val_"+instr.Name(), pw),
		disc:    disc,
	}
	f.cur.Add(&AssignStmt{Dest: iv.tag, Value: NewConstantExpr(uint64(tag), disc.Bits)})
	f.cur.Add(&AssignStmt{Dest: iv.payload, Value: NewCastExpr(x, pw, false)})
	f.ifaces[instr] = iv
	return nil
}

func (f *frame) lowerChangeInterface(instr *ssa.ChangeInterface) error {
	src, ok := f.ifaces[resolveValue(instr.X)]
	if !ok {
		return unsupportedf("change of unresolved interface")
	}
	disc, err := f.interfaceDisc(instr.Type())
	if err != nil {
		return unsupportedf("interface %s", instr.Type())
	}

	// Remap tags between the two candidate orderings.
	tag := Expr(NewConstantExpr(0, disc.Bits))
	srcTag := NewLocalExpr(src.tag)
	for i, typ := range src.disc.Candidates {
		dst := disc.Tag(typ)
		if dst < 0 {
			continue
		}
		tag = NewIteExpr(
			NewBinaryExpr(EQ, srcTag, NewConstantExpr(uint64(i), src.disc.Bits)),
			NewConstantExpr(uint64(dst), disc.Bits),
			tag,
		)
	}

	iv := &ifaceVal{
		tag:     f.proc.AddLocal("i_tag_"+instr.Name(), disc.Bits),
		payload: src.payload,
		disc:    disc,
	}
	f.cur.Add(&AssignStmt{Dest: iv.tag, Value: tag})
	f.ifaces[instr] = iv
	return nil
}

func (f *frame) lowerTypeAssert(instr *ssa.TypeAssert) error {
	iv, ok := f.ifaces[resolveValue(instr.X)]
	if !ok {
		return unsupportedf("assertion on unresolved interface")
	}
	if _, isIface := instr.AssertedType.Underlying().(*types.Interface); isIface {
		return unsupportedf("assertion to interface type")
	}

	width, err := f.valueWidth(instr.AssertedType)
	if err != nil {
		return err
	}
	tag := iv.disc.Tag(instr.AssertedType)

	var okExpr Expr
	if tag < 0 {
		okExpr = NewBoolConstantExpr(false)
	} else {
		okExpr = NewBinaryExpr(EQ, NewLocalExpr(iv.tag), NewConstantExpr(uint64(tag), iv.disc.Bits))
	}
	value := NewCastExpr(NewLocalExpr(iv.payload), width, false)

	if instr.CommaOk {
		vl := f.proc.AddLocal("a_val_"+instr.Name(), width)
		ol := f.proc.AddLocal("a_ok_"+instr.Name(), WidthBool)
		f.cur.Add(&AssignStmt{Dest: vl, Value: value})
		f.cur.Add(&AssignStmt{Dest: ol, Value: okExpr})
		f.tuples[instr] = []*Local{vl, ol}
		return nil
	}

	// A failed single-value assertion panics at runtime.
	prop := f.newProperty(ClassAssertion, instr)
	f.cur.Add(&AssertStmt{Cond: okExpr, Property: prop})
	f.assign(instr, value)
	return nil
}

func (f *frame) lowerIf(instr *ssa.If) error {
	cond, err := f.eval(instr.Cond)
	if err != nil {
		return err
	}
	b := instr.Block()
	thenLabel, err := f.edgeTo(b, b.Succs[0])
	if err != nil {
		return err
	}
	elseLabel, err := f.edgeTo(b, b.Succs[1])
	if err != nil {
		return err
	}
	f.cur.Add(&BranchStmt{Cond: cond, Then: thenLabel, Else: elseLabel})
	return nil
}

func (f *frame) lowerJump(instr *ssa.Jump) error {
	b := instr.Block()
	succ := b.Succs[0]
	if err := f.emitEdge(f.cur, b, succ); err != nil {
		return err
	}
	f.cur.Add(&JumpStmt{Target: f.blocks[succ].Label})
	return nil
}

// edgeTo returns the label for a branch edge, inserting an intermediate
// block when the edge carries phi copies or an unwind counter.
func (f *frame) edgeTo(pred, succ *ssa.BasicBlock) (string, error) {
	if !f.edgeNeedsBlock(pred, succ) {
		return f.blocks[succ].Label, nil
	}
	edge := f.proc.AddBlock(fmt.Sprintf("b%d.b%d", pred.Index, succ.Index))
	if err := f.emitEdge(edge, pred, succ); err != nil {
		return "", err
	}
	edge.Add(&JumpStmt{Target: f.blocks[succ].Label})
	return edge.Label, nil
}

func (f *frame) edgeNeedsBlock(pred, succ *ssa.BasicBlock) bool {
	if f.g.cfg.Unwind > 0 && isBackedge(pred, succ) {
		return true
	}
	for _, instr := range succ.Instrs {
		if _, ok := instr.(*ssa.Phi); ok {
			return true
		}
	}
	return false
}

// emitEdge appends phi copies and unwind accounting for pred→succ to
// the given block.
func (f *frame) emitEdge(into *Block, pred, succ *ssa.BasicBlock) error {
	predIndex := -1
	for i, p := range succ.Preds {
		if p == pred {
			predIndex = i
			break
		}
	}

	saved := f.cur
	f.cur = into
	defer func() { f.cur = saved }()

	for _, instr := range succ.Instrs {
		phi, ok := instr.(*ssa.Phi)
		if !ok {
			continue
		}
		assert(predIndex >= 0, "edge b%d->b%d not in preds", pred.Index, succ.Index)
		edge := phi.Edges[predIndex]
		value, err := f.eval(edge)
		if err != nil {
			if errors.Is(err, errUnsupported) {
				f.unsupported(phi, err)
				continue
			}
			return err
		}
		into.Add(&AssignStmt{Dest: f.bindValue(phi), Value: value})
	}

	if f.g.cfg.Unwind > 0 && isBackedge(pred, succ) {
		counter, ok := f.counters[succ]
		if !ok {
			counter = f.proc.AddLocal(fmt.Sprintf("unwind_b%d", succ.Index), 64)
			f.counters[succ] = counter
			// Counters start at zero in the entry block.
			entry := f.proc.Blocks[0]
			entry.Stmts = append([]Stmt{&AssignStmt{Dest: counter, Value: NewConstantExpr64(0)}}, entry.Stmts...)
		}
		into.Add(&AssignStmt{
			Dest:  counter,
			Value: NewBinaryExpr(ADD, NewLocalExpr(counter), NewConstantExpr64(1)),
		})
		prop := f.g.prog.AddProperty(f.proc.Name, ClassUnwind, f.fn.Prog.Fset.Position(succ.Instrs[0].Pos()))
		into.Add(&AssertStmt{
			Cond:     NewBinaryExpr(ULT, NewLocalExpr(counter), NewConstantExpr64(uint64(f.g.cfg.Unwind))),
			Property: prop,
		})
	}
	return nil
}

// isBackedge reports whether pred→succ re-enters a loop: the successor
// dominates its predecessor.
func isBackedge(pred, succ *ssa.BasicBlock) bool {
	return succ.Dominates(pred)
}

func (f *frame) lowerReturn(instr *ssa.Return) error {
	// Scope exit: every address-taken stack allocation in this frame
	// becomes a candidate for the demonic tracker.
	pw := f.g.layouts.PointerWidth()
	for _, arr := range f.allocs {
		choice := f.g.newArray(fmt.Sprintf("%s_exit", arr.Name), 1)
		f.cur.Add(&HavocStmt{Array: choice})
		cond := NewExtractExpr(choice.Select(NewConstantExpr64(0), 8), 0, WidthBool)
		f.cur.Add(&StoreStmt{
			Array: f.g.prog.Tracker,
			Index: NewConstantExpr64(0),
			Value: NewIteExpr(cond, f.g.trackerVal(), NewCastExpr(f.g.base(arr), pw, false)),
		})
	}

	values := make([]Expr, 0, len(instr.Results))
	for _, res := range instr.Results {
		e, err := f.eval(res)
		if err != nil {
			return err
		}
		values = append(values, e)
	}
	f.cur.Add(&ReturnStmt{Values: values})
	return nil
}
