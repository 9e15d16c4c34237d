// Package frontend lowers go/ssa functions into mir bodies.
//
// SSA registers become temporaries, and every Alloc becomes a variable slot
// whose address is taken with a raw borrow. Field and element addresses are
// mutable borrows through the base pointer, loads are copies through a
// deref, and stores are assignments through a deref. Calls end their block.
// Phi nodes become parallel copies at the end of each predecessor.
package frontend

import (
	"errors"
	"fmt"
	"go/token"
	"go/types"

	"github.com/BarrensZeppelin/permcheck/internal/slices"
	"github.com/BarrensZeppelin/permcheck/mir"
	"golang.org/x/tools/go/ssa"
)

var (
	ErrGenericBody = errors.New("generic function bodies are not supported")
	ErrNoBody      = errors.New("function has no body")
)

// Lowered is the mir body of an SSA function together with the local
// assigned to each SSA value.
type Lowered struct {
	Fn     *ssa.Function
	Body   *mir.Body
	Values map[ssa.Value]mir.Local
	// Slots maps each Alloc to the variable holding the allocated memory.
	Slots map[*ssa.Alloc]mir.Local
}

// Local returns the local holding v.
func (lw *Lowered) Local(v ssa.Value) (mir.Local, bool) {
	l, ok := lw.Values[v]
	return l, ok
}

type lowerer struct {
	fn    *ssa.Function
	types *typeLowerer
	body  *mir.Body

	values map[ssa.Value]mir.Local
	slots  map[*ssa.Alloc]mir.Local

	// last is the mir block holding the end of each SSA block.
	last []mir.BlockID
	cur  mir.BlockID
	phis []*ssa.Phi
}

// Lower translates the body of fn.
func Lower(fn *ssa.Function) (*Lowered, error) {
	if fn.TypeParams().Len() > 0 && len(fn.TypeArgs()) == 0 {
		return nil, fmt.Errorf("%v: %w", fn, ErrGenericBody)
	}
	if len(fn.Blocks) == 0 {
		return nil, fmt.Errorf("%v: %w", fn, ErrNoBody)
	}

	l := &lowerer{
		fn:     fn,
		types:  newTypeLowerer(),
		body:   &mir.Body{Name: fn.String()},
		values: make(map[ssa.Value]mir.Local),
		slots:  make(map[*ssa.Alloc]mir.Local),
		last:   make([]mir.BlockID, len(fn.Blocks)),
	}
	l.declareLocals()

	// SSA block i starts mir block i. Blocks split at calls are appended.
	l.body.Blocks = make([]mir.BasicBlock, len(fn.Blocks))
	for _, b := range fn.Blocks {
		l.cur = mir.BlockID(b.Index)
		for _, instr := range b.Instrs {
			if err := l.instr(instr); err != nil {
				return nil, fmt.Errorf("%v: %v: %w", fn, instr, err)
			}
		}
		l.last[b.Index] = l.cur
	}
	l.lowerPhis()

	return &Lowered{Fn: fn, Body: l.body, Values: l.values, Slots: l.slots}, nil
}

func (l *lowerer) newLocal(name string, ty *mir.Ty, kind mir.LocalKind) mir.Local {
	loc := mir.Local(len(l.body.Locals))
	l.body.Locals = append(l.body.Locals, mir.LocalDecl{Name: name, Ty: ty, Kind: kind})
	return loc
}

func (l *lowerer) declareLocals() {
	l.newLocal("", l.types.resultType(l.fn.Signature), mir.LocalReturn)
	for _, p := range l.fn.Params {
		l.values[p] = l.newLocal(p.Name(), l.types.lower(p.Type()), mir.LocalArg)
	}
	for _, fv := range l.fn.FreeVars {
		l.values[fv] = l.newLocal(fv.Name(), l.types.lower(fv.Type()), mir.LocalArg)
	}
	for _, b := range l.fn.Blocks {
		for _, instr := range b.Instrs {
			v, ok := instr.(ssa.Value)
			if !ok {
				continue
			}
			if a, ok := v.(*ssa.Alloc); ok {
				elem := a.Type().Underlying().(*types.Pointer).Elem()
				l.slots[a] = l.newLocal(a.Comment, l.types.lower(elem), mir.LocalVar)
			}
			l.values[v] = l.newLocal(v.Name(), l.types.lower(v.Type()), mir.LocalTemp)
		}
	}
}

// local returns the local holding v. Globals are materialised on first use
// as arguments holding their address.
func (l *lowerer) local(v ssa.Value) (mir.Local, bool) {
	if loc, ok := l.values[v]; ok {
		return loc, true
	}
	if g, ok := v.(*ssa.Global); ok {
		loc := l.newLocal(g.Name(), l.types.lower(g.Type()), mir.LocalArg)
		l.values[v] = loc
		return loc, true
	}
	return 0, false
}

func (l *lowerer) constant(v ssa.Value) mir.Operand {
	switch v := v.(type) {
	case *ssa.Function:
		var recv *mir.Ty
		if r := v.Signature.Recv(); r != nil {
			recv = l.types.lower(r.Type())
		}
		// Qualified, so that no Go method is mistaken for pointer offsetting.
		return mir.Constant(v.String(), mir.FnDef(v.String(), recv, false))
	case *ssa.Builtin:
		return mir.Constant(v.Name(), mir.FnDef(v.Name(), nil, false))
	default:
		return mir.Constant(v.Name(), l.types.lower(v.Type()))
	}
}

func (l *lowerer) operand(v ssa.Value) mir.Operand {
	if loc, ok := l.local(v); ok {
		return mir.Copy(mir.LocalPlace(loc))
	}
	return l.constant(v)
}

func (l *lowerer) operands(vs []ssa.Value) []mir.Operand {
	return slices.Map(vs, l.operand)
}

// deref is the place pointed to by the pointer value v.
func (l *lowerer) deref(v ssa.Value) (mir.Place, bool) {
	loc, ok := l.local(v)
	if !ok {
		return mir.Place{}, false
	}
	return mir.LocalPlace(loc).Project(mir.Deref), true
}

// indexLocal returns a local holding the index v, spilling constants.
func (l *lowerer) indexLocal(v ssa.Value) mir.Local {
	if loc, ok := l.local(v); ok {
		return loc
	}
	loc := l.newLocal("", l.types.lower(v.Type()), mir.LocalTemp)
	l.emit(mir.AssignStmt(mir.LocalPlace(loc), mir.Use(l.constant(v))))
	return loc
}

func (l *lowerer) emit(st mir.Statement) {
	bb := &l.body.Blocks[l.cur]
	bb.Statements = append(bb.Statements, st)
}

func (l *lowerer) assign(v ssa.Value, rv mir.Rvalue) {
	l.emit(mir.AssignStmt(mir.LocalPlace(l.values[v]), rv))
}

func (l *lowerer) terminate(t mir.Terminator) {
	l.body.Blocks[l.cur].Terminator = t
}

// split ends the current block with t, which falls through to a fresh
// block, and continues there.
func (l *lowerer) split(t mir.Terminator) {
	next := mir.BlockID(len(l.body.Blocks))
	l.body.Blocks = append(l.body.Blocks, mir.BasicBlock{})
	t.Target = next
	l.terminate(t)
	l.cur = next
}

func (l *lowerer) call(fn mir.Operand, args []mir.Operand, result ssa.Value) {
	t := mir.Terminator{Kind: mir.TermCall, Func: fn, Args: args}
	if result != nil {
		if loc, ok := l.values[result]; ok {
			t.HasDest = true
			t.Dest = mir.LocalPlace(loc)
		}
	}
	l.split(t)
}

func (l *lowerer) callCommon(c *ssa.CallCommon, result ssa.Value) {
	if c.IsInvoke() {
		name := c.Method.Name()
		args := append([]mir.Operand{l.operand(c.Value)}, l.operands(c.Args)...)
		l.call(mir.Constant(name, mir.FnDef(name, nil, true)), args, result)
		return
	}

	fn := l.operand(c.Value)
	// unsafe.Add is the Go spelling of pointer offsetting.
	if b, ok := c.Value.(*ssa.Builtin); ok && b.Name() == "Add" && len(c.Args) == 2 {
		fn = mir.Constant("offset", mir.FnDef("offset", l.types.lower(c.Args[0].Type()), false))
	}
	l.call(fn, l.operands(c.Args), result)
}

func (l *lowerer) instr(instr ssa.Instruction) error {
	switch t := instr.(type) {
	case *ssa.Alloc:
		l.assign(t, mir.AddressOf(mir.Mut, mir.LocalPlace(l.slots[t])))

	case *ssa.FieldAddr:
		base, ok := l.deref(t.X)
		if !ok {
			l.assign(t, mir.Use(l.constant(t)))
			break
		}
		l.assign(t, mir.Ref(mir.BorrowMut, base.Project(mir.Field(t.Field))))

	case *ssa.IndexAddr:
		base, ok := l.deref(t.X)
		if !ok {
			l.assign(t, mir.Use(l.constant(t)))
			break
		}
		idx := l.indexLocal(t.Index)
		l.assign(t, mir.Ref(mir.BorrowMut, base.Project(mir.Index(idx))))

	case *ssa.UnOp:
		if t.Op == token.MUL {
			if pl, ok := l.deref(t.X); ok {
				l.assign(t, mir.Use(mir.Copy(pl)))
				break
			}
		}
		l.assign(t, mir.UnaryOp(t.Op.String(), l.operand(t.X)))

	case *ssa.BinOp:
		l.assign(t, mir.BinaryOp(t.Op.String(), l.operand(t.X), l.operand(t.Y)))

	case *ssa.Store:
		if pl, ok := l.deref(t.Addr); ok {
			l.emit(mir.AssignStmt(pl, mir.Use(l.operand(t.Val))))
		}

	case *ssa.Field:
		if loc, ok := l.local(t.X); ok {
			l.assign(t, mir.Use(mir.Copy(mir.LocalPlace(loc).Project(mir.Field(t.Field)))))
			break
		}
		l.assign(t, mir.Use(l.constant(t)))

	case *ssa.Extract:
		loc, _ := l.local(t.Tuple)
		l.assign(t, mir.Use(mir.Copy(mir.LocalPlace(loc).Project(mir.Field(t.Index)))))

	case *ssa.Index:
		loc, ok := l.local(t.X)
		if _, isArray := t.X.Type().Underlying().(*types.Array); ok && isArray {
			idx := l.indexLocal(t.Index)
			l.assign(t, mir.Use(mir.Copy(mir.LocalPlace(loc).Project(mir.Index(idx)))))
			break
		}
		l.assign(t, mir.BinaryOp("index", l.operand(t.X), l.operand(t.Index)))

	case *ssa.Convert:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.ChangeType:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.ChangeInterface:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.MakeInterface:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.SliceToArrayPointer:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.MultiConvert:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.TypeAssert:
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))
	case *ssa.Slice:
		// A subslice points into the same memory as its operand.
		l.assign(t, mir.Cast(l.operand(t.X), l.types.lower(t.Type())))

	case *ssa.MakeSlice:
		l.assign(t, mir.BinaryOp("make", l.operand(t.Len), l.operand(t.Cap)))
	case *ssa.MakeMap:
		size := mir.Constant("0", mir.Scalar("int"))
		if t.Reserve != nil {
			size = l.operand(t.Reserve)
		}
		l.assign(t, mir.UnaryOp("make", size))
	case *ssa.MakeChan:
		l.assign(t, mir.UnaryOp("make", l.operand(t.Size)))
	case *ssa.MakeClosure:
		l.assign(t, mir.Aggregate(l.operands(t.Bindings)...))
	case *ssa.Lookup:
		l.assign(t, mir.BinaryOp("lookup", l.operand(t.X), l.operand(t.Index)))
	case *ssa.Range:
		l.assign(t, mir.UnaryOp("range", l.operand(t.X)))
	case *ssa.Next:
		l.assign(t, mir.UnaryOp("next", l.operand(t.Iter)))
	case *ssa.Select:
		l.assign(t, mir.Use(l.constant(t)))

	case *ssa.Phi:
		l.phis = append(l.phis, t)

	case *ssa.Call:
		l.callCommon(&t.Call, t)
	case *ssa.Go:
		l.callCommon(&t.Call, nil)
	case *ssa.Defer:
		l.callCommon(&t.Call, nil)

	case *ssa.Send:
		l.call(mir.Constant("chansend", mir.FnDef("chansend", nil, false)),
			l.operands([]ssa.Value{t.Chan, t.X}), nil)
	case *ssa.MapUpdate:
		l.call(mir.Constant("mapassign", mir.FnDef("mapassign", nil, false)),
			l.operands([]ssa.Value{t.Map, t.Key, t.Value}), nil)

	case *ssa.Jump:
		l.terminate(mir.Terminator{Kind: mir.TermGoto, Target: mir.BlockID(t.Block().Succs[0].Index)})

	case *ssa.If:
		succs := t.Block().Succs
		l.terminate(mir.Terminator{
			Kind: mir.TermIf,
			Cond: l.operand(t.Cond),
			Then: mir.BlockID(succs[0].Index),
			Else: mir.BlockID(succs[1].Index),
		})

	case *ssa.Return:
		switch len(t.Results) {
		case 0:
		case 1:
			l.emit(mir.AssignStmt(mir.LocalPlace(0), mir.Use(l.operand(t.Results[0]))))
		default:
			l.emit(mir.AssignStmt(mir.LocalPlace(0), mir.Aggregate(l.operands(t.Results)...)))
		}
		l.terminate(mir.Terminator{Kind: mir.TermReturn})

	case *ssa.Panic:
		l.call(mir.Constant("panic", mir.FnDef("panic", nil, false)), []mir.Operand{l.operand(t.X)}, nil)
		l.terminate(mir.Terminator{Kind: mir.TermUnreachable})

	case *ssa.RunDefers, *ssa.DebugRef:

	default:
		return fmt.Errorf("unhandled instruction %T", t)
	}
	return nil
}

// lowerPhis copies every phi operand into the phi's local at the end of the
// corresponding predecessor. The phis of a block are assigned as one
// parallel copy: an operand that is itself a phi of the block is read into a
// temporary before any phi of the block is assigned.
func (l *lowerer) lowerPhis() {
	var blocks []*ssa.BasicBlock
	byBlock := make(map[*ssa.BasicBlock][]*ssa.Phi)
	for _, phi := range l.phis {
		b := phi.Block()
		if _, ok := byBlock[b]; !ok {
			blocks = append(blocks, b)
		}
		byBlock[b] = append(byBlock[b], phi)
	}

	for _, b := range blocks {
		phis := byBlock[b]
		for i, pred := range b.Preds {
			l.cur = l.last[pred.Index]
			srcs := make([]mir.Operand, len(phis))
			for j, phi := range phis {
				edge := phi.Edges[i]
				if src, ok := edge.(*ssa.Phi); ok && src != phi && src.Block() == b {
					tmp := l.newLocal("", l.types.lower(src.Type()), mir.LocalTemp)
					l.emit(mir.AssignStmt(mir.LocalPlace(tmp), mir.Use(l.operand(src))))
					srcs[j] = mir.Copy(mir.LocalPlace(tmp))
					continue
				}
				srcs[j] = l.operand(edge)
			}
			for j, phi := range phis {
				l.emit(mir.AssignStmt(mir.LocalPlace(l.values[phi]), mir.Use(srcs[j])))
			}
		}
	}
}
