package mir

// RvalueDescKind distinguishes the two pointer-producing rvalue shapes.
type RvalueDescKind uint8

const (
	// DescProject is a pointer projection such as `&(*x.y).z`. The rvalue is
	// split into a base pointer expression (`x.y`) and a projection (`.z`);
	// the `&` and `*` are implicit.
	DescProject RvalueDescKind = iota
	// DescAddrOfLocal is the address of a local or one of its fields, such
	// as `&x.y`, split into the local (`x`) and a projection (`.y`).
	DescAddrOfLocal
)

type RvalueDesc struct {
	Kind RvalueDescKind
	// Base is the base pointer of a projection. It always has pointer type
	// and may itself contain derefs: `&(**x).y` has base `*x` and projection
	// `.y`. Only the outermost deref is implicit.
	Base Place
	// Local is the local whose address is taken by DescAddrOfLocal.
	Local Local
	// Proj is the residual projection. It never contains a deref.
	Proj []PlaceElem
}

// DescribeRvalue classifies rv as a projection through an existing pointer
// or as the address of a local. ok is false for rvalues that do not produce
// a pointer from a place, e.g. constants and arithmetic.
func DescribeRvalue(rv *Rvalue) (desc RvalueDesc, ok bool) {
	switch rv.Kind {
	case RvUse:
		switch rv.Operand.Kind {
		case OpCopy, OpMove:
			return RvalueDesc{Kind: DescProject, Base: rv.Operand.Place}, true
		default:
			return RvalueDesc{}, false
		}

	case RvRef, RvAddressOf:
		pl := rv.Place
		last := -1
		for i, e := range pl.Projection {
			if e.Kind == ElemDeref {
				last = i
			}
		}

		if last < 0 {
			return RvalueDesc{
				Kind:  DescAddrOfLocal,
				Local: pl.Local,
				Proj:  pl.Projection,
			}, true
		}
		return RvalueDesc{
			Kind: DescProject,
			Base: Place{Local: pl.Local, Projection: pl.Projection[:last]},
			Proj: pl.Projection[last+1:],
		}, true

	default:
		return RvalueDesc{}, false
	}
}

// CalleeKind enumerates the library operations recognised by TyCallee.
type CalleeKind uint8

const (
	// CalleePtrOffset is the inherent `offset` method of a raw pointer.
	CalleePtrOffset CalleeKind = iota
)

type Callee struct {
	Kind      CalleeKind
	PointeeTy *Ty
	Mutbl     Mutability
}

// TyCallee recognises pointer arithmetic library operations from the type
// of a call's function operand.
func TyCallee(ty *Ty) (Callee, bool) {
	if ty == nil || ty.Kind != TyFnDef {
		return Callee{}, false
	}

	switch ty.Name {
	case "offset":
		// Only the inherent method of `*const T` and `*mut T`.
		if ty.Recv == nil || ty.TraitImpl || ty.Recv.Kind != TyRawPtr {
			return Callee{}, false
		}
		return Callee{
			Kind:      CalleePtrOffset,
			PointeeTy: ty.Recv.Args[0],
			Mutbl:     ty.Recv.Mutbl,
		}, true
	default:
		return Callee{}, false
	}
}
