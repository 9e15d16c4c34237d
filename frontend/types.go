package frontend

import (
	"go/types"

	"github.com/BarrensZeppelin/permcheck/mir"
)

// unsafePointee is the element type of unsafe.Pointer.
var unsafePointee = mir.Scalar("unsafe")

// typeLowerer translates Go types into mir types. Pointers become mutable
// raw pointers, and the reference-like kinds that are not tracked become
// opaque.
type typeLowerer struct {
	// inProgress holds the named types currently being expanded. A named
	// type that refers back to itself is cut off as an Adt.
	inProgress map[*types.Named]bool
}

func newTypeLowerer() *typeLowerer {
	return &typeLowerer{inProgress: make(map[*types.Named]bool)}
}

func (tl *typeLowerer) lower(t types.Type) *mir.Ty {
	return tl.lowerNamed(t, "")
}

func (tl *typeLowerer) lowerNamed(t types.Type, name string) *mir.Ty {
	switch t := types.Unalias(t).(type) {
	case *types.Named:
		if tl.inProgress[t] {
			return mir.Adt(t.Obj().Name())
		}
		tl.inProgress[t] = true
		defer delete(tl.inProgress, t)
		return tl.lowerNamed(t.Underlying(), t.Obj().Name())

	case *types.Basic:
		if t.Kind() == types.UnsafePointer {
			return mir.RawPtrTo(mir.Mut, unsafePointee)
		}
		return mir.Scalar(t.Name())

	case *types.Pointer:
		return mir.RawPtrTo(mir.Mut, tl.lower(t.Elem()))

	case *types.Slice:
		return mir.SliceOf(tl.lower(t.Elem()))

	case *types.Array:
		return mir.ArrayOf(tl.lower(t.Elem()))

	case *types.Struct:
		if name == "" {
			name = "struct"
		}
		fields := make([]string, t.NumFields())
		tys := make([]*mir.Ty, t.NumFields())
		for i := range fields {
			fields[i] = t.Field(i).Name()
			tys[i] = tl.lower(t.Field(i).Type())
		}
		return mir.Struct(name, fields, tys)

	case *types.Tuple:
		tys := make([]*mir.Ty, t.Len())
		for i := range tys {
			tys[i] = tl.lower(t.At(i).Type())
		}
		return mir.Tuple(tys...)

	case *types.Map:
		return mir.Opaque("map")
	case *types.Chan:
		return mir.Opaque("chan")
	case *types.Interface:
		return mir.Opaque("interface")
	case *types.Signature:
		return mir.Opaque("func")
	default:
		return mir.Opaque(t.String())
	}
}

// resultType is the type of the return place of a function with signature
// sig: unit, the single result, or a tuple of the results.
func (tl *typeLowerer) resultType(sig *types.Signature) *mir.Ty {
	switch res := sig.Results(); res.Len() {
	case 0:
		return mir.Tuple()
	case 1:
		return tl.lower(res.At(0).Type())
	default:
		return tl.lower(res)
	}
}
