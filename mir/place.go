package mir

import (
	"fmt"
	"strings"
)

type PlaceElemKind uint8

const (
	ElemDeref PlaceElemKind = iota
	ElemField
	ElemIndex
)

type PlaceElem struct {
	Kind PlaceElemKind
	// Field is the field number of ElemField.
	Field int
	// Index is the local holding the index of ElemIndex.
	Index Local
}

var Deref = PlaceElem{Kind: ElemDeref}

func Field(i int) PlaceElem { return PlaceElem{Kind: ElemField, Field: i} }

func Index(l Local) PlaceElem { return PlaceElem{Kind: ElemIndex, Index: l} }

// Place is a local followed by a chain of projections.
type Place struct {
	Local      Local
	Projection []PlaceElem
}

// LocalPlace is the place denoting the whole of local l.
func LocalPlace(l Local) Place { return Place{Local: l} }

// Project returns a new place extending pl with elems. pl is not modified.
func (pl Place) Project(elems ...PlaceElem) Place {
	proj := make([]PlaceElem, 0, len(pl.Projection)+len(elems))
	proj = append(proj, pl.Projection...)
	proj = append(proj, elems...)
	return Place{Local: pl.Local, Projection: proj}
}

// Parent strips the last projection. ok is false for a bare local.
func (pl Place) Parent() (parent Place, last PlaceElem, ok bool) {
	n := len(pl.Projection)
	if n == 0 {
		return pl, PlaceElem{}, false
	}
	return Place{Local: pl.Local, Projection: pl.Projection[:n-1]}, pl.Projection[n-1], true
}

// HasDeref reports whether the place reads through a pointer.
func (pl Place) HasDeref() bool {
	for _, e := range pl.Projection {
		if e.Kind == ElemDeref {
			return true
		}
	}
	return false
}

// Overlaps reports whether the memory denoted by pl and o may intersect:
// same local and one projection is a prefix of the other. Distinct fields
// never overlap, indices always may.
func (pl Place) Overlaps(o Place) bool {
	if pl.Local != o.Local {
		return false
	}
	n := min(len(pl.Projection), len(o.Projection))
	for i := 0; i < n; i++ {
		a, b := pl.Projection[i], o.Projection[i]
		if a.Kind != b.Kind {
			// Ill-typed comparison, stay conservative.
			return true
		}
		if a.Kind == ElemField && a.Field != b.Field {
			return false
		}
	}
	return true
}

func (pl Place) Equal(o Place) bool {
	if pl.Local != o.Local || len(pl.Projection) != len(o.Projection) {
		return false
	}
	for i := range pl.Projection {
		if pl.Projection[i] != o.Projection[i] {
			return false
		}
	}
	return true
}

func (pl Place) String() string {
	s := pl.Local.String()
	for _, e := range pl.Projection {
		switch e.Kind {
		case ElemDeref:
			s = "(*" + s + ")"
		case ElemField:
			s = fmt.Sprintf("%s.%d", s, e.Field)
		case ElemIndex:
			s = fmt.Sprintf("%s[%v]", s, e.Index)
		}
	}
	return s
}

type OperandKind uint8

const (
	OpCopy OperandKind = iota
	OpMove
	OpConstant
)

type Operand struct {
	Kind  OperandKind
	Place Place
	// Const and Ty describe constants.
	Const string
	Ty    *Ty
}

func Copy(pl Place) Operand { return Operand{Kind: OpCopy, Place: pl} }

func Move(pl Place) Operand { return Operand{Kind: OpMove, Place: pl} }

func Constant(value string, ty *Ty) Operand {
	return Operand{Kind: OpConstant, Const: value, Ty: ty}
}

func (op Operand) String() string {
	switch op.Kind {
	case OpCopy:
		return "copy " + op.Place.String()
	case OpMove:
		return "move " + op.Place.String()
	default:
		return "const " + op.Const
	}
}

type BorrowKind uint8

const (
	BorrowShared BorrowKind = iota
	BorrowMut
)

func (k BorrowKind) String() string {
	if k == BorrowMut {
		return "mut"
	}
	return "shared"
}

type RvalueKind uint8

const (
	RvUse RvalueKind = iota
	RvRef
	RvAddressOf
	RvBinaryOp
	RvUnaryOp
	RvCast
	RvAggregate
	RvLen
)

type Rvalue struct {
	Kind RvalueKind

	// Operand is the input of Use, UnaryOp and Cast.
	Operand Operand
	// Args are the inputs of BinaryOp (two) and Aggregate.
	Args []Operand
	// Op names the operator of BinaryOp and UnaryOp.
	Op string
	// Place is the borrowed place of Ref and AddressOf, and the measured
	// place of Len.
	Place      Place
	BorrowKind BorrowKind
	Mutbl      Mutability
	// Ty is the target type of Cast.
	Ty *Ty
}

func Use(op Operand) Rvalue { return Rvalue{Kind: RvUse, Operand: op} }

func Ref(kind BorrowKind, pl Place) Rvalue {
	return Rvalue{Kind: RvRef, BorrowKind: kind, Place: pl}
}

func AddressOf(mutbl Mutability, pl Place) Rvalue {
	return Rvalue{Kind: RvAddressOf, Mutbl: mutbl, Place: pl}
}

func BinaryOp(op string, a, b Operand) Rvalue {
	return Rvalue{Kind: RvBinaryOp, Op: op, Args: []Operand{a, b}}
}

func UnaryOp(op string, a Operand) Rvalue {
	return Rvalue{Kind: RvUnaryOp, Op: op, Operand: a}
}

func Cast(a Operand, ty *Ty) Rvalue { return Rvalue{Kind: RvCast, Operand: a, Ty: ty} }

func Aggregate(args ...Operand) Rvalue { return Rvalue{Kind: RvAggregate, Args: args} }

func Len(pl Place) Rvalue { return Rvalue{Kind: RvLen, Place: pl} }

// Operands lists the operands read by the rvalue. Borrowed places of Ref and
// AddressOf are not operands.
func (rv *Rvalue) Operands() []Operand {
	switch rv.Kind {
	case RvUse, RvUnaryOp, RvCast:
		return []Operand{rv.Operand}
	case RvBinaryOp, RvAggregate:
		return rv.Args
	}
	return nil
}

func (rv *Rvalue) String() string {
	switch rv.Kind {
	case RvUse:
		return rv.Operand.String()
	case RvRef:
		if rv.BorrowKind == BorrowMut {
			return "&mut " + rv.Place.String()
		}
		return "&" + rv.Place.String()
	case RvAddressOf:
		return fmt.Sprintf("&raw %v %v", rv.Mutbl, rv.Place)
	case RvBinaryOp:
		return fmt.Sprintf("%s(%v, %v)", rv.Op, rv.Args[0], rv.Args[1])
	case RvUnaryOp:
		return fmt.Sprintf("%s(%v)", rv.Op, rv.Operand)
	case RvCast:
		return fmt.Sprintf("%v as %v", rv.Operand, rv.Ty)
	case RvAggregate:
		parts := make([]string, len(rv.Args))
		for i, a := range rv.Args {
			parts[i] = a.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case RvLen:
		return fmt.Sprintf("Len(%v)", rv.Place)
	default:
		return "?"
	}
}
