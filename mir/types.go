package mir

import (
	"fmt"
	"strings"
)

// TyKind enumerates the shapes of types known to the analysis.
type TyKind uint8

const (
	// TyScalar is a non-pointer leaf type such as an integer or bool.
	TyScalar TyKind = iota
	// TyRef is a safe reference. Args[0] is the pointee.
	TyRef
	// TyRawPtr is a raw pointer. Args[0] is the pointee.
	TyRawPtr
	// TySlice is a pointer to a run of elements. Args[0] is the element.
	TySlice
	// TyArray is a fixed-size array. Args[0] is the element.
	TyArray
	// TyStruct has one argument per field, named by Fields.
	TyStruct
	// TyTuple has one argument per component.
	TyTuple
	// TyAdt is a named type whose structure is not expanded.
	TyAdt
	// TyOpaque covers reference-like values that are not tracked: maps,
	// channels, interfaces and function values.
	TyOpaque
	// TyFnDef is the type of a statically known callee.
	TyFnDef
)

// Mutability of a pointer or borrow.
type Mutability uint8

const (
	Not Mutability = iota
	Mut
)

func (m Mutability) String() string {
	if m == Mut {
		return "mut"
	}
	return "const"
}

// Ty is a structural type tree.
type Ty struct {
	Kind TyKind
	// Name is set for scalars, ADTs, opaque types and callees.
	Name string
	// Mutbl is set for TyRef and TyRawPtr.
	Mutbl Mutability
	Args  []*Ty
	// Fields names the arguments of a TyStruct.
	Fields []string

	// Recv is the receiver type of a TyFnDef method, nil for free functions.
	Recv *Ty
	// TraitImpl is true when a TyFnDef is a method of an interface (trait)
	// implementation rather than an inherent method of Recv.
	TraitImpl bool
}

// IsPointer reports whether values of the type are tracked pointers.
func (t *Ty) IsPointer() bool {
	switch t.Kind {
	case TyRef, TyRawPtr, TySlice:
		return true
	}
	return false
}

// Pointee returns the pointed-to type of a pointer type.
func (t *Ty) Pointee() *Ty {
	if !t.IsPointer() {
		panic(fmt.Errorf("type %v is not a pointer", t))
	}
	return t.Args[0]
}

func Scalar(name string) *Ty { return &Ty{Kind: TyScalar, Name: name} }

func RefTo(mutbl Mutability, elem *Ty) *Ty {
	return &Ty{Kind: TyRef, Mutbl: mutbl, Args: []*Ty{elem}}
}

func RawPtrTo(mutbl Mutability, elem *Ty) *Ty {
	return &Ty{Kind: TyRawPtr, Mutbl: mutbl, Args: []*Ty{elem}}
}

func SliceOf(elem *Ty) *Ty { return &Ty{Kind: TySlice, Args: []*Ty{elem}} }

func ArrayOf(elem *Ty) *Ty { return &Ty{Kind: TyArray, Args: []*Ty{elem}} }

func Tuple(elems ...*Ty) *Ty { return &Ty{Kind: TyTuple, Args: elems} }

func Adt(name string) *Ty { return &Ty{Kind: TyAdt, Name: name} }

func Opaque(name string) *Ty { return &Ty{Kind: TyOpaque, Name: name} }

// Struct builds a struct type from parallel field name and type lists.
func Struct(name string, fields []string, tys []*Ty) *Ty {
	if len(fields) != len(tys) {
		panic("mismatched struct field names and types")
	}
	return &Ty{Kind: TyStruct, Name: name, Fields: fields, Args: tys}
}

// FnDef builds the type of a callee. recv is nil for free functions.
func FnDef(name string, recv *Ty, traitImpl bool) *Ty {
	return &Ty{Kind: TyFnDef, Name: name, Recv: recv, TraitImpl: traitImpl}
}

func (t *Ty) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TyScalar, TyAdt, TyOpaque:
		return t.Name
	case TyRef:
		if t.Mutbl == Mut {
			return "&mut " + t.Args[0].String()
		}
		return "&" + t.Args[0].String()
	case TyRawPtr:
		return fmt.Sprintf("*%v %v", t.Mutbl, t.Args[0])
	case TySlice:
		return "[]" + t.Args[0].String()
	case TyArray:
		return "[_]" + t.Args[0].String()
	case TyStruct:
		var sb strings.Builder
		if t.Name != "" {
			sb.WriteString(t.Name)
		}
		sb.WriteString("{")
		for i, f := range t.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", t.Fields[i], f)
		}
		sb.WriteString("}")
		return sb.String()
	case TyTuple:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TyFnDef:
		if t.Recv != nil {
			return fmt.Sprintf("fn(%v).%s", t.Recv, t.Name)
		}
		return "fn " + t.Name
	default:
		return fmt.Sprintf("ty(%d)", t.Kind)
	}
}
