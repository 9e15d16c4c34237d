// Package lty implements labeled types: type trees isomorphic to a mir.Ty
// where every node carries a label of some type L.
package lty

import (
	"fmt"
	"strings"

	"github.com/BarrensZeppelin/permcheck/mir"
)

type LabeledTy[L any] struct {
	Ty    *mir.Ty
	Label L
	Args  []*LabeledTy[L]
}

// Label builds a labeled copy of ty, calling f on every node outer to inner,
// arguments left to right.
func Label[L any](ty *mir.Ty, f func(*mir.Ty) L) *LabeledTy[L] {
	lt := &LabeledTy[L]{Ty: ty, Label: f(ty)}
	if len(ty.Args) > 0 {
		lt.Args = make([]*LabeledTy[L], len(ty.Args))
		for i, a := range ty.Args {
			lt.Args[i] = Label(a, f)
		}
	}
	return lt
}

// Relabel builds a new tree with the same shape as lt whose labels are
// computed by f from the old nodes. Nodes are visited in the same order as
// Label, so a deterministic f gives a deterministic result.
func Relabel[L, M any](lt *LabeledTy[L], f func(*LabeledTy[L]) M) *LabeledTy[M] {
	res := &LabeledTy[M]{Ty: lt.Ty, Label: f(lt)}
	if len(lt.Args) > 0 {
		res.Args = make([]*LabeledTy[M], len(lt.Args))
		for i, a := range lt.Args {
			res.Args[i] = Relabel(a, f)
		}
	}
	return res
}

// Project walks lt through elems. Nodes that have no counterpart in lt get
// the label none: the array view of a slice's elements, and the opaque result
// of an ill-typed projection.
func Project[L any](lt *LabeledTy[L], elems []mir.PlaceElem, none L) *LabeledTy[L] {
	for _, e := range elems {
		lt = project(lt, e, none)
	}
	return lt
}

func project[L any](lt *LabeledTy[L], e mir.PlaceElem, none L) *LabeledTy[L] {
	switch e.Kind {
	case mir.ElemDeref:
		switch lt.Ty.Kind {
		case mir.TyRef, mir.TyRawPtr:
			return lt.Args[0]
		case mir.TySlice:
			return &LabeledTy[L]{
				Ty:    mir.ArrayOf(lt.Ty.Args[0]),
				Label: none,
				Args:  []*LabeledTy[L]{lt.Args[0]},
			}
		}
	case mir.ElemField:
		switch lt.Ty.Kind {
		case mir.TyStruct, mir.TyTuple:
			if e.Field < len(lt.Args) {
				return lt.Args[e.Field]
			}
		}
	case mir.ElemIndex:
		if lt.Ty.Kind == mir.TyArray {
			return lt.Args[0]
		}
	}
	return &LabeledTy[L]{Ty: mir.Opaque("?"), Label: none}
}

// ForEachLabel visits every label in pre-order.
func (lt *LabeledTy[L]) ForEachLabel(f func(L)) {
	f(lt.Label)
	for _, a := range lt.Args {
		a.ForEachLabel(f)
	}
}

// Walk visits every node in pre-order.
func (lt *LabeledTy[L]) Walk(f func(*LabeledTy[L])) {
	f(lt)
	for _, a := range lt.Args {
		a.Walk(f)
	}
}

// Zip calls f on corresponding nodes of two trees, stopping at the shorter
// argument list wherever the shapes differ.
func Zip[L, M any](a *LabeledTy[L], b *LabeledTy[M], f func(*LabeledTy[L], *LabeledTy[M])) {
	f(a, b)
	n := min(len(a.Args), len(b.Args))
	for i := 0; i < n; i++ {
		Zip(a.Args[i], b.Args[i], f)
	}
}

func (lt *LabeledTy[L]) String() string {
	var sb strings.Builder
	lt.write(&sb)
	return sb.String()
}

func (lt *LabeledTy[L]) write(sb *strings.Builder) {
	switch lt.Ty.Kind {
	case mir.TyScalar, mir.TyAdt, mir.TyOpaque, mir.TyFnDef:
		sb.WriteString(lt.Ty.String())
	default:
		fmt.Fprintf(sb, "%v", kindName[lt.Ty.Kind])
	}
	fmt.Fprintf(sb, "#%v", lt.Label)
	if len(lt.Args) > 0 {
		sb.WriteString("<")
		for i, a := range lt.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			a.write(sb)
		}
		sb.WriteString(">")
	}
}

var kindName = map[mir.TyKind]string{
	mir.TyRef:    "Ref",
	mir.TyRawPtr: "RawPtr",
	mir.TySlice:  "Slice",
	mir.TyArray:  "Array",
	mir.TyStruct: "Struct",
	mir.TyTuple:  "Tuple",
}
