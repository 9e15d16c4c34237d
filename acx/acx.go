// Package acx holds the per-function analysis context: the pointer
// identities assigned to every pointer-typed location of a body.
package acx

import (
	"github.com/BarrensZeppelin/permcheck/lty"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
)

// LTy is a type labeled with the pointer identity of each pointer node.
// Non-pointer nodes carry perm.NoPointer.
type LTy = lty.LabeledTy[perm.PointerID]

type Ctxt struct {
	Body *mir.Body
	// LocalTys holds the labeled declared type of every local.
	LocalTys []*LTy
	// AddrOfLocal is the pointer standing for `&local`, for each local.
	AddrOfLocal []perm.PointerID

	ptrs perm.Allocator
}

// New assigns pointer IDs to body: first every pointer node of every local's
// type (locals in order, type nodes outer to inner), then one address-of
// pointer per local.
func New(body *mir.Body) *Ctxt {
	c := &Ctxt{
		Body:        body,
		LocalTys:    make([]*LTy, len(body.Locals)),
		AddrOfLocal: make([]perm.PointerID, len(body.Locals)),
	}

	for i, decl := range body.Locals {
		c.LocalTys[i] = lty.Label(decl.Ty, func(ty *mir.Ty) perm.PointerID {
			if ty.IsPointer() {
				return c.ptrs.New()
			}
			return perm.NoPointer
		})
	}
	for i := range body.Locals {
		c.AddrOfLocal[i] = c.ptrs.New()
	}
	return c
}

// NumPointers is the size of a hypothesis table for this context.
func (c *Ctxt) NumPointers() int { return c.ptrs.Len() }

// NewHypothesis gives every pointer of the body the permissions in initial.
func (c *Ctxt) NewHypothesis(initial perm.PermissionSet) perm.Hypothesis {
	return perm.NewHypothesis(c.NumPointers(), initial)
}

// PlaceTy computes the labeled type of pl by projecting the local's type.
// Deref of a slice yields an unlabeled array view over the slice's element,
// and ill-typed projections yield an unlabeled opaque node.
func (c *Ctxt) PlaceTy(pl mir.Place) *LTy {
	return lty.Project(c.LocalTys[pl.Local], pl.Projection, perm.NoPointer)
}

// PtrOf returns the pointer identity of the value stored at pl, if pl has a
// tracked pointer type.
func (c *Ctxt) PtrOf(pl mir.Place) (perm.PointerID, bool) {
	id := c.PlaceTy(pl).Label
	return id, !id.IsNone()
}
