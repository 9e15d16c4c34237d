package borrowck

import (
	"fmt"
	"math"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/lty"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
)

// NoOrigin labels type nodes that are not tracked by the solver.
const NoOrigin = polonius.Origin(math.MaxUint32)

// Label is attached to every node of a local's type for one iteration.
type Label struct {
	Origin polonius.Origin
	Perm   perm.PermissionSet
}

func (l Label) HasOrigin() bool { return l.Origin != NoOrigin }

func (l Label) String() string {
	if !l.HasOrigin() {
		return fmt.Sprintf("_/%v", l.Perm)
	}
	return fmt.Sprintf("%v/%v", l.Origin, l.Perm)
}

type LTy = lty.LabeledTy[Label]

var untracked = Label{Origin: NoOrigin}

// AssignOrigins relabels t with the permissions of hyp. Pointer nodes with a
// non-empty permission set get a fresh origin from maps, outer nodes first.
// Nodes without a pointer identity have an empty permission set.
func AssignOrigins(hyp *perm.Hypothesis, maps *polonius.AtomMaps, t *acx.LTy) *LTy {
	return lty.Relabel(t, func(n *acx.LTy) Label {
		p := perm.None
		if !n.Label.IsNone() {
			p = hyp.Get(n.Label)
		}
		if n.Ty.IsPointer() && !p.IsEmpty() {
			return Label{Origin: maps.Origin(), Perm: p}
		}
		return Label{Origin: NoOrigin, Perm: p}
	})
}

func (b *builder) assignOrigins(hyp *perm.Hypothesis) {
	b.localTys = make([]*LTy, len(b.acx.LocalTys))
	for i, t := range b.acx.LocalTys {
		lt := AssignOrigins(hyp, b.maps, t)
		v := b.maps.Variable(mir.Local(i))
		lt.ForEachLabel(func(l Label) {
			if !l.HasOrigin() {
				return
			}
			b.facts.UseOfVarDerefsOrigin = append(b.facts.UseOfVarDerefsOrigin, polonius.VarOrigin{Var: v, Origin: l.Origin})
			b.facts.DropOfVarDerefsOrigin = append(b.facts.DropOfVarDerefsOrigin, polonius.VarOrigin{Var: v, Origin: l.Origin})
		})
		b.localTys[i] = lt
	}
}

func (b *builder) placeTy(pl mir.Place) *LTy {
	return lty.Project(b.localTys[pl.Local], pl.Projection, untracked)
}
