package permcheck

import (
	"strings"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/borrowck"
	"github.com/BarrensZeppelin/permcheck/dataflow"
	"github.com/BarrensZeppelin/permcheck/frontend"
	"github.com/BarrensZeppelin/permcheck/internal/maps"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"golang.org/x/tools/go/ssa"
)

type Result struct {
	Functions map[*ssa.Function]*FunctionResult
}

// FunctionResult is the refined hypothesis of one function.
type FunctionResult struct {
	Lowered     *frontend.Lowered
	Ctxt        *acx.Ctxt
	Constraints *dataflow.Constraints
	Hypothesis  perm.Hypothesis
	Outcome     borrowck.Result
}

// Permissions returns the inferred permissions of the pointer held by v. ok
// is false if v was not analysed or does not hold a tracked pointer.
func (r *Result) Permissions(v ssa.Value) (_ perm.PermissionSet, ok bool) {
	if !Tracked(v.Type()) {
		return perm.None, false
	}
	fr := r.Functions[v.Parent()]
	if fr == nil {
		return perm.None, false
	}
	return fr.Permissions(v)
}

func (fr *FunctionResult) Permissions(v ssa.Value) (perm.PermissionSet, bool) {
	loc, ok := fr.Lowered.Local(v)
	if !ok {
		return perm.None, false
	}
	ptr, ok := fr.Ctxt.PtrOf(mir.LocalPlace(loc))
	if !ok {
		return perm.None, false
	}
	return fr.Hypothesis.Get(ptr), true
}

// Stuck lists the functions whose refinement got stuck, sorted by name.
func (r *Result) Stuck() []*ssa.Function {
	var res []*ssa.Function
	for _, fun := range r.Sorted() {
		if r.Functions[fun].Outcome.Outcome == borrowck.Stuck {
			res = append(res, fun)
		}
	}
	return res
}

// Sorted lists the analysed functions by name.
func (r *Result) Sorted() []*ssa.Function {
	return maps.SortedKeysFunc(r.Functions, func(a, b *ssa.Function) int {
		return strings.Compare(a.String(), b.String())
	})
}
