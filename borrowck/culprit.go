package borrowck

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
)

// ErrorKind classifies internal errors. All of them indicate a defect in the
// analysis rather than in the analysed program.
type ErrorKind uint8

const (
	LoanNotIssued ErrorKind = iota
	IssuedByTerminator
	NotAnAssignment
	UnknownRvalue
	MissingPointer
	IterationLimit
)

var (
	ErrLoanNotIssued      = errors.New("loan was never issued")
	ErrIssuedByTerminator = errors.New("loan was issued by a terminator")
	ErrNotAnAssignment    = errors.New("loan was issued by a non-assignment statement")
	ErrUnknownRvalue      = errors.New("loan was issued by an unknown rvalue")
	ErrMissingPointer     = errors.New("missing pointer ID")
	ErrIterationLimit     = errors.New("iteration limit exceeded")
)

var kindErrors = [...]error{
	LoanNotIssued:      ErrLoanNotIssued,
	IssuedByTerminator: ErrIssuedByTerminator,
	NotAnAssignment:    ErrNotAnAssignment,
	UnknownRvalue:      ErrUnknownRvalue,
	MissingPointer:     ErrMissingPointer,
	IterationLimit:     ErrIterationLimit,
}

// InternalError aborts the analysis of a function. It matches the sentinel
// of its kind with errors.Is.
type InternalError struct {
	Kind ErrorKind
	Func string
	// Loan is the loan being resolved. It is unset for IterationLimit.
	Loan   polonius.Loan
	Detail string
}

func (e *InternalError) Error() string {
	if e.Kind == IterationLimit {
		return fmt.Sprintf("%s: %v: %s", e.Func, kindErrors[e.Kind], e.Detail)
	}
	return fmt.Sprintf("%s: %v: %v: %s", e.Func, e.Loan, kindErrors[e.Kind], e.Detail)
}

func (e *InternalError) Unwrap() error { return kindErrors[e.Kind] }

// ResolveCulprit finds the pointer responsible for loan: the base pointer of
// the reborrow that issued it, or the address-of pointer of the borrowed
// local.
func ResolveCulprit(
	c *acx.Ctxt,
	facts *polonius.AllFacts,
	maps *polonius.AtomMaps,
	name string,
	loan polonius.Loan,
) (perm.PointerID, error) {
	fail := func(kind ErrorKind, format string, args ...any) (perm.PointerID, error) {
		return perm.NoPointer, &InternalError{
			Kind:   kind,
			Func:   name,
			Loan:   loan,
			Detail: fmt.Sprintf(format, args...),
		}
	}

	i := slices.IndexFunc(facts.LoanIssuedAt, func(li polonius.LoanIssued) bool { return li.Loan == loan })
	if i < 0 {
		return fail(LoanNotIssued, "no loan_issued_at fact")
	}
	loc := maps.PointLocation(facts.LoanIssuedAt[i].Point)

	st, term := c.Body.StmtAt(loc)
	if term != nil {
		return fail(IssuedByTerminator, "at %v: %v", loc, term)
	}
	if st.Kind != mir.StmtAssign {
		return fail(NotAnAssignment, "at %v: %v", loc, st)
	}

	rv := &st.Assign.Rvalue
	desc, ok := mir.DescribeRvalue(rv)
	if !ok {
		return fail(UnknownRvalue, "at %v: %v", loc, rv)
	}
	switch desc.Kind {
	case mir.DescProject:
		ptr, ok := c.PtrOf(desc.Base)
		if !ok {
			return fail(MissingPointer, "at %v: base %v", loc, desc.Base)
		}
		return ptr, nil
	default:
		return c.AddrOfLocal[desc.Local], nil
	}
}
