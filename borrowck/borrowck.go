// Package borrowck refines a permission hypothesis for one function until
// the borrow checker accepts it.
//
// Every iteration translates the function body into a fresh fact set under
// the current hypothesis and hands it to a solver. Each loan named in a
// reported error is traced back to the pointer it was derived from, which
// loses its UNIQUE permission. The hypothesis is then closed under the
// dataflow constraints. The loop stops when the solver reports no errors
// (Converged) or an iteration makes no progress (Stuck).
//
// The hypothesis is the only state that survives an iteration, and it only
// ever shrinks. Since there are finitely many permissions to remove, the
// loop must terminate well within MaxIterations; running into the bound is
// an internal error.
package borrowck

import (
	"fmt"
	"hash/fnv"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/dataflow"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
)

// MaxIterations bounds the number of solver runs per function.
const MaxIterations = 20

type Outcome uint8

const (
	Running Outcome = iota
	Converged
	Stuck
	Exceeded
)

func (o Outcome) String() string {
	return [...]string{"running", "converged", "stuck", "exceeded"}[o]
}

// Event describes one completed iteration.
type Event struct {
	Func      string
	Iteration int
	// Errors is the number of points with borrow errors.
	Errors     int
	MoveErrors int
	// Removed lists the pointers that lost UNIQUE in this iteration, before
	// propagation.
	Removed []perm.PointerID
	// Outcome is Running unless this was the last iteration.
	Outcome Outcome
}

type Options struct {
	// Solver evaluates the facts of each iteration. Defaults to
	// polonius.Compute.
	Solver polonius.Solver
	// Events receives an event after every iteration. It may be nil.
	Events func(Event)
	// DumpDir, if non-empty, receives the facts and solver output of each
	// iteration under <DumpDir>/<func>/<iteration>.
	DumpDir  string
	Compress bool
}

type Result struct {
	Outcome    Outcome
	Iterations int
	// Unresolved is the number of error points left when Stuck.
	Unresolved int
	// Removed lists every pointer that lost UNIQUE because of a culprit
	// loan, in removal order.
	Removed []perm.PointerID
}

// Run refines hyp in place. cs must have been generated from c.
//
// A Stuck result is not an error: hyp is returned as it stands and may still
// admit borrow errors. Internal errors abort the function without a result.
func Run(c *acx.Ctxt, cs *dataflow.Constraints, hyp *perm.Hypothesis, name string, opts Options) (Result, error) {
	solve := opts.Solver
	if solve == nil {
		solve = polonius.Compute
	}
	emit := func(ev Event) {
		if opts.Events != nil {
			opts.Events(ev)
		}
	}

	var res Result
	for {
		facts, maps := BuildFacts(c, hyp)
		out := solve(facts)
		res.Iterations++

		if opts.DumpDir != "" {
			d := polonius.Dumper{
				Dir:      filepath.Join(opts.DumpDir, dumpName(name), strconv.Itoa(res.Iterations)),
				Compress: opts.Compress,
			}
			if err := d.DumpFacts(facts, maps); err != nil {
				return res, fmt.Errorf("%s: %w", name, err)
			}
			if err := d.DumpOutput(out); err != nil {
				return res, fmt.Errorf("%s: %w", name, err)
			}
		}

		ev := Event{
			Func:       name,
			Iteration:  res.Iterations,
			Errors:     len(out.Errors),
			MoveErrors: len(out.MoveErrors),
		}

		if len(out.Errors) == 0 {
			res.Outcome = Converged
			ev.Outcome = Converged
			emit(ev)
			return res, nil
		}
		if res.Iterations >= MaxIterations {
			res.Outcome = Exceeded
			ev.Outcome = Exceeded
			emit(ev)
			return res, &InternalError{
				Kind:   IterationLimit,
				Func:   name,
				Detail: fmt.Sprintf("%d errors remain after %d iterations", len(out.Errors), res.Iterations),
			}
		}

		changed := false
		for _, pt := range out.ErrorPoints() {
			for _, loan := range out.Errors[pt] {
				ptr, err := ResolveCulprit(c, facts, maps, name, loan)
				if err != nil {
					return res, err
				}
				if p := hyp.Ptr(ptr); p.Contains(perm.Unique) {
					p.Remove(perm.Unique)
					changed = true
					ev.Removed = append(ev.Removed, ptr)
				}
			}
		}
		res.Removed = append(res.Removed, ev.Removed...)

		if cs.Propagate(hyp) {
			changed = true
		}

		if !changed {
			res.Outcome = Stuck
			res.Unresolved = len(out.Errors)
			ev.Outcome = Stuck
			emit(ev)
			return res, nil
		}
		emit(ev)
	}
}

// dumpName turns a function name into a directory name. Names that need
// escaping get a hash of the original name appended, so distinct functions
// never share a directory.
func dumpName(name string) string {
	escaped := false
	safe := strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		escaped = true
		return '_'
	}, name)
	if !escaped {
		return safe
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("%s-%08x", safe, h.Sum32())
}

// LogSink returns an event sink printing iteration progress to l.
func LogSink(l *log.Logger) func(Event) {
	return func(ev Event) {
		l.Printf("polonius: %s: iteration %d: %d errors, %d move errors",
			ev.Func, ev.Iteration, ev.Errors, ev.MoveErrors)
		for _, ptr := range ev.Removed {
			l.Printf("%s: dropped UNIQUE from %v", ev.Func, ptr)
		}
		if ev.Outcome == Stuck {
			l.Printf("%d unresolved borrowck errors in function %q (after %d iterations)",
				ev.Errors, ev.Func, ev.Iteration)
		}
	}
}
