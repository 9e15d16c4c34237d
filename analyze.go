// Package permcheck infers pointer permissions for the functions of a Go
// program. Every function is lowered from SSA form into a small MIR, every
// pointer starts out with a configurable permission set, and the borrow
// checker removes UNIQUE from pointers until it accepts the function.
package permcheck

import (
	"context"
	"errors"
	"fmt"
	"go/types"
	"log"
	"runtime"
	"sync"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/borrowck"
	"github.com/BarrensZeppelin/permcheck/dataflow"
	"github.com/BarrensZeppelin/permcheck/frontend"
	"github.com/BarrensZeppelin/permcheck/internal/queue"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"
)

func init() {
	log.SetFlags(log.Ltime | log.Lshortfile)
}

type AnalysisConfig struct {
	Program *ssa.Program
	// Functions declared in EntryPackages are analysed, together with the
	// closures and generic instantiations they reach.
	EntryPackages []*ssa.Package
	Config        Config
	// Logger receives stuck reports, and every iteration when
	// Config.Verbose is set. Defaults to log.Default().
	Logger *log.Logger
}

type aContext struct {
	prog    *ssa.Program
	entries map[*ssa.Package]bool

	queue   queue.Queue[*ssa.Function]
	visited map[*ssa.Function]bool
}

func (ctx *aContext) discoverFun(fun *ssa.Function) {
	if fun == nil || ctx.visited[fun] {
		return
	}
	ctx.visited[fun] = true
	ctx.queue.Push(fun)
}

// inEntry reports whether fun, or the generic function it instantiates, is
// declared in an entry package.
func (ctx *aContext) inEntry(fun *ssa.Function) bool {
	if fun.Pkg != nil {
		return ctx.entries[fun.Pkg]
	}
	if o := fun.Origin(); o != nil && o.Pkg != nil {
		return ctx.entries[o.Pkg]
	}
	return false
}

// functions lists the analysable functions in discovery order.
func (ctx *aContext) functions() []*ssa.Function {
	for pkg := range ctx.entries {
		for _, mem := range pkg.Members {
			switch mem := mem.(type) {
			case *ssa.Function:
				ctx.discoverFun(mem)
			case *ssa.Type:
				for _, T := range [...]types.Type{mem.Type(), types.NewPointer(mem.Type())} {
					mset := ctx.prog.MethodSets.MethodSet(T)
					for i := 0; i < mset.Len(); i++ {
						if m := ctx.prog.MethodValue(mset.At(i)); m != nil && m.Synthetic == "" {
							ctx.discoverFun(m)
						}
					}
				}
			}
		}
	}

	var funs []*ssa.Function
	for !ctx.queue.Empty() {
		fun := ctx.queue.Pop()
		if isGenericBody(fun) || len(fun.Blocks) == 0 || (fun.Synthetic != "" && fun.Origin() == nil) {
			continue
		}
		funs = append(funs, fun)

		for _, anon := range fun.AnonFuncs {
			ctx.discoverFun(anon)
		}
		for _, block := range fun.Blocks {
			for _, insn := range block.Instrs {
				if call, ok := insn.(ssa.CallInstruction); ok {
					if sc := call.Common().StaticCallee(); sc != nil && ctx.inEntry(sc) {
						ctx.discoverFun(sc)
					}
				}
			}
		}
	}
	return funs
}

func isGenericBody(fun *ssa.Function) bool {
	return fun.TypeParams().Len() > 0 && len(fun.TypeArgs()) == 0
}

// Analyze runs the permission refinement for every function of the entry
// packages. Functions are analysed in parallel, each with its own
// hypothesis. An internal error in any function aborts the whole run.
func Analyze(config AnalysisConfig) (*Result, error) {
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	limit := config.Config.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	ctx := &aContext{
		prog:    config.Program,
		entries: make(map[*ssa.Package]bool, len(config.EntryPackages)),
		visited: make(map[*ssa.Function]bool),
	}
	for _, pkg := range config.EntryPackages {
		ctx.entries[pkg] = true
	}
	funs := ctx.functions()

	res := &Result{Functions: make(map[*ssa.Function]*FunctionResult, len(funs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(limit)
	events := eventSink(logger, config.Config.Verbose)
	for _, fun := range funs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr, err := analyzeFunc(fun, config.Config, events)
			if err != nil {
				return err
			}
			mu.Lock()
			res.Functions[fun] = fr
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func eventSink(l *log.Logger, verbose bool) func(borrowck.Event) {
	sink := borrowck.LogSink(l)
	if verbose {
		return sink
	}
	return func(ev borrowck.Event) {
		if ev.Outcome == borrowck.Stuck {
			sink(ev)
		}
	}
}

// AnalyzeFunc runs the permission refinement for a single function.
func AnalyzeFunc(fun *ssa.Function, config Config) (*FunctionResult, error) {
	return analyzeFunc(fun, config, nil)
}

func analyzeFunc(fun *ssa.Function, config Config, events func(borrowck.Event)) (*FunctionResult, error) {
	lw, err := frontend.Lower(fun)
	if err != nil {
		return nil, err
	}
	if err := lw.Body.Validate(); err != nil {
		return nil, fmt.Errorf("lowering %v: %w", fun, err)
	}

	c := acx.New(lw.Body)
	cs := dataflow.Generate(c)
	hyp := c.NewHypothesis(config.InitialPermissions)

	out, err := borrowck.Run(c, cs, &hyp, lw.Body.Name, borrowck.Options{
		Events:   events,
		DumpDir:  config.DumpDir,
		Compress: config.CompressDumps,
	})
	if err != nil {
		var ierr *borrowck.InternalError
		if errors.As(err, &ierr) {
			return nil, fmt.Errorf("internal error: %w", err)
		}
		return nil, err
	}

	return &FunctionResult{
		Lowered:     lw,
		Ctxt:        c,
		Hypothesis:  hyp,
		Constraints: cs,
		Outcome:     out,
	}, nil
}
