package main

import (
	"errors"
	"fmt"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/borrowck"
	"github.com/BarrensZeppelin/permcheck/frontend"
	"github.com/BarrensZeppelin/permcheck/polonius"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

var factsFlags struct {
	fun      string
	out      string
	compress bool
}

func init() {
	f := factsCmd.Flags()
	f.StringVarP(&factsFlags.fun, "func", "f", "", "fully qualified function name, e.g. example.com/pkg.(*T).M")
	f.StringVarP(&factsFlags.out, "out", "o", "", "write the facts to `dir`")
	f.BoolVar(&factsFlags.compress, "compress", false, "compress the facts with s2")
	_ = factsCmd.MarkFlagRequired("func")
}

var errNoFunction = errors.New("no such function")

var factsCmd = &cobra.Command{
	Use:   "facts --func NAME [packages]",
	Short: "Print the lowered body and initial borrow checker facts of a function",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		prog, _, err := build(args)
		if err != nil {
			return err
		}
		fn := findFunc(prog, factsFlags.fun)
		if fn == nil {
			return fmt.Errorf("%s: %w", factsFlags.fun, errNoFunction)
		}

		lw, err := frontend.Lower(fn)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, lw.Body)

		c := acx.New(lw.Body)
		hyp := c.NewHypothesis(config.InitialPermissions)
		facts, maps := borrowck.BuildFacts(c, &hyp)

		bold := color.New(color.Bold).SprintFunc()
		for _, rel := range facts.Relations() {
			fmt.Fprintf(out, "%-28s %d\n", bold(rel.Name), len(rel.Rows))
		}

		res := polonius.Compute(facts)
		for _, pt := range res.ErrorPoints() {
			fmt.Fprintf(out, "%s at %v: %v\n", color.RedString("error"), maps.PointKey(pt), res.Errors[pt])
		}

		if factsFlags.out != "" {
			d := polonius.Dumper{Dir: factsFlags.out, Compress: factsFlags.compress}
			if err := d.DumpFacts(facts, maps); err != nil {
				return err
			}
			return d.DumpOutput(res)
		}
		return nil
	},
}

func findFunc(prog *ssa.Program, name string) *ssa.Function {
	for fn := range ssautil.AllFunctions(prog) {
		if fn.String() == name && len(fn.Blocks) > 0 {
			return fn
		}
	}
	return nil
}
