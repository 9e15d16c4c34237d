package main

import (
	"fmt"
	"log"
	"os"

	"github.com/BarrensZeppelin/permcheck"
	"github.com/BarrensZeppelin/permcheck/borrowck"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var analyzeFlags struct {
	verbose     bool
	dumpDir     string
	compress    bool
	parallelism int
	initial     string
	params      bool
}

func init() {
	f := analyzeCmd.Flags()
	f.BoolVarP(&analyzeFlags.verbose, "verbose", "v", false, "log every refinement iteration")
	f.StringVar(&analyzeFlags.dumpDir, "dump-dir", "", "dump facts and solver output of every iteration to `dir`")
	f.BoolVar(&analyzeFlags.compress, "compress", false, "compress dumps with s2")
	f.IntVarP(&analyzeFlags.parallelism, "parallelism", "j", 0, "number of functions analysed concurrently")
	f.StringVar(&analyzeFlags.initial, "initial", "", "initial permissions, e.g. READ|WRITE|UNIQUE")
	f.BoolVar(&analyzeFlags.params, "params", false, "print the inferred permissions of pointer parameters")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [packages]",
	Short: "Refine pointer permissions of every function in the packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyAnalyzeFlags(cmd, &config); err != nil {
			return err
		}

		return withProfile(func() error {
			prog, entries, err := build(args)
			if err != nil {
				return err
			}

			res, err := permcheck.Analyze(permcheck.AnalysisConfig{
				Program:       prog,
				EntryPackages: entries,
				Config:        config,
				Logger:        log.Default(),
			})
			if err != nil {
				return err
			}
			report(res)
			if n := len(res.Stuck()); n > 0 {
				return fmt.Errorf("%d functions with unresolved borrow errors", n)
			}
			return nil
		})
	},
}

func applyAnalyzeFlags(cmd *cobra.Command, config *permcheck.Config) error {
	f := cmd.Flags()
	if f.Changed("verbose") {
		config.Verbose = analyzeFlags.verbose
	}
	if f.Changed("dump-dir") {
		config.DumpDir = analyzeFlags.dumpDir
	}
	if f.Changed("compress") {
		config.CompressDumps = analyzeFlags.compress
	}
	if f.Changed("parallelism") {
		config.Parallelism = analyzeFlags.parallelism
	}
	if f.Changed("initial") {
		p, err := perm.ParsePermissionSet(analyzeFlags.initial)
		if err != nil {
			return fmt.Errorf("--initial: %w", err)
		}
		config.InitialPermissions = p
	}
	return nil
}

var (
	converged = color.New(color.FgGreen).SprintFunc()
	stuck     = color.New(color.FgYellow, color.Bold).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

func report(res *permcheck.Result) {
	counts := map[borrowck.Outcome]int{}
	out := color.Output
	for _, fn := range res.Sorted() {
		fr := res.Functions[fn]
		counts[fr.Outcome.Outcome]++

		switch fr.Outcome.Outcome {
		case borrowck.Stuck:
			fmt.Fprintf(out, "%s %v: %d unresolved (after %d iterations)\n",
				stuck("STUCK"), fn, fr.Outcome.Unresolved, fr.Outcome.Iterations)
		default:
			if !analyzeFlags.params && fr.Outcome.Iterations == 1 {
				continue
			}
			fmt.Fprintf(out, "%s %v %s\n", converged("OK"), fn,
				faint(fmt.Sprintf("(%d iterations, %d pointers lost UNIQUE)", fr.Outcome.Iterations, len(fr.Outcome.Removed))))
		}

		if analyzeFlags.params {
			for _, p := range fn.Params {
				if ps, ok := fr.Permissions(p); ok && permcheck.Tracked(p.Type()) {
					fmt.Fprintf(out, "    %s: %v\n", p.Name(), ps)
				}
			}
		}
	}

	fmt.Fprintf(os.Stderr, "%d functions: %s, %s\n", len(res.Functions),
		converged(fmt.Sprintf("%d converged", counts[borrowck.Converged])),
		stuck(fmt.Sprintf("%d stuck", counts[borrowck.Stuck])))
}
