// Command permcheck infers pointer permissions for the functions of Go
// packages.
package main

import (
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/BarrensZeppelin/permcheck"
	"github.com/BarrensZeppelin/permcheck/pkgutil"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

var (
	configPath string
	cpuprofile string
	dir        string
	tests      bool
)

var rootCmd = &cobra.Command{
	Use:           "permcheck",
	Short:         "Infer pointer permissions for Go packages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	log.SetFlags(log.Ltime | log.Lshortfile)

	rootCmd.AddCommand(analyzeCmd, factsCmd, versionCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default ./"+permcheck.ConfigFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&cpuprofile, "cpuprofile", "", "write cpu profile to `file`")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "alternative directory to run the go build tool in")
	rootCmd.PersistentFlags().BoolVar(&tests, "tests", false, "include test packages")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "permcheck:", err)
		os.Exit(1)
	}
}

// withProfile runs f, recording a CPU profile if requested.
func withProfile(f func() error) (err error) {
	if cpuprofile == "" {
		return f()
	}

	pf, err := os.Create(cpuprofile)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	defer func() {
		if cerr := pf.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := pprof.StartCPUProfile(pf); err != nil {
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	defer pprof.StopCPUProfile()
	return f()
}

// loadConfig reads the configuration file given on the command line, or
// permcheck.toml in the working directory if it exists.
func loadConfig() (permcheck.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(permcheck.ConfigFile); err != nil {
			return permcheck.DefaultConfig(), nil
		}
		path = permcheck.ConfigFile
	}
	return permcheck.LoadConfig(path)
}

// build loads the packages matching queries and builds their SSA form.
func build(queries []string) (*ssa.Program, []*ssa.Package, error) {
	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: tests,
		Dir:   dir,
	}, queries...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading packages failed: %w", err)
	}
	log.Printf("Loaded %d packages", len(pkgs))

	prog, spkgs := pkgutil.BuildSSA(pkgs, 0)
	log.Println("Built packages")
	return prog, spkgs, nil
}
