package permcheck

import (
	"fmt"

	"github.com/BarrensZeppelin/permcheck/borrowck"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
)

const analyzerDoc = `report functions whose pointer permissions cannot be refined

permcheck starts every pointer of a function with all permissions and removes
UNIQUE from pointers involved in borrow conflicts until none remain. A
function is reported when a conflict survives the removal of every UNIQUE
permission that could explain it.`

var analyzerConfigPath string

func init() {
	Analyzer.Flags.StringVar(&analyzerConfigPath, "config", "", "path to a "+ConfigFile+" file")
}

// Analyzer reports stuck functions of a package.
var Analyzer = &analysis.Analyzer{
	Name:     "permcheck",
	Doc:      analyzerDoc,
	Run:      run,
	Requires: []*analysis.Analyzer{buildssa.Analyzer},
}

func run(pass *analysis.Pass) (any, error) {
	config := DefaultConfig()
	if analyzerConfigPath != "" {
		var err error
		if config, err = LoadConfig(analyzerConfigPath); err != nil {
			return nil, err
		}
	}

	ssainput := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)
	for _, fun := range ssainput.SrcFuncs {
		if isGenericBody(fun) || len(fun.Blocks) == 0 {
			continue
		}
		fr, err := analyzeFunc(fun, config, nil)
		if err != nil {
			return nil, err
		}
		if fr.Outcome.Outcome != borrowck.Stuck {
			continue
		}
		pass.Report(analysis.Diagnostic{
			Pos: fun.Pos(),
			Message: fmt.Sprintf("%d unresolved borrowck errors in function %s (after %d iterations)",
				fr.Outcome.Unresolved, fun, fr.Outcome.Iterations),
		})
	}
	return nil, nil
}
