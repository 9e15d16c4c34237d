// Package gclplugin registers permcheck as a golangci-lint module plugin.
// See https://golangci-lint.run/plugins/module-plugins/.
package gclplugin

import (
	"fmt"

	"github.com/BarrensZeppelin/permcheck"
	"github.com/golangci/plugin-module-register/register"
	"golang.org/x/tools/go/analysis"
)

func init() {
	register.Plugin("permcheck", New)
}

// New returns the plugin. settings mirror the analyzer's flags: a map from
// flag name to string value.
func New(settings any) (register.LinterPlugin, error) {
	conf := map[string]string{}
	if settings != nil {
		s, ok := settings.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected permcheck settings to be a map from flag name to string, got %T", settings)
		}
		for k, v := range s {
			vStr, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected the value of permcheck setting %q to be a string, got %T", k, v)
			}
			conf[k] = vStr
		}
	}
	return &Plugin{conf: conf}, nil
}

type Plugin struct {
	conf map[string]string
}

func (p *Plugin) BuildAnalyzers() ([]*analysis.Analyzer, error) {
	for k, v := range p.conf {
		if err := permcheck.Analyzer.Flags.Set(k, v); err != nil {
			return nil, fmt.Errorf("set flag %s to %s: %w", k, v, err)
		}
	}
	return []*analysis.Analyzer{permcheck.Analyzer}, nil
}

// GetLoadMode requests type information, which buildssa needs.
func (p *Plugin) GetLoadMode() string { return register.LoadModeTypesInfo }
