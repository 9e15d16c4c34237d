package permcheck

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BurntSushi/toml"
)

// ConfigFile is the name of the configuration file looked up by the CLI.
const ConfigFile = "permcheck.toml"

type Config struct {
	// InitialPermissions is given to every pointer before refinement.
	InitialPermissions perm.PermissionSet
	// Parallelism bounds the number of functions analysed concurrently.
	Parallelism int
	// DumpDir enables fact and solver output dumps when non-empty.
	DumpDir       string
	CompressDumps bool
	// Verbose logs every refinement iteration.
	Verbose bool
}

func DefaultConfig() Config {
	return Config{
		InitialPermissions: perm.All,
		Parallelism:        runtime.GOMAXPROCS(0),
	}
}

type tomlConfig struct {
	InitialPermissions string `toml:"initial_permissions"`
	Parallelism        int    `toml:"parallelism"`
	DumpDir            string `toml:"dump_dir"`
	CompressDumps      bool   `toml:"compress_dumps"`
	Verbose            bool   `toml:"verbose"`
}

// LoadConfig reads a TOML configuration file. Keys missing from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	raw := tomlConfig{
		InitialPermissions: def.InitialPermissions.String(),
		Parallelism:        def.Parallelism,
	}

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	initial, err := perm.ParsePermissionSet(raw.InitialPermissions)
	if err != nil {
		return Config{}, fmt.Errorf("%s: initial_permissions: %w", path, err)
	}
	if raw.Parallelism <= 0 {
		return Config{}, fmt.Errorf("%s: parallelism must be positive, got %d", path, raw.Parallelism)
	}

	return Config{
		InitialPermissions: initial,
		Parallelism:        raw.Parallelism,
		DumpDir:            raw.DumpDir,
		CompressDumps:      raw.CompressDumps,
		Verbose:            raw.Verbose,
	}, nil
}
