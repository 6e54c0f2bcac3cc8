package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/config"
)

// targetFlags are the -n/-p flags shared by commands acting on one
// environment.
type targetFlags struct {
	name   string
	prefix string
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.name, "name", "n", "", "name of the environment")
	cmd.Flags().StringVarP(&t.prefix, "prefix", "p", "", "path to the environment prefix")
}

// resolve returns the target prefix. With neither flag set, the active
// environment is used when fallbackActive is true.
func (t *targetFlags) resolve(cfg config.Context, fallbackActive bool) (string, error) {
	if t.name != "" && t.prefix != "" {
		return "", fmt.Errorf("cannot set both --name and --prefix")
	}
	switch {
	case t.prefix != "":
		abs, err := filepath.Abs(t.prefix)
		if err != nil {
			return "", fmt.Errorf("invalid prefix %q: %w", t.prefix, err)
		}
		return abs, nil
	case t.name != "":
		return resolveName(cfg, t.name)
	case fallbackActive:
		return os.Getenv("CONDA_PREFIX"), nil
	default:
		return "", nil
	}
}

// resolveName maps an environment name to its prefix. "base" is the root
// prefix; names containing a path separator are treated as paths.
func resolveName(cfg config.Context, name string) (string, error) {
	if name == "base" {
		return cfg.RootPrefix, nil
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("invalid environment name %q, use --prefix for paths", name)
	}
	return cfg.EnvPrefix(name), nil
}

// commandLine is the invocation recorded in the environment history.
func commandLine(argv []string) string {
	return strings.Join(append([]string{"mamba"}, argv...), " ")
}
