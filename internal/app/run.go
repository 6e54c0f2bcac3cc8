package app

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/prefix"
)

var (
	runTarget targetFlags

	runCmd = &cobra.Command{
		Use:   "run [flags] -- COMMAND [args...]",
		Short: "Run a command inside an environment",
		Long: `Run executes COMMAND with the environment's bin directory first on PATH and
CONDA_PREFIX set, without activating the environment in the current shell.

Examples:
  mamba run -n demo python --version
  mamba run -p ./env -- pytest -x`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}
)

func init() {
	runTarget.register(runCmd)
	runCmd.Flags().SetInterspersed(false)
	RootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := runTarget.resolve(cfg, true)
	if err != nil {
		return err
	}
	if target == "" {
		return errs.New(errs.CodePrecondition, "No active target prefix")
	}
	if !prefix.Exists(target) {
		return errs.New(errs.CodePrecondition, "Prefix does not exist at: %s", target)
	}

	c := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
	c.Env = environFor(os.Environ(), target)
	c.Stdin = cmd.InOrStdin()
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	if p, err := exec.LookPath(filepath.Join(binDir(target), args[0])); err == nil {
		c.Path = p
	}
	return c.Run()
}

func binDir(target string) string {
	return filepath.Join(target, "bin")
}

// environFor returns env with target's bin directory prepended to PATH and
// CONDA_PREFIX set to target.
func environFor(env []string, target string) []string {
	out := make([]string, 0, len(env)+2)
	path := binDir(target)
	for _, kv := range env {
		if rest, ok := strings.CutPrefix(kv, "PATH="); ok {
			path += string(os.PathListSeparator) + rest
			continue
		}
		if !strings.HasPrefix(kv, "CONDA_PREFIX=") {
			out = append(out, kv)
		}
	}
	return append(out, "PATH="+path, "CONDA_PREFIX="+target)
}
