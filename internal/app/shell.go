package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/shell"
)

var (
	shellName string

	shellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Set up shell integration",
		Long: `Shell integration defines a "mamba" shell function so that
"mamba activate NAME" can change the environment of the running shell.

Run "mamba shell init" once, then restart the shell.`,
	}

	shellInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the shell hook into the shell's startup file",
		Args:  cobra.NoArgs,
		RunE:  runShellInit,
	}

	shellHookCmd = &cobra.Command{
		Use:   "hook",
		Short: "Print the shell hook",
		Args:  cobra.NoArgs,
		RunE:  runShellHook,
	}

	shellPrefixCmd = &cobra.Command{
		Use:    "prefix NAME|PATH",
		Short:  "Print the prefix of an environment",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE:   runShellPrefix,
	}
)

func init() {
	shellCmd.PersistentFlags().StringVarP(&shellName, "shell", "s", "", "shell type: bash, zsh, fish or posix (default: detected from $SHELL)")
	shellCmd.AddCommand(shellInitCmd, shellHookCmd, shellPrefixCmd)
	RootCmd.AddCommand(shellCmd)
}

func selectedShell() string {
	if shellName != "" {
		return shellName
	}
	return shell.Detect()
}

// executable returns the absolute path of the running binary, falling back
// to "mamba" on PATH.
func executable() string {
	exe, err := os.Executable()
	if err != nil {
		return "mamba"
	}
	return exe
}

func runShellInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	added, file, err := shell.Init(selectedShell(), executable(), cfg.RootPrefix)
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(cmd.OutOrStdout(), "Shell hook already present in %s\n", file)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added shell hook to %s\nRestart your shell to use \"mamba activate\".\n", file)
	return nil
}

func runShellHook(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), shell.Hook(selectedShell(), executable(), cfg.RootPrefix))
	return nil
}

// runShellPrefix backs "mamba activate" in the shell hook.
func runShellPrefix(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target := args[0]
	if strings.ContainsRune(target, filepath.Separator) || target == "." {
		if target, err = filepath.Abs(target); err != nil {
			return err
		}
	} else if target, err = resolveName(cfg, target); err != nil {
		return err
	}

	if !prefix.IsEnv(target) {
		return errs.New(errs.CodePrecondition, "Cannot activate, environment does not exist: %s", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), target)
	return nil
}
