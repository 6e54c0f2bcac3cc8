package pkgmgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/SandrineP/mamba/internal/errs"
)

// runFunc executes name with args in dir and returns the combined output.
type runFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Installer runs foreign package managers inside a prefix.
type Installer struct {
	Prefix string
	Logger *log.Logger
	run    runFunc
}

// NewInstaller returns an Installer for the environment at prefix.
func NewInstaller(prefix string, logger *log.Logger) *Installer {
	if logger == nil {
		logger = log.Default()
	}
	return &Installer{Prefix: prefix, Logger: logger, run: execRun}
}

// PythonExe returns the interpreter of the environment at prefix.
func PythonExe(prefix string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(prefix, "python.exe")
	}
	return filepath.Join(prefix, "bin", "python")
}

// Command returns the program and arguments that install a requirements
// file with manager.
func (i *Installer) Command(manager, requirements string) (string, []string, error) {
	switch manager {
	case Pip:
		return PythonExe(i.Prefix), []string{"-m", "pip", "install", "-r", requirements, "--no-input"}, nil
	default:
		return "", nil, errs.New(errs.CodePrecondition, "no installer for package manager %q", manager)
	}
}

// Install writes spec's dependencies to a temporary requirements file and
// installs them from spec.Cwd.
func (i *Installer) Install(ctx context.Context, spec Spec) error {
	if len(spec.Deps) == 0 {
		return nil
	}

	tmp, err := os.CreateTemp("", "mamba-"+spec.Manager+"-*.txt")
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create requirements file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(spec.Deps, "\n") + "\n"); err != nil {
		tmp.Close()
		return errs.Wrap(errs.CodeIO, err, "failed to write requirements file")
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to write requirements file")
	}

	name, args, err := i.Command(spec.Manager, tmp.Name())
	if err != nil {
		return err
	}

	i.Logger.Info("installing with "+spec.Manager, "packages", len(spec.Deps), "cwd", spec.Cwd)
	output, err := i.run(ctx, spec.Cwd, name, args...)
	if err != nil {
		return fmt.Errorf("%s install failed: %w (output: %s)", spec.Manager, err, string(output))
	}
	i.Logger.Debug(spec.Manager+" output", "output", string(output))
	return nil
}
