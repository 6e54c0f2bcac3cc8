// Package shell detects the user's shell, prints activation hints and
// writes the shell hook into the shell's startup file.
package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// The hook block written by Init is bracketed by these lines.
const (
	markerBegin = "# >>> mamba initialize >>>"
	markerEnd   = "# <<< mamba initialize <<<"
)

// Detect returns the name of the user's shell from $SHELL, defaulting to
// "posix".
func Detect() string {
	switch name := filepath.Base(os.Getenv("SHELL")); name {
	case "zsh", "bash", "fish":
		return name
	default:
		return "posix"
	}
}

// ActivationMessage is printed after an environment has been created.
// name is used in the activate command when set, the prefix otherwise.
func ActivationMessage(exe, prefix, name string) string {
	target := prefix
	if name != "" {
		target = name
	}
	exe = filepath.Base(exe)

	var sb strings.Builder
	fmt.Fprintf(&sb, "\nTo activate this environment, use:\n\n")
	fmt.Fprintf(&sb, "    %s activate %s\n\n", exe, target)
	fmt.Fprintf(&sb, "Or to execute a single command in this environment, use:\n\n")
	fmt.Fprintf(&sb, "    %s run -p %s mycommand\n\n", exe, prefix)
	return sb.String()
}

// ConfigFile returns the startup file Init writes to for shellName.
func ConfigFile(shellName string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}

	switch shellName {
	case "zsh":
		return filepath.Join(home, ".zshrc"), nil
	case "bash":
		return filepath.Join(home, ".bashrc"), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "conf.d", "mamba.fish"), nil
	default:
		return filepath.Join(home, ".profile"), nil
	}
}

// Hook returns the hook block for shellName. It defines a mamba function
// that activates environments in the running shell and forwards every
// other command to exe.
func Hook(shellName, exe, rootPrefix string) string {
	var body string
	if shellName == "fish" {
		body = fmt.Sprintf(`set -gx MAMBA_EXE %q
set -gx MAMBA_ROOT_PREFIX %q
function mamba
    if test "$argv[1]" = activate
        set -l p ($MAMBA_EXE shell prefix $argv[2]); or return 1
        set -gx CONDA_PREFIX $p
        set -gx PATH $p/bin $PATH
    else
        $MAMBA_EXE $argv
    end
end
`, exe, rootPrefix)
	} else {
		body = fmt.Sprintf(`export MAMBA_EXE=%q
export MAMBA_ROOT_PREFIX=%q
mamba() {
    if [ "$1" = "activate" ]; then
        __mamba_prefix="$("$MAMBA_EXE" shell prefix "$2")" || return 1
        export CONDA_PREFIX="$__mamba_prefix"
        export PATH="$__mamba_prefix/bin:$PATH"
        unset __mamba_prefix
    else
        "$MAMBA_EXE" "$@"
    fi
}
`, exe, rootPrefix)
	}
	return "\n" + markerBegin + "\n" + body + markerEnd + "\n"
}

// Init appends the hook block for shellName to its startup file unless the
// file already has one. added is false when nothing was written.
func Init(shellName, exe, rootPrefix string) (added bool, configFile string, err error) {
	configFile, err = ConfigFile(shellName)
	if err != nil {
		return false, "", err
	}

	// Needed for the fish conf.d path.
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return false, "", fmt.Errorf("cannot create config directory %s: %w", filepath.Dir(configFile), err)
	}

	existing, readErr := os.ReadFile(configFile)
	if readErr == nil && strings.Contains(string(existing), markerBegin) {
		return false, configFile, nil
	}

	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return false, "", fmt.Errorf("cannot open config file %s: %w", configFile, err)
	}
	defer f.Close()

	if _, err := fmt.Fprint(f, Hook(shellName, exe, rootPrefix)); err != nil {
		return false, "", fmt.Errorf("cannot write to config file %s: %w", configFile, err)
	}

	return true, configFile, nil
}
