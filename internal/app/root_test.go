package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SandrineP/mamba/internal/config"
)

// resetCommandState clears flag values left over from a previous Execute.
func resetCommandState() {
	dbPath, rcFile, rootPrefix, verbose = "", "", "", false
	flagJSON, flagYes, flagDryRun, flagOffline = false, false, false, false
	installOpts, createOpts = installFlags{}, installFlags{}
	revision = -1
	historyTarget, historyJournal = targetFlags{}, false
	runTarget = targetFlags{}
	shellName = ""

	var walk func(cmd *cobra.Command)
	walk = func(cmd *cobra.Command) {
		reset := func(f *pflag.Flag) {
			// Array flags append once changed; their backing slices are
			// cleared above.
			if f.Value.Type() != "stringArray" {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		}
		cmd.Flags().VisitAll(reset)
		cmd.PersistentFlags().VisitAll(reset)
		for _, sub := range cmd.Commands() {
			walk(sub)
		}
	}
	walk(RootCmd)
}

// executeCommand runs the root command with args against an isolated
// config directory and returns everything written to stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetCommandState()

	buf := new(bytes.Buffer)
	RootCmd.SetOut(buf)
	RootCmd.SetErr(buf)
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs(args)
	defer RootCmd.SetArgs(nil)

	err := RootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "mamba" {
		t.Errorf("expected Use to be 'mamba', got '%s'", RootCmd.Use)
	}

	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}

	if !RootCmd.SilenceUsage {
		t.Error("expected SilenceUsage to be true")
	}
	if !RootCmd.SilenceErrors {
		t.Error("expected SilenceErrors to be true")
	}
	if RootCmd.SuggestionsMinimumDistance != 2 {
		t.Errorf("SuggestionsMinimumDistance = %d, want 2", RootCmd.SuggestionsMinimumDistance)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	expectedCommands := []string{"install", "create", "env", "history", "shell", "run"}
	foundCommands := make(map[string]bool)

	for _, cmd := range RootCmd.Commands() {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("expected command '%s' to be registered", expected)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"db", "rc-file", "root-prefix", "verbose", "json", "yes", "dry-run", "offline"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}
}

func TestInstallFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{installCmd, createCmd} {
		for _, name := range []string{"name", "prefix", "file", "channel", "category", "freeze-installed", "no-pin", "no-py-pin", "retry-clean-cache"} {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("%s: expected --%s flag to be registered", cmd.Name(), name)
			}
		}
	}

	flag := installCmd.Flags().Lookup("revision")
	if flag == nil {
		t.Fatal("expected --revision flag on install")
	}
	if flag.DefValue != "-1" {
		t.Errorf("expected --revision default -1, got %s", flag.DefValue)
	}
	if createCmd.Flags().Lookup("revision") != nil {
		t.Error("create should not accept --revision")
	}
}

func TestGetDBPath(t *testing.T) {
	tests := []struct {
		name       string
		dbPathFlag string
	}{
		{
			name:       "default path",
			dbPathFlag: "",
		},
		{
			name:       "custom path",
			dbPathFlag: "/tmp/test.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldDBPath := dbPath
			dbPath = tt.dbPathFlag
			defer func() { dbPath = oldDBPath }()

			root := filepath.Join(t.TempDir(), "root")
			cfg, err := loadConfigWithRoot(t, root)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			path, err := getDBPath(cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.dbPathFlag != "" {
				if path != tt.dbPathFlag {
					t.Errorf("expected path to be '%s', got '%s'", tt.dbPathFlag, path)
				}
				return
			}

			expectedPath := filepath.Join(root, "mamba.db")
			if path != expectedPath {
				t.Errorf("expected default path to be '%s', got '%s'", expectedPath, path)
			}
			if _, err := os.Stat(root); err != nil {
				t.Errorf("expected root prefix to be created: %v", err)
			}
		})
	}
}

func loadConfigWithRoot(t *testing.T, root string) (config.Context, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	oldRoot := rootPrefix
	rootPrefix = root
	defer func() { rootPrefix = oldRoot }()
	return loadConfig()
}

func TestLoadConfig_Flags(t *testing.T) {
	resetCommandState()
	defer resetCommandState()
	flagJSON = true
	flagDryRun = true

	root := t.TempDir()
	cfg, err := loadConfigWithRoot(t, root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RootPrefix != root {
		t.Errorf("RootPrefix = %q, want %q", cfg.RootPrefix, root)
	}
	if len(cfg.PkgsDirs) != 1 || cfg.PkgsDirs[0] != filepath.Join(root, "pkgs") {
		t.Errorf("PkgsDirs = %v, want [%s]", cfg.PkgsDirs, filepath.Join(root, "pkgs"))
	}
	if !cfg.JSON || !cfg.DryRun {
		t.Error("expected --json and --dry-run to be applied")
	}
	if !cfg.AlwaysYes {
		t.Error("expected --json to imply --yes")
	}
}

func TestLoadConfig_RCFile(t *testing.T) {
	resetCommandState()
	defer resetCommandState()

	rc := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(rc, []byte("channels = [\"conda-forge\"]\nalways_yes = true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rcFile = rc

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "conda-forge" {
		t.Errorf("Channels = %v, want [conda-forge]", cfg.Channels)
	}
	if !cfg.AlwaysYes {
		t.Error("expected always_yes from the config file")
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := executeCommand(t, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "install") || !strings.Contains(out, "create") {
		t.Errorf("expected help to list subcommands, got:\n%s", out)
	}
}

func TestUnknownCommandSuggests(t *testing.T) {
	_, err := executeCommand(t, "instal")
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "install") {
		t.Errorf("expected suggestion for 'install', got: %v", err)
	}
}
