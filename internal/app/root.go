package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/store"
)

var (
	dbPath     string
	rcFile     string
	rootPrefix string
	verbose    bool

	flagJSON    bool
	flagYes     bool
	flagDryRun  bool
	flagOffline bool

	// RootCmd is the root command for mamba
	RootCmd = &cobra.Command{
		Use:   "mamba",
		Short: "Fast cross-platform package manager for conda environments",
		Long: `mamba creates conda environments and installs packages into them.

Packages are resolved from the configured channels, downloaded into the
shared package cache and linked into the target prefix. Every change is
recorded as a revision in the environment history and can be rolled back.

Examples:
  # Create an environment
  mamba create -n demo python=3.12 numpy

  # Install into it
  mamba install -n demo pandas

  # Create from an environment file or a lockfile
  mamba create -n demo -f environment.yml
  mamba create -n demo -f conda-lock.yml

  # Roll back to an earlier revision
  mamba history -n demo
  mamba install -n demo --revision 2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if verbose {
				level = log.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "environment database path (default: <root prefix>/mamba.db)")
	RootCmd.PersistentFlags().StringVar(&rcFile, "rc-file", "", "config file (default: ~/.config/mamba/config.toml)")
	RootCmd.PersistentFlags().StringVarP(&rootPrefix, "root-prefix", "r", "", "root prefix holding envs/ and pkgs/")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "report results as JSON")
	RootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")
	RootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "only display what would have been done")
	RootCmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "use cached channel indexes only")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (config.Context, error) {
	path := rcFile
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return config.Context{}, fmt.Errorf("failed to locate config directory: %w", err)
		}
		path = filepath.Join(dir, "config.toml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if rootPrefix != "" {
		abs, err := filepath.Abs(rootPrefix)
		if err != nil {
			return cfg, fmt.Errorf("invalid root prefix: %w", err)
		}
		cfg.RootPrefix = abs
		cfg.PkgsDirs = []string{filepath.Join(abs, "pkgs")}
	}
	cfg.JSON = flagJSON
	cfg.AlwaysYes = cfg.AlwaysYes || flagYes || flagJSON
	cfg.DryRun = flagDryRun
	cfg.Offline = cfg.Offline || flagOffline
	return cfg, nil
}

// getDBPath returns the database path, using the flag value or default
func getDBPath(cfg config.Context) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}

	if err := os.MkdirAll(cfg.RootPrefix, 0755); err != nil {
		return "", fmt.Errorf("failed to create root prefix: %w", err)
	}
	return filepath.Join(cfg.RootPrefix, store.FileName), nil
}

// openStore opens the environment database for cfg.
func openStore(cfg config.Context) (*store.Store, error) {
	path, err := getDBPath(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}
