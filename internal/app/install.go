package app

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/envfile"
	"github.com/SandrineP/mamba/internal/install"
)

// installFlags are shared by install and create.
type installFlags struct {
	target          targetFlags
	files           []string
	channels        []string
	categories      []string
	freezeInstalled bool
	noPin           bool
	noPyPin         bool
	retryCleanCache bool
}

func (f *installFlags) register(cmd *cobra.Command) {
	f.target.register(cmd)
	cmd.Flags().StringArrayVarP(&f.files, "file", "f", nil, "read specs from a file (environment.yml, conda-lock.yml, explicit or text spec list); repeatable")
	cmd.Flags().StringArrayVarP(&f.channels, "channel", "c", nil, "additional channel to search; repeatable")
	cmd.Flags().StringArrayVar(&f.categories, "category", nil, "lockfile categories to install (default: main)")
	cmd.Flags().BoolVar(&f.freezeInstalled, "freeze-installed", false, "do not update or remove installed packages")
	cmd.Flags().BoolVar(&f.noPin, "no-pin", false, "ignore pinned packages")
	cmd.Flags().BoolVar(&f.noPyPin, "no-py-pin", false, "do not pin the installed python version")
	cmd.Flags().BoolVar(&f.retryCleanCache, "retry-clean-cache", false, "retry an unsatisfiable solve with refreshed channel indexes")
}

// apply overlays the flags on cfg.
func (f *installFlags) apply(cfg config.Context, fileChannels []string) config.Context {
	cfg = cfg.WithChannels(append(slices.Clone(f.channels), fileChannels...))
	cfg.FreezeInstalled = cfg.FreezeInstalled || f.freezeInstalled
	cfg.NoPin = f.noPin
	cfg.NoPyPin = f.noPyPin
	cfg.RetryCleanCache = cfg.RetryCleanCache || f.retryCleanCache
	if len(f.categories) > 0 {
		cfg.Categories = f.categories
	}
	return cfg
}

var (
	installOpts installFlags
	revision    int

	installCmd = &cobra.Command{
		Use:   "install [specs...]",
		Short: "Install packages into an existing environment",
		Long: `Install solves the given match specs together with the packages already in
the target environment, shows the resulting transaction and applies it.

The target is selected with --name or --prefix and defaults to the active
environment ($CONDA_PREFIX).

Examples:
  mamba install -n demo "numpy>=1.26" pandas
  mamba install -n demo -f requirements.txt
  mamba install -n demo --freeze-installed scipy
  mamba install -n demo --revision 3`,
		RunE: runInstall,
	}
)

func init() {
	installOpts.register(installCmd)
	installCmd.Flags().IntVar(&revision, "revision", -1, "restore the environment to a history revision")
	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := installOpts.target.resolve(cfg, true)
	if err != nil {
		return err
	}

	fileSpecs, err := envfile.ReadSpecFiles(installOpts.files, cfg.Platform)
	if err != nil {
		return err
	}
	cfg = installOpts.apply(cfg, fileSpecs.Channels).WithTargetPrefix(target)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mgr := install.NewManager(cfg, st, cmd.InOrStdin(), cmd.OutOrStdout(), loggerFromContext(cmd.Context()))
	opts := install.Options{
		Command: commandLine(os.Args[1:]),
		Others:  fileSpecs.Others,
	}
	if cmd.Flags().Changed("revision") {
		_, err = mgr.InstallRevision(cmd.Context(), revision, opts)
		return err
	}
	return dispatch(cmd, mgr, fileSpecs, args, opts)
}

// dispatch routes a request to the install path matching its source.
func dispatch(cmd *cobra.Command, mgr *install.Manager, fileSpecs *envfile.FileSpecs, args []string, opts install.Options) error {
	ctx := cmd.Context()
	var err error
	switch {
	case fileSpecs.Lockfile != "":
		_, err = mgr.InstallLockfile(ctx, fileSpecs.Lockfile, mgr.Config.Categories, opts)
	case fileSpecs.Explicit:
		if p := fileSpecs.ExplicitPlatform; p != "" && p != mgr.Config.Platform {
			mgr.Logger.Warn("explicit spec file targets another platform", "file", p, "current", mgr.Config.Platform)
		}
		_, err = mgr.InstallExplicit(ctx, fileSpecs.Specs, opts)
	default:
		rawSpecs := append(slices.Clone(fileSpecs.Specs), args...)
		if len(rawSpecs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do.")
			return nil
		}
		_, err = mgr.Install(ctx, rawSpecs, opts)
	}
	return err
}
