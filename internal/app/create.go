package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/envfile"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/install"
)

var (
	createOpts installFlags

	createCmd = &cobra.Command{
		Use:   "create [specs...]",
		Short: "Create a new environment",
		Long: `Create makes a new environment and installs the given specs into it. If the
transaction is declined or fails, the new prefix is removed again.

The environment name may come from --name, --prefix or the "name" key of an
environment.yml passed with --file.

Examples:
  mamba create -n demo python=3.12
  mamba create -p ./env -c conda-forge numpy
  mamba create -f environment.yml
  mamba create -n locked -f conda-lock.yml --category main --category dev`,
		RunE: runCreate,
	}
)

func init() {
	createOpts.register(createCmd)
	RootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := loggerFromContext(cmd.Context())

	fileSpecs, err := envfile.ReadSpecFiles(createOpts.files, cfg.Platform)
	if err != nil {
		return err
	}

	target, err := createOpts.target.resolve(cfg, false)
	if err != nil {
		return err
	}
	name := createOpts.target.name
	switch {
	case target == "" && fileSpecs.Name != "":
		name = fileSpecs.Name
		if target, err = resolveName(cfg, name); err != nil {
			return err
		}
	case name != "" && fileSpecs.Name != "" && name != fileSpecs.Name:
		logger.Warn("using the environment name from the command line", "name", name, "file", fileSpecs.Name)
	}
	if target == "" {
		return errs.New(errs.CodePrecondition, "No target prefix, use --name or --prefix")
	}
	if _, err := os.Stat(target); err == nil {
		return errs.New(errs.CodePrecondition, "Prefix already exists at: %s", target)
	}

	cfg = createOpts.apply(cfg, fileSpecs.Channels).WithTargetPrefix(target)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mgr := install.NewManager(cfg, st, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
	opts := install.Options{
		CreateEnv:             true,
		RemovePrefixOnFailure: true,
		EnvName:               name,
		Command:               commandLine(os.Args[1:]),
		Others:                fileSpecs.Others,
	}

	if fileSpecs.Lockfile == "" && len(fileSpecs.Specs) == 0 && len(args) == 0 {
		if cfg.DryRun {
			return nil
		}
		return mgr.CreateEmpty(name)
	}
	return dispatch(cmd, mgr, fileSpecs, args, opts)
}
