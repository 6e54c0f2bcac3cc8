package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/output"
)

var (
	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Manage known environments",
	}

	envListCmd = &cobra.Command{
		Use:   "list",
		Short: "List environments created by mamba",
		Long: `List shows every environment registered by create. The active environment
($CONDA_PREFIX) is marked with a "*".`,
		Args: cobra.NoArgs,
		RunE: runEnvList,
	}
)

func init() {
	envCmd.AddCommand(envListCmd)
	RootCmd.AddCommand(envCmd)
}

func runEnvList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	envs, err := st.ListEnvs()
	if err != nil {
		return fmt.Errorf("failed to list environments: %w", err)
	}

	if cfg.JSON {
		prefixes := make([]string, len(envs))
		for i, env := range envs {
			prefixes[i] = env.Prefix
		}
		return output.WriteJSON(cmd.OutOrStdout(), map[string][]string{"envs": prefixes})
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderEnvTable(envs, os.Getenv("CONDA_PREFIX")))
	return nil
}
