package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/history"
	"github.com/SandrineP/mamba/internal/output"
	"github.com/SandrineP/mamba/internal/prefix"
)

var (
	historyTarget  targetFlags
	historyJournal bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the revisions of an environment",
		Long: `History lists the revisions recorded in the environment's conda-meta/history
file. Pass a revision number to "mamba install --revision" to restore it.

With --journal, the transaction journal kept in the mamba database is shown
instead, including runs that failed.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
)

func init() {
	historyTarget.register(historyCmd)
	historyCmd.Flags().BoolVar(&historyJournal, "journal", false, "show the transaction journal")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := historyTarget.resolve(cfg, true)
	if err != nil {
		return err
	}
	if target == "" {
		return errs.New(errs.CodePrecondition, "No active target prefix")
	}
	if !prefix.Exists(target) {
		return errs.New(errs.CodePrecondition, "Prefix does not exist at: %s", target)
	}
	out := cmd.OutOrStdout()

	if historyJournal {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListTransactions(target)
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
		if cfg.JSON {
			return output.WriteJSON(out, recs)
		}
		fmt.Fprint(out, output.RenderTransactionTable(recs))
		return nil
	}

	requests, err := history.Open(target).UserRequests()
	if err != nil {
		return err
	}
	if cfg.JSON {
		return output.WriteJSON(out, requests)
	}
	fmt.Fprint(out, output.RenderRevisions(requests))
	return nil
}
