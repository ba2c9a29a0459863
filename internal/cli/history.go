package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gdeltsync/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync runs from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Journal.Enabled {
			return fmt.Errorf("journal is disabled (journal.enabled=false)")
		}

		jnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jnl.Close()

		runs, err := jnl.RecentRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		for _, r := range runs {
			finished := "running"
			if r.FinishedAt.Valid {
				finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  started=%s finished=%s links=%d processed=%d transfers=%d\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), finished,
				r.LinksFound, r.LinksProcessed, r.Transfers)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
