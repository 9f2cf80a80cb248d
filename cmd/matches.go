package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/faceclari/internal/store"
	"github.com/andresmejia3/faceclari/internal/utils"
	"github.com/spf13/cobra"
)

var matchesFilter store.Filter

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List matches recorded in the database ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := openDB(cmd.Context(), true); err != nil {
			utils.ShowError("Match ledger unavailable", err, nil)
			return err
		}

		matches, err := DB.ListMatches(cmd.Context(), matchesFilter)
		if err != nil {
			utils.ShowError("Failed to list matches", err, nil)
			return err
		}
		printMatches(os.Stdout, matches)
		return nil
	},
}

func init() {
	matchesCmd.Flags().StringVarP(&matchesFilter.Identity, "identity", "i", "", "Only show matches of this identity")
	matchesCmd.Flags().StringVarP(&matchesFilter.RunID, "run", "r", "", "Only show matches from this run ID")
	matchesCmd.Flags().IntVarP(&matchesFilter.Limit, "limit", "n", 50, "Maximum rows to show (0 for all)")
	rootCmd.AddCommand(matchesCmd)
}

func printMatches(out io.Writer, matches []store.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(out, "No matches recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tIDENTITY\tRUN\tMATCHED\tSOURCE\tOUTPUT")
	fmt.Fprintln(w, "--\t--------\t---\t-------\t------\t------")
	for _, m := range matches {
		run := m.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Identity, run, m.MatchedAt.Local().Format("2006-01-02 15:04"), m.SourcePath, m.OutputPath)
	}
	w.Flush()
}
