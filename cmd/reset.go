package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/faceclari/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (match ledger, matched directory)",
	Long:  "Clears all output. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if err := openDB(cmd.Context(), false); err != nil {
				utils.ShowError("Failed to connect to database", err, nil)
				return err
			}
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping ledger.")
			} else if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the match ledger?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			prompt := fmt.Sprintf("⚠️  Are you sure you want to delete everything under %s?", Cfg.Dirs.Matched)
			if resetYes || confirm(reader, os.Stdout, prompt) {
				fmt.Println("🗑️  Clearing Matched Photos...")
				removeDir(Cfg.Dirs.Matched)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "ledger", false, "Clear the match ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear the matched directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
