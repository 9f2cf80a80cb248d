package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/andresmejia3/faceclari/internal/utils"
	"github.com/spf13/cobra"
)

var galleryOpts Options

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Load the known faces and show how many usable samples each person has",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyOverrides(Cfg, galleryOpts, cmd.Flags().Changed); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}

		eng, err := startEngine(cmd.Context(), Cfg)
		if err != nil {
			utils.ShowError("Failed to load gallery", err, nil)
			return err
		}
		defer eng.Close()

		printGallery(os.Stdout, eng.gallery)
		return nil
	},
}

func init() {
	addEngineFlags(galleryCmd, &galleryOpts)
	rootCmd.AddCommand(galleryCmd)
}

func printGallery(out io.Writer, g types.Gallery) {
	if len(g) == 0 {
		fmt.Fprintln(out, "No identities found in the known faces directory.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSAMPLES\tSTATUS\tDIRECTORY")
	fmt.Fprintln(w, "----\t-------\t------\t---------")
	for _, id := range g {
		status := "ok"
		if !id.Matchable() {
			status = "no usable sample"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", id.Name, len(id.ReferenceEmbeddings), status, id.Dir)
	}
	w.Flush()
}
