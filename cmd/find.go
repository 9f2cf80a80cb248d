package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/faceclari/internal/config"
	"github.com/andresmejia3/faceclari/internal/matcher"
	"github.com/andresmejia3/faceclari/internal/sink"
	"github.com/andresmejia3/faceclari/internal/utils"
	"github.com/spf13/cobra"
)

var (
	findOpts     Options
	findAnnotate bool
	findHistory  int
)

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Check a single photo against the known faces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyOverrides(Cfg, findOpts, cmd.Flags().Changed); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runFind(cmd.Context(), Cfg, args[0])
	},
}

func init() {
	addEngineFlags(findCmd, &findOpts)
	findCmd.Flags().BoolVarP(&findAnnotate, "annotate", "a", false, "Also write the annotated copy into the matched directory")
	findCmd.Flags().IntVar(&findHistory, "history", 5, "Show this many similar past matches from the ledger (0 disables)")
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, cfg *config.Config, imagePath string) error {
	if fi, err := os.Stat(imagePath); err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	} else if fi.IsDir() {
		err := fmt.Errorf("%s is a directory", imagePath)
		utils.ShowError("Input must be an image file", err, nil)
		return err
	}

	eng, err := startEngine(ctx, cfg)
	if err != nil {
		utils.ShowError("Startup failed", err, nil)
		return err
	}
	defer eng.Close()

	if !eng.extractor.IsImage(imagePath) {
		fmt.Printf("❌ %s is not a supported image type %v.\n", imagePath, cfg.Scan.Extensions)
		return nil
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	feature := eng.extractor.Extract(ctx, imagePath)
	if !feature.HasFace() {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	fmt.Printf("👤 %d face(s) detected.\n", len(feature.Embeddings))

	identity, match := matcher.New(cfg.Recognition.Tolerance).MatchAny(feature, eng.gallery)
	if !match.Matched {
		fmt.Println("❌ No known identity matched.")
		return nil
	}
	box := feature.Locations[match.FaceIndex]
	fmt.Printf("✅ Matched %s (face #%d at top=%d left=%d bottom=%d right=%d)\n",
		identity.Name, match.FaceIndex+1, box.Top, box.Left, box.Bottom, box.Right)

	if findAnnotate {
		annotator := sink.New(sink.Options{
			MatchedDir:    cfg.Dirs.Matched,
			DrawRectangle: cfg.Recognition.DrawRectangle,
			Thickness:     cfg.Recognition.RectThickness,
		}, Log)
		out, err := annotator.Commit(feature, identity, match.FaceIndex)
		if err != nil {
			utils.ShowError("Failed to write annotated copy", err, nil)
			return err
		}
		fmt.Printf("💾 Saved %s\n", out)
	}

	if findHistory > 0 {
		showHistory(ctx, feature.Embeddings[match.FaceIndex], findHistory)
	}
	return nil
}

// showHistory lists past ledger entries closest to the matched face, when a ledger is configured.
func showHistory(ctx context.Context, e []float64, limit int) {
	if err := openDB(ctx, false); err != nil {
		Log.Sugar().Warnf("match history unavailable: %v", err)
		return
	}
	if DB == nil {
		return
	}
	similar, err := DB.Nearest(ctx, e, limit)
	if err != nil {
		Log.Sugar().Warnf("match history query failed: %v", err)
		return
	}
	if len(similar) == 0 {
		return
	}
	fmt.Println("\n📜 Similar past matches:")
	for _, m := range similar {
		fmt.Printf("   %-20s %.3f  %s\n", m.Identity, m.Distance, m.SourcePath)
	}
}
