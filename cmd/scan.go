package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/faceclari/internal/batch"
	"github.com/andresmejia3/faceclari/internal/config"
	"github.com/andresmejia3/faceclari/internal/extract"
	"github.com/andresmejia3/faceclari/internal/gallery"
	"github.com/andresmejia3/faceclari/internal/matcher"
	"github.com/andresmejia3/faceclari/internal/notify"
	"github.com/andresmejia3/faceclari/internal/sink"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/andresmejia3/faceclari/internal/utils"
	"github.com/andresmejia3/faceclari/internal/vision"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Copy every scanned photo containing a known face into the matched directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyOverrides(Cfg, scanOpts, cmd.Flags().Changed); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runScan(cmd.Context(), Cfg)
	},
}

func init() {
	addEngineFlags(scanCmd, &scanOpts)
	scanCmd.Flags().StringVarP(&scanOpts.MatchedDir, "matched", "m", "", "Directory matched photos are written to")
	scanCmd.Flags().StringVarP(&scanOpts.ScanDir, "scan", "s", "", "Directory tree of photos to sort")
	scanCmd.Flags().BoolVar(&scanOpts.DrawRect, "draw-rect", true, "Draw a rectangle around the matched face")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel workers")
	scanCmd.Flags().BoolVar(&scanOpts.NoProgress, "no-progress", false, "Disable the progress bar")
	rootCmd.AddCommand(scanCmd)
}

// addEngineFlags registers the flags every command that builds a gallery shares.
func addEngineFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.KnownDir, "known", "k", "", "Directory of known faces, one subdirectory per person")
	cmd.Flags().Float64VarP(&opts.Tolerance, "tolerance", "t", matcher.DefaultTolerance, "Maximum face distance for a match (lower is stricter)")
	cmd.Flags().StringVar(&opts.Model, "model", "hog", "Face detection model: 'hog' (CPU) or 'cnn' (GPU)")
}

// applyOverrides copies explicitly set flags onto cfg and validates the result.
func applyOverrides(cfg *config.Config, opts Options, changed func(string) bool) error {
	if changed("known") {
		cfg.Dirs.Known = opts.KnownDir
	}
	if changed("matched") {
		cfg.Dirs.Matched = opts.MatchedDir
	}
	if changed("scan") {
		cfg.Dirs.Scan = opts.ScanDir
	}
	if changed("tolerance") {
		cfg.Recognition.Tolerance = opts.Tolerance
	}
	if changed("draw-rect") {
		cfg.Recognition.DrawRectangle = opts.DrawRect
	}
	if changed("model") {
		cfg.Recognition.Model = opts.Model
	}
	if changed("engines") {
		cfg.Scan.Workers = opts.NumEngines
	}
	if changed("no-progress") {
		cfg.Scan.Progress = !opts.NoProgress
	}
	return cfg.Validate()
}

// engine is the part of the pipeline every command shares.
type engine struct {
	provider  vision.Provider
	extractor *extract.Extractor
	gallery   types.Gallery
}

func (e *engine) Close() {
	if e.provider != nil {
		e.provider.Close()
	}
}

// startEngine starts the vision provider and builds the gallery from the known directory.
func startEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	fmt.Fprintf(os.Stderr, "🚀 Starting %s vision provider (%s model)...\n", cfg.Vision.Provider, cfg.Recognition.Model)
	provider, err := newProvider(cfg, Log)
	if err != nil {
		return nil, fmt.Errorf("failed to start vision provider: %w", err)
	}
	e := &engine{provider: provider, extractor: extract.New(provider, cfg.Scan.Extensions, Log)}

	fmt.Fprintf(os.Stderr, "📚 Loading known faces from %s...\n", cfg.Dirs.Known)
	e.gallery, err = gallery.New(e.extractor, Log).Build(ctx, cfg.Dirs.Known)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// runScan wires gallery, matcher, annotator and recorders into one batch run.
func runScan(ctx context.Context, cfg *config.Config) error {
	// Output directories exist before any file is processed.
	if err := os.MkdirAll(cfg.Dirs.Matched, 0755); err != nil {
		utils.ShowError("Failed to create matched directory", err, nil)
		return err
	}

	eng, err := startEngine(ctx, cfg)
	if err != nil {
		utils.ShowError("Startup failed", err, nil)
		return err
	}
	defer eng.Close()

	runID := uuid.New().String()
	recorders, closeRecorders := openRecorders(ctx, cfg)
	defer closeRecorders()

	annotator := sink.New(sink.Options{
		MatchedDir:    cfg.Dirs.Matched,
		DrawRectangle: cfg.Recognition.DrawRectangle,
		Thickness:     cfg.Recognition.RectThickness,
		RunID:         runID,
	}, Log, recorders...)

	driver := batch.New(eng.extractor, matcher.New(cfg.Recognition.Tolerance), annotator, batch.Options{
		Workers:  cfg.Scan.Workers,
		Progress: cfg.Scan.Progress,
		SkipDirs: []string{cfg.Dirs.Matched},
	}, Log)

	fmt.Fprintf(os.Stderr, "📼 Run ID: %s\n", runID[:8])
	fmt.Fprintf(os.Stderr, "⚙️  Scanning %s with %d worker(s) against %d identities...\n", cfg.Dirs.Scan, cfg.Scan.Workers, len(eng.gallery))

	summary, err := driver.Run(ctx, cfg.Dirs.Scan, eng.gallery)
	printSummary(summary)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "🛑 Scan interrupted; files in progress were completed.")
		return nil
	}
	if err != nil {
		utils.ShowError("Scan failed", err, nil)
		return err
	}
	return nil
}

// openRecorders connects the optional match ledger and MQTT publisher.
// Either failing to connect is logged and the scan continues without it.
func openRecorders(ctx context.Context, cfg *config.Config) ([]sink.Recorder, func()) {
	var recorders []sink.Recorder
	var closers []func()

	if err := openDB(ctx, false); err != nil {
		Log.Sugar().Warnf("match ledger disabled: %v", err)
	} else if DB != nil {
		recorders = append(recorders, DB)
	}

	if cfg.MQTT.Broker != "" {
		pub, err := notify.Connect(cfg.MQTT.Broker, cfg.MQTT.Topic)
		if err != nil {
			Log.Sugar().Warnf("match notifications disabled: %v", err)
		} else {
			recorders = append(recorders, pub)
			closers = append(closers, pub.Close)
		}
	}

	return recorders, func() {
		for _, c := range closers {
			c()
		}
	}
}

func printSummary(s batch.Summary) {
	fmt.Fprintf(os.Stderr, "\n🏁 Scan Complete. Processed %d images, %d matched", s.Processed, s.Matched)
	if s.Failed > 0 {
		fmt.Fprintf(os.Stderr, ", %d failed to write", s.Failed)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %d non-image files skipped", s.Skipped)
	}
	fmt.Fprintf(os.Stderr, ".\n⏱️  Elapsed: %s\n", utils.FormatElapsed(s.Elapsed))
}
