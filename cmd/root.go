package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/faceclari/internal/config"
	"github.com/andresmejia3/faceclari/internal/logging"
	"github.com/andresmejia3/faceclari/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options holds the flag overrides shared by scan, gallery and find.
type Options struct {
	KnownDir   string
	MatchedDir string
	ScanDir    string
	Tolerance  float64
	DrawRect   bool
	NumEngines int
	Model      string
	NoProgress bool
}

var (
	// Cfg is the loaded configuration (file + environment), before per-command flags
	Cfg *config.Config
	// Log is the process-wide logger
	Log *zap.Logger
	// DB is the match ledger; nil unless a database URL is configured and the command needs it
	DB *store.Store

	cfgPath string
	verbose bool
	dbURL   string
)

// ErrNoDatabase is returned by commands that need the ledger when no URL is configured.
var ErrNoDatabase = errors.New("no database configured (use --db or DATABASE_URL)")

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "faceclari",
	Short:   "Sort photos by the known faces they contain",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		Cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}

		Log, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

// openDB connects the ledger. When required is false a missing URL is not an error and DB stays nil.
func openDB(ctx context.Context, required bool) error {
	if Cfg.Database.URL == "" {
		if required {
			return ErrNoDatabase
		}
		return nil
	}
	var err error
	DB, err = store.New(ctx, Cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the match ledger (default: $DATABASE_URL)")
}
