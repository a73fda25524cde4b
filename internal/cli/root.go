package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/popcore/populate/internal/control"
	"github.com/popcore/populate/internal/core/config"
)

var (
	cfgPath  string
	isDebug  bool
	taskName string
	dryRun   bool
	doReset  bool
)

// Exit codes: 0 clean, 3 completed with per-unit errors, 1 could not run.
const exitUnitErrors = 3

var rootCmd = &cobra.Command{
	Use:   "populate",
	Short: "Populate table stores from a rate-limited external data source",
	Long: `Populate pulls data from a rate-limited, occasionally-failing external
API and lands it durably in a table store, surviving restarts. Completed work
units are checkpointed so an interrupted run resumes where it left off.`,
	Run: runPopulate,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&taskName, "task", "", "run only the named task")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the pipeline without committing progress")
	rootCmd.Flags().BoolVar(&doReset, "reset", false, "clear progress before running")
}

func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	return cfg
}

func runPopulate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewRunner(control.Config{
		Port:       cfg.Server.Port,
		StateDir:   cfg.StateDir,
		Durability: cfg.Durable,
		Source:     cfg.Source,
		Breaker:    cfg.Breaker,
		RateLimit:  cfg.RateLimit,
		Retry:      cfg.Retry,
		Redis:      cfg.Redis,
		Database:   cfg.Database,
		Tasks:      cfg.Tasks,
	})
	if err != nil {
		slog.Error("Failed to initialize runner", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop unit processing on SIGINT/SIGTERM without losing checkpoints
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, stopping after current unit...", "signal", sig)
		cancel()
	}()

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start runner", "error", err)
		os.Exit(1)
	}

	summaries, runErr := app.Run(ctx, control.RunOptions{
		Task:   taskName,
		DryRun: dryRun,
		Reset:  doReset,
	})

	unitErrors := 0
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, s := range summaries {
		unitErrors += s.ErrorCount
		_ = enc.Encode(s)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if runErr != nil {
		slog.Error("Run failed", "error", runErr)
		os.Exit(1)
	}
	if unitErrors > 0 {
		slog.Warn("Run completed with unit errors", "errors", unitErrors)
		os.Exit(exitUnitErrors)
	}
}
