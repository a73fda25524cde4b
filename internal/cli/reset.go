package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/popcore/populate/internal/core/progress"
)

var resetCmd = &cobra.Command{
	Use:   "reset [task]",
	Short: "Clear recorded progress for a task so the next run starts fresh",
	Args:  cobra.ExactArgs(1),
	Run:   runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) {
	task := args[0]
	cfg := loadConfig()

	found := false
	for _, t := range cfg.Tasks {
		if t.Name == task {
			found = true
			break
		}
	}
	if !found {
		slog.Error("Unknown task", "task", task)
		os.Exit(1)
	}

	store, err := progress.Load(cfg.StateDir, task, progress.Options{Durability: cfg.Durable})
	if err != nil {
		slog.Error("Failed to open progress store", "error", err)
		os.Exit(1)
	}

	if err := store.Reset(); err != nil {
		slog.Error("Failed to reset progress", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Progress for task %s cleared (%s)\n", task, store.Path())
}
