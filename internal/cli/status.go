package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/popcore/populate/internal/core/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-task progress from the state directory",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tCOMPLETED\tLAST ITEM\tLAST RUN\tERRORS")

	for _, task := range cfg.Tasks {
		store, err := progress.Load(cfg.StateDir, task.Name, progress.Options{})
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", task.Name, err)
			continue
		}

		rec := store.Record()
		s := rec.Summarize()
		lastRun := "-"
		if s.LastRun != nil {
			lastRun = s.LastRun.Format("2006-01-02 15:04:05")
		}
		lastItem := s.LastItem
		if lastItem == "" {
			lastItem = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\t%d\n",
			task.Name, s.Completed, len(task.Units), lastItem, lastRun, s.ErrorCount)
	}
	_ = w.Flush()
}
