package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/k2rebuild/k2rebuild/internal/config"
	"github.com/k2rebuild/k2rebuild/pkg/db"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent pipeline runs from the ledger",
	Args:  wrapArgs(cobra.NoArgs),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Int("limit", 10, "Maximum runs to show")
	historyCmd.Flags().String("run", "", "Show per-stage results for one run ID")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	runID, _ := cmd.Flags().GetString("run")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	ledger, err := db.Open(cfg.LedgerFile())
	if err != nil {
		return errors.Wrap(err, "ledger open failed")
	}
	defer ledger.Close()

	if runID != "" {
		return printRunStages(ledger, runID)
	}

	runs, err := ledger.RecentRuns(limit)
	if err != nil {
		return errors.Wrap(err, "ledger query failed")
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-36s %-9s %-8s %s\n", "RUN ID", "STATUS", "RESUMED", "STARTED")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, run := range runs {
		resumed := "no"
		if run.Resumed {
			resumed = "yes"
		}
		fmt.Printf("%-36s %-9s %-8s %s\n", run.ID, run.Status, resumed, run.StartedAt)
	}
	return nil
}

func printRunStages(ledger *db.Ledger, runID string) error {
	results, err := ledger.StagesForRun(runID)
	if err != nil {
		return errors.Wrap(err, "ledger query failed")
	}
	if len(results) == 0 {
		fmt.Printf("No stage results for run %s\n", runID)
		return nil
	}

	fmt.Printf("%-18s %-9s %-9s %-10s %s\n", "STAGE", "STATUS", "ATTEMPTS", "DURATION", "REASON")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, sr := range results {
		reason := sr.Reason
		if reason == "" {
			reason = "-"
		}
		duration := (time.Duration(sr.DurationMS) * time.Millisecond).Round(time.Millisecond)
		fmt.Printf("%-18s %-9s %-9d %-10s %s\n", sr.Stage, sr.Status, sr.Attempts, duration, reason)
	}
	return nil
}
