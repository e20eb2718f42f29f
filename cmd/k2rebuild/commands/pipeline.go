package commands

import (
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/k2rebuild/k2rebuild/internal/config"
	"github.com/k2rebuild/k2rebuild/pkg/autoheal"
	"github.com/k2rebuild/k2rebuild/pkg/checkpoint"
	"github.com/k2rebuild/k2rebuild/pkg/db"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/executor"
	"github.com/k2rebuild/k2rebuild/pkg/lock"
	"github.com/k2rebuild/k2rebuild/pkg/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run and inspect the firmware rebuild pipeline",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all rebuild stages, checkpointing after each one",
	Args:  wrapArgs(cobra.NoArgs),
	RunE:  runPipeline,
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint state and per-stage history",
	Args:  wrapArgs(cobra.NoArgs),
	RunE:  runPipelineStatus,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)

	pipelineRunCmd.Flags().Bool("resume", false, "Resume from the last checkpoint instead of refusing to start")
	pipelineRunCmd.Flags().Int("max-retries", 2, "Retries per stage after the first attempt")
	pipelineRunCmd.Flags().Int("timeout-sec", 0, "Per-stage timeout in seconds (0 = unbounded)")

	viper.BindPFlag("max-retries", pipelineRunCmd.Flags().Lookup("max-retries"))
	viper.BindPFlag("stage-timeout-sec", pipelineRunCmd.Flags().Lookup("timeout-sec"))
}

func runPipeline(cmd *cobra.Command, args []string) error {
	resume, _ := cmd.Flags().GetBool("resume")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	table, env, err := loadStageTable(cfg)
	if err != nil {
		return err
	}

	wsLock := lock.New(cfg.LockFile())
	if err := wsLock.TryLock(); err != nil {
		return err
	}
	defer wsLock.Unlock()

	// Run history is best-effort; a missing ledger never blocks a rebuild.
	var ledger pipeline.Ledger
	if l, err := db.Open(cfg.LedgerFile()); err != nil {
		slog.Warn("ledger_unavailable", "error", err)
	} else {
		defer l.Close()
		ledger = l
	}

	store := checkpoint.NewStore(cfg.CheckpointFile())
	healer := autoheal.New(executor.New(), cfg.RetryDelay())
	p := pipeline.New(table, store, healer, ledger)

	summary, err := p.Run(cmd.Context(), pipeline.RunOptions{
		Resume:     resume,
		MaxRetries: cfg.MaxRetries,
		Exec: executor.RunContext{
			WorkDir: cfg.WorkDir,
			LogDir:  cfg.LogDir(),
			Env:     env,
			Timeout: cfg.StageTimeout(),
			Grace:   cfg.KillGrace(),
		},
	})
	if err != nil {
		if stderrors.Is(err, pipeline.ErrCheckpointExists) {
			return &usageError{err: err}
		}
		return err
	}

	fmt.Printf("✅ Pipeline complete: %d stages run, %d skipped (run %s)\n",
		len(summary.Executed), len(summary.Skipped), summary.RunID)
	return nil
}

func runPipelineStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	table, _, err := loadStageTable(cfg)
	if err != nil {
		return err
	}

	cp, err := checkpoint.NewStore(cfg.CheckpointFile()).Load()
	if err != nil {
		return err
	}

	fmt.Printf("Pipeline: %s\n", pipeline.Describe(cp, table))
	if cp == nil || len(cp.History) == 0 {
		return nil
	}

	done, total := pipeline.Progress(cp, table)
	fmt.Printf("Progress: %d/%d stages\n", done, total)
	fmt.Printf("Current stage: %s (%s)\n", cp.Stage, cp.Description)
	fmt.Printf("Updated: %s ago\n", units.HumanDuration(time.Since(cp.Timestamp)))

	fmt.Println()
	fmt.Printf("%-18s %-9s %-9s %s\n", "STAGE", "STATUS", "ATTEMPTS", "WHEN")
	fmt.Println("--------------------------------------------------------")
	for _, e := range cp.History {
		fmt.Printf("%-18s %-9s %-9d %s ago\n",
			e.Stage, e.Status, e.Attempts, units.HumanDuration(time.Since(e.Timestamp)))
	}
	return nil
}
