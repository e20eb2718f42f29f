package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/k2rebuild/k2rebuild/internal/config"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/lock"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

var (
	cleanAll       bool
	cleanArtifacts bool
	cleanLogs      bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove rebuild state from the working directory",
	Long: `Clean rebuild state from the working directory:
  --all         Remove checkpoint, stage artifacts, logs and ledger
  --artifacts   Remove stage artifact directories only
  --logs        Remove stage logs only`,
	Args: wrapArgs(cobra.NoArgs),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Remove checkpoint, artifacts, logs and ledger")
	cleanCmd.Flags().BoolVar(&cleanArtifacts, "artifacts", false, "Remove stage artifact directories")
	cleanCmd.Flags().BoolVar(&cleanLogs, "logs", false, "Remove stage logs")
}

func runClean(cmd *cobra.Command, args []string) error {
	if !cleanAll && !cleanArtifacts && !cleanLogs {
		return &usageError{err: fmt.Errorf("must specify --all, --artifacts, or --logs")}
	}

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

	// Refuse to clean under a live run.
	wsLock := lock.New(cfg.LockFile())
	if err := wsLock.TryLock(); err != nil {
		return err
	}
	defer wsLock.Unlock()

	fmt.Printf("🧹 Cleaning workspace %s...\n", cfg.WorkDir)

	var targets []string
	if cleanAll || cleanArtifacts {
		for _, dir := range artifactDirs(table) {
			targets = append(targets, filepath.Join(cfg.WorkDir, dir))
		}
	}
	if cleanAll || cleanLogs {
		targets = append(targets, cfg.LogDir())
	}
	if cleanAll {
		targets = append(targets, cfg.CheckpointFile(), cfg.LedgerFile())
	}

	removed := 0
	for _, target := range targets {
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			fmt.Printf("⚠️  Failed to remove %s: %v\n", target, err)
			continue
		}
		fmt.Printf("🗑️  Removed: %s\n", target)
		removed++
	}

	fmt.Printf("✅ Removed %d items\n", removed)
	return nil
}

// artifactDirs derives the top-level artifact directories from the
// stage table's output patterns, so profile overrides are honored.
func artifactDirs(table *stage.Table) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, st := range table.Stages() {
		for _, pattern := range st.Artifacts {
			dir, _, _ := strings.Cut(filepath.ToSlash(pattern), "/")
			if dir == "" || dir == "." || seen[dir] {
				continue
			}
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}
