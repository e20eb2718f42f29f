package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/k2rebuild/k2rebuild/internal/config"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/profile"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// ensureDirectories creates the working directory layout the pipeline
// expects before anything runs.
func ensureDirectories(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create work directory")
	}
	if err := os.MkdirAll(cfg.LogDir(), 0o755); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.ReportFile()), 0o755); err != nil {
		return errors.Wrap(err, "failed to create report directory")
	}
	return nil
}

// loadStageTable builds the stage table, applying the device profile
// when one is configured. The returned env carries profile variables
// into stage processes.
func loadStageTable(cfg *config.Config) (*stage.Table, map[string]string, error) {
	if cfg.Profile == "" {
		return stage.Default(), nil, nil
	}

	prof, err := profile.ReadFile(cfg.Profile)
	if err != nil {
		return nil, nil, &usageError{err: errors.Wrap(err, "failed to load device profile")}
	}
	table, err := prof.Table()
	if err != nil {
		return nil, nil, &usageError{err: errors.Wrap(err, "invalid device profile")}
	}

	slog.Info("profile_loaded", "name", prof.Name, "firmware_version", prof.FirmwareVersion)
	return table, prof.Environ(), nil
}
