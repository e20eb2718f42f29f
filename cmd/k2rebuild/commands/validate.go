package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/k2rebuild/k2rebuild/internal/config"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <original_dir> <rebuilt_dir>",
	Short: "Compare a rebuilt rootfs against the extracted original",
	Long: `Compares two rootfs trees file by file and reports missing and extra
paths, size, checksum and permission mismatches, and object types that
cannot be compared. Exits 0 only when the trees match exactly.`,
	Args: exactArgs(2),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().String("report", "", "Also write the report JSON to this path")
	validateCmd.Flags().Int("workers", 0, "Checksum workers (0 = one per CPU)")

	viper.BindPFlag("validate-workers", validateCmd.Flags().Lookup("workers"))
}

func runValidate(cmd *cobra.Command, args []string) error {
	reportPath, _ := cmd.Flags().GetString("report")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	report, err := validate.Compare(cmd.Context(), args[0], args[1], validate.Options{
		Workers: cfg.ValidateWorkers,
	})
	if err != nil {
		return err
	}

	if reportPath != "" {
		if err := os.MkdirAll(filepath.Dir(reportPath), 0o755); err != nil {
			return errors.Wrap(err, "failed to create report directory")
		}
		if err := report.WriteFile(reportPath); err != nil {
			return errors.Wrap(err, "failed to write report")
		}
	}

	// The full report goes to stdout either way: discrepancies must be
	// enumerable, not a bare verdict.
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	fmt.Println(string(out))

	if !report.Pass() {
		return fmt.Errorf("validation failed with %d discrepancies", report.Findings())
	}
	return nil
}
