package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	stderrors "errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "k2rebuild",
	Short:         "Keenetic K2 firmware rebuild pipeline",
	Long:          `Rebuilds Keenetic K2 router firmware through a checkpointed stage pipeline: fetch device state, download vendor firmware, extract it, bootstrap a Debian rootfs, validate the result against the original, and package a flashable image.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
	},
}

// usageError marks errors caused by how the tool was invoked or
// configured, as opposed to a failed rebuild.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

// exitCode maps errors to the process exit status: 2 for usage and
// configuration problems, 1 for everything else.
func exitCode(err error) int {
	var usage *usageError
	if stderrors.As(err, &usage) {
		return 2
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

// wrapArgs attaches the usage exit status to cobra argument validation.
func wrapArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.ExactArgs(n))
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("work-dir", ".", "Working directory for checkpoint, artifacts and logs")
	rootCmd.PersistentFlags().String("profile", "", "Device profile file (JSONC)")
	rootCmd.PersistentFlags().String("mirror-bucket", "keenetic-firmware-mirror", "Firmware mirror S3 bucket")
	rootCmd.PersistentFlags().String("mirror-region", "us-east-1", "Firmware mirror S3 region")
	rootCmd.PersistentFlags().String("mirror-endpoint", "", "Custom S3 endpoint for non-AWS mirrors")
	rootCmd.PersistentFlags().Bool("mirror-anonymous", true, "Access the mirror without AWS credentials")

	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("mirror-bucket", rootCmd.PersistentFlags().Lookup("mirror-bucket"))
	viper.BindPFlag("mirror-region", rootCmd.PersistentFlags().Lookup("mirror-region"))
	viper.BindPFlag("mirror-endpoint", rootCmd.PersistentFlags().Lookup("mirror-endpoint"))
	viper.BindPFlag("mirror-anonymous", rootCmd.PersistentFlags().Lookup("mirror-anonymous"))
}
