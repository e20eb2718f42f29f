package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Working directory for checkpoints, stage artifacts and logs
	WorkDir string `mapstructure:"work-dir"`

	// Device profile (JSONC). Empty means built-in stage defaults.
	Profile string `mapstructure:"profile"`

	// Retry policy
	MaxRetries    int `mapstructure:"max-retries"`
	RetryDelaySec int `mapstructure:"retry-delay-sec"`

	// Stage execution
	StageTimeoutSec int `mapstructure:"stage-timeout-sec"`
	KillGraceSec    int `mapstructure:"kill-grace-sec"`

	// Validation
	ValidateWorkers int `mapstructure:"validate-workers"`

	// Firmware mirror (S3)
	MirrorBucket    string `mapstructure:"mirror-bucket"`
	MirrorRegion    string `mapstructure:"mirror-region"`
	MirrorEndpoint  string `mapstructure:"mirror-endpoint"`
	MirrorAnonymous bool   `mapstructure:"mirror-anonymous"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("work-dir", ".")
	viper.SetDefault("profile", "")
	viper.SetDefault("max-retries", 2)
	viper.SetDefault("retry-delay-sec", 1)
	viper.SetDefault("stage-timeout-sec", 0)
	viper.SetDefault("kill-grace-sec", 10)
	viper.SetDefault("validate-workers", 0)
	viper.SetDefault("mirror-bucket", "keenetic-firmware-mirror")
	viper.SetDefault("mirror-region", "us-east-1")
	viper.SetDefault("mirror-endpoint", "")
	viper.SetDefault("mirror-anonymous", true)

	// Environment variables (will be K2R_WORK_DIR, etc.)
	viper.SetEnvPrefix("K2R")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("k2rebuild")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.k2rebuild")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be non-negative")
	}
	if c.RetryDelaySec < 1 {
		return fmt.Errorf("retry-delay-sec must be at least 1")
	}
	if c.StageTimeoutSec < 0 {
		return fmt.Errorf("stage-timeout-sec must be non-negative")
	}
	if c.KillGraceSec < 0 {
		return fmt.Errorf("kill-grace-sec must be non-negative")
	}
	if c.ValidateWorkers < 0 {
		return fmt.Errorf("validate-workers must be non-negative")
	}
	if c.MirrorBucket == "" {
		return fmt.Errorf("mirror-bucket cannot be empty")
	}
	return nil
}

// RetryDelay returns the pause between stage attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// StageTimeout returns the per-stage timeout; zero means unbounded.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSec) * time.Second
}

// KillGrace returns how long a timed-out stage gets between SIGTERM
// and SIGKILL.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSec) * time.Second
}

// CheckpointFile locates the checkpoint inside the workdir.
func (c *Config) CheckpointFile() string {
	return filepath.Join(c.WorkDir, "checkpoint.json")
}

// LogDir locates per-attempt stage logs inside the workdir.
func (c *Config) LogDir() string {
	return filepath.Join(c.WorkDir, "logs")
}

// LedgerFile locates the run ledger inside the workdir.
func (c *Config) LedgerFile() string {
	return filepath.Join(c.WorkDir, "ledger.db")
}

// LockFile locates the workspace lock inside the workdir.
func (c *Config) LockFile() string {
	return filepath.Join(c.WorkDir, ".k2rebuild.lock")
}

// ReportFile locates the validation report inside the workdir.
func (c *Config) ReportFile() string {
	return filepath.Join(c.WorkDir, "reports", "validation-report.json")
}
