package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/service"
)

// EnvPrefix prefixes every environment override, e.g. SETTLE_DATABASE_PATH.
const EnvPrefix = "SETTLE"

// Configuration keys.
const (
	KeyDatabasePath             = "database.path"
	KeyTolerance                = "settlement.tolerance"
	KeyApplyProposals           = "statement.apply_proposals"
	KeyCheckpointBeforeRollback = "statement.checkpoint_before_rollback"
	KeyMetricsTextfile          = "metrics.textfile"
	KeyLogLevel                 = "logging.level"
	KeyLogFormat                = "logging.format"
	KeyRetryAttempts            = "retry.max_attempts"
	KeyRetryInitialDelay        = "retry.initial_delay"
)

// Config is the resolved runtime configuration.
type Config struct {
	Tolerance                decimal.Decimal
	DatabasePath             string
	MetricsTextfile          string
	LogLevel                 slog.Level
	LogFormat                string
	Retry                    service.RetryOptions
	ApplyProposals           bool
	CheckpointBeforeRollback bool
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabasePath, "$HOME/.local/share/settle/settle.db")
	v.SetDefault(KeyTolerance, "0.01")
	v.SetDefault(KeyApplyProposals, false)
	v.SetDefault(KeyCheckpointBeforeRollback, true)
	v.SetDefault(KeyMetricsTextfile, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyRetryAttempts, 3)
	v.SetDefault(KeyRetryInitialDelay, 100*time.Millisecond)
}

// ReadFile points v at cfgFile, or at $HOME/.config/settle/config.yaml and ./config.yaml
// when cfgFile is empty, and enables SETTLE_ environment overrides. A missing config
// file is not an error.
func ReadFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(ExpandPath(cfgFile))
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".config", "settle"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	tolerance, err := decimal.NewFromString(v.GetString(KeyTolerance))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrInvalidConfig, KeyTolerance, err)
	}
	if tolerance.IsNegative() {
		return nil, fmt.Errorf("%w: %s must not be negative", common.ErrInvalidConfig, KeyTolerance)
	}

	level, err := common.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, err
	}
	format := v.GetString(KeyLogFormat)
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("%w: log format %q", common.ErrInvalidConfig, format)
	}

	dbPath := ExpandPath(v.GetString(KeyDatabasePath))
	if dbPath == "" {
		return nil, fmt.Errorf("%w: %s is empty", common.ErrInvalidConfig, KeyDatabasePath)
	}

	return &Config{
		DatabasePath:             dbPath,
		Tolerance:                tolerance,
		ApplyProposals:           v.GetBool(KeyApplyProposals),
		CheckpointBeforeRollback: v.GetBool(KeyCheckpointBeforeRollback),
		MetricsTextfile:          ExpandPath(v.GetString(KeyMetricsTextfile)),
		LogLevel:                 level,
		LogFormat:                format,
		Retry: service.RetryOptions{
			MaxAttempts:  v.GetInt(KeyRetryAttempts),
			InitialDelay: v.GetDuration(KeyRetryInitialDelay),
		},
	}, nil
}
