package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle/internal/common"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/accountant")

	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, "/home/accountant/.local/share/settle/settle.db", cfg.DatabasePath)
	assert.True(t, cfg.Tolerance.Equal(decimal.New(1, -2)))
	assert.False(t, cfg.ApplyProposals)
	assert.True(t, cfg.CheckpointBeforeRollback)
	assert.Empty(t, cfg.MetricsTextfile)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
}

func TestReadFile_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /srv/settle/ledger.db
settlement:
  tolerance: "0.05"
statement:
  apply_proposals: true
logging:
  format: json
`)
	t.Setenv("SETTLE_LOGGING_LEVEL", "debug")
	t.Setenv("SETTLE_STATEMENT_CHECKPOINT_BEFORE_ROLLBACK", "false")

	v := newViper()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/srv/settle/ledger.db", cfg.DatabasePath)
	assert.True(t, cfg.Tolerance.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, cfg.ApplyProposals)
	assert.False(t, cfg.CheckpointBeforeRollback)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestReadFile_MissingExplicitFile(t *testing.T) {
	err := ReadFile(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "tolerance not a number", key: KeyTolerance, value: "one cent"},
		{name: "negative tolerance", key: KeyTolerance, value: "-0.01"},
		{name: "log level", key: KeyLogLevel, value: "verbose"},
		{name: "log format", key: KeyLogFormat, value: "xml"},
		{name: "empty database path", key: KeyDatabasePath, value: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/accountant")
	t.Setenv("SETTLE_DIR", "/data")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/home/accountant", ExpandPath("~"))
	assert.Equal(t, "/home/accountant/ledger.db", ExpandPath("~/ledger.db"))
	assert.Equal(t, "/data/ledger.db", ExpandPath("$SETTLE_DIR/ledger.db"))
	assert.Equal(t, "relative.db", ExpandPath("relative.db"))
}
