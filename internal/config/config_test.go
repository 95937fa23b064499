package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"META_CONFIG_FILE", "META_DB_PATH", "READ_POOL_SIZE", "ENCRYPTION_KEY",
		"LOG_LEVEL", "ENV", "TASK_TIMEOUT", "EXECUTOR_ID", "TASK_POLL_SCHEDULE",
		"TASK_BATCH_SIZE", "TASK_RATE_LIMIT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "metalake.sqlite", cfg.MetaDBPath)
	assert.Equal(t, 4, cfg.ReadPoolSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.TaskTimeout)
	assert.Equal(t, "@every 1m", cfg.Executor.Schedule)
	assert.Equal(t, 20, cfg.Executor.BatchSize)
	assert.NotEmpty(t, cfg.Executor.ID)
	assert.NotEmpty(t, cfg.Warnings, "insecure default encryption key must warn")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("META_DB_PATH", "/tmp/test.sqlite")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TASK_TIMEOUT", "90s")
	t.Setenv("EXECUTOR_ID", "worker-7")
	t.Setenv("TASK_BATCH_SIZE", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.sqlite", cfg.MetaDBPath)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 90*time.Second, cfg.TaskTimeout)
	assert.Equal(t, "worker-7", cfg.Executor.ID)
	assert.Equal(t, 5, cfg.Executor.BatchSize)
}

func TestLoad_YAMLFileWithEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
meta_db_path: /data/from-yaml.sqlite
log_level: warn
executor:
  id: yaml-executor
  batch_size: 50
`), 0o600))
	t.Setenv("META_CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/from-yaml.sqlite", cfg.MetaDBPath)
	assert.Equal(t, "yaml-executor", cfg.Executor.ID)
	assert.Equal(t, 50, cfg.Executor.BatchSize)
	assert.Equal(t, slog.LevelError, cfg.SlogLevel(), "env must override the file")
}

func TestLoad_ProductionRequiresEncryptionKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
META_DB_PATH="/data/dotenv.sqlite"
LOG_LEVEL=debug
`), 0o600))
	t.Setenv("LOG_LEVEL", "warn")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "/data/dotenv.sqlite", os.Getenv("META_DB_PATH"))
	assert.Equal(t, "warn", os.Getenv("LOG_LEVEL"), "existing env wins over .env")

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
