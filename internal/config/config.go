// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutorConfig holds background task executor configuration.
type ExecutorConfig struct {
	ID        string  `yaml:"id"`         // executor identity used in task leases (default: hostname)
	Schedule  string  `yaml:"schedule"`   // cron expression for the poll loop (default "@every 1m")
	BatchSize int     `yaml:"batch_size"` // max tasks leased per poll (default 20)
	RateLimit float64 `yaml:"rate_limit"` // handler dispatches per second, 0 = unlimited
}

// Config holds the metastore service configuration. Values come from an
// optional YAML file (META_CONFIG_FILE) overridden by environment variables.
type Config struct {
	MetaDBPath    string        `yaml:"meta_db_path"`   // path to the SQLite metastore file
	ReadPoolSize  int           `yaml:"read_pool_size"` // read connection pool size (default 4)
	EncryptionKey string        `yaml:"-"`              // 64-char hex AES key for storage configs; env only
	LogLevel      string        `yaml:"log_level"`      // debug, info, warn, error (default "info")
	Env           string        `yaml:"env"`            // "development" (default) or "production"
	TaskTimeout   time.Duration `yaml:"task_timeout"`   // lease age after which tasks are reclaimed

	Executor ExecutorConfig `yaml:"executor"`

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

const insecureDefaultKey = "0000000000000000000000000000000000000000000000000000000000000000"

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the service is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load builds the configuration: YAML file first (when META_CONFIG_FILE is
// set), then environment variables on top, then defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("META_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("META_DB_PATH"); v != "" {
		cfg.MetaDBPath = v
	}
	if v := os.Getenv("READ_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReadPoolSize = n
		}
	}
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TaskTimeout = d
		}
	}
	if v := os.Getenv("EXECUTOR_ID"); v != "" {
		cfg.Executor.ID = v
	}
	if v := os.Getenv("TASK_POLL_SCHEDULE"); v != "" {
		cfg.Executor.Schedule = v
	}
	if v := os.Getenv("TASK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.BatchSize = n
		}
	}
	if v := os.Getenv("TASK_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Executor.RateLimit = f
		}
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "metalake.sqlite"
	}
	if cfg.ReadPoolSize <= 0 {
		cfg.ReadPoolSize = 4
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.Executor.ID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "metalake"
		}
		cfg.Executor.ID = host
	}
	if cfg.Executor.Schedule == "" {
		cfg.Executor.Schedule = "@every 1m"
	}
	if cfg.Executor.BatchSize <= 0 {
		cfg.Executor.BatchSize = 20
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = insecureDefaultKey
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEY not set — using insecure default. Set ENCRYPTION_KEY in production!")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() && cfg.EncryptionKey == insecureDefaultKey {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production (ENV=production)")
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Env vars take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
