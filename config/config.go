/*
Package config loads server settings from the environment.

Settings come from environment variables, optionally seeded from a local
.env file (godotenv), and are decoded with viper. Command-line flags on
cmd/server override the port and database path.

VARIABLES:
  SERVER_PORT          HTTP port (8080)
  DB_PATH              SQLite path, ":memory:" for an in-memory database (royalty.db)
  LOG_FORMAT           json | console (json)
  LOG_LEVEL            zerolog level (info)
  REDIS_URL            Enables the Redis contract lock when set
  LOCK_TTL             Contract lock lease (30s)
  BATCH_CONCURRENCY    Contracts processed in parallel by a batch run (4)
  SCHEDULER_INTERVAL   Draft generation ticker, 0 disables it (0)
  SCHEDULER_TENANT     Tenant the ticker generates drafts for (default)
  CORS_ALLOWED_ORIGINS Comma-separated origins (*)
  METRICS_NAMESPACE    Prometheus namespace (royalty)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration for the server.
type Config struct {
	ServerPort         int           `mapstructure:"SERVER_PORT"`
	DBPath             string        `mapstructure:"DB_PATH"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	LockTTL            time.Duration `mapstructure:"LOCK_TTL"`
	BatchConcurrency   int           `mapstructure:"BATCH_CONCURRENCY"`
	SchedulerInterval  time.Duration `mapstructure:"SCHEDULER_INTERVAL"`
	SchedulerTenant    string        `mapstructure:"SCHEDULER_TENANT"`
	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	MetricsNamespace   string        `mapstructure:"METRICS_NAMESPACE"`
}

var defaults = map[string]any{
	"SERVER_PORT":          8080,
	"DB_PATH":              "royalty.db",
	"LOG_FORMAT":           "json",
	"LOG_LEVEL":            "info",
	"REDIS_URL":            "",
	"LOCK_TTL":             "30s",
	"BATCH_CONCURRENCY":    4,
	"SCHEDULER_INTERVAL":   "0s",
	"SCHEDULER_TENANT":     "default",
	"CORS_ALLOWED_ORIGINS": "*",
	"METRICS_NAMESPACE":    "royalty",
}

// LoadConfig reads .env files (if present) and the environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// Bind explicitly so Unmarshal sees variables without a default too.
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be 1-65535, got %d", c.ServerPort)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.BatchConcurrency)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.SchedulerInterval < 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must not be negative, got %s", c.SchedulerInterval)
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
