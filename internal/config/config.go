// Package config loads service configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"                env:"PORT"                    env-default:"8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SERVER_SHUTDOWN_TIMEOUT"   env-default:"15s"`
}

// DatabaseConfig selects the Postgres store. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"               env:"DATABASE_URL"`
	Migrate         bool          `yaml:"migrate"           env:"DB_MIGRATE"            env-default:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns"    env:"DB_MAX_OPEN_CONNS"     env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns"    env:"DB_MAX_IDLE_CONNS"     env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"  env-default:"1h"`
}

// RedisConfig enables the Redis domain-event source when URL is set.
type RedisConfig struct {
	URL           string `yaml:"url"            env:"REDIS_URL"`
	EventsChannel string `yaml:"events_channel" env:"REDIS_EVENTS_CHANNEL" env-default:"bruin:events"`
}

type WebhookConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"    env:"WEBHOOK_MAX_ATTEMPTS"    env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"WEBHOOK_INITIAL_BACKOFF" env-default:"1s"`
	MaxBackoff     time.Duration `yaml:"max_backoff"     env:"WEBHOOK_MAX_BACKOFF"     env-default:"1m"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"WEBHOOK_ATTEMPT_TIMEOUT" env-default:"10s"`
	MaxInFlight    int64         `yaml:"max_in_flight"   env:"WEBHOOK_MAX_IN_FLIGHT"   env-default:"64"`
	RatePerSec     float64       `yaml:"rate_per_sec"    env:"WEBHOOK_RATE_PER_SEC"    env-default:"0"`
	RateBurst      int           `yaml:"rate_burst"      env:"WEBHOOK_RATE_BURST"      env-default:"5"`
	SeedFile       string        `yaml:"seed_file"       env:"WEBHOOK_SEED_FILE"`
}

// RetentionConfig prunes delivery logs older than MaxAge. Zero disables pruning.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"  env:"LOG_RETENTION"          env-default:"0s"`
	Schedule string        `yaml:"schedule" env:"LOG_RETENTION_SCHEDULE" env-default:"@hourly"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads CONFIG_PATH (default ./config.yaml) when present, then applies env overrides.
// A missing default file is not an error; a missing explicit file is.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the dispatcher cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Webhook.MaxAttempts <= 0 {
		errs = append(errs, errors.New("webhook.max_attempts must be > 0"))
	}
	if c.Webhook.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("webhook.attempt_timeout must be > 0"))
	}
	if c.Webhook.InitialBackoff < 0 || c.Webhook.MaxBackoff < c.Webhook.InitialBackoff {
		errs = append(errs, errors.New("webhook backoff must satisfy 0 <= initial <= max"))
	}
	if c.Webhook.MaxInFlight <= 0 {
		errs = append(errs, errors.New("webhook.max_in_flight must be > 0"))
	}
	if c.Webhook.RatePerSec < 0 {
		errs = append(errs, errors.New("webhook.rate_per_sec must be >= 0"))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention.max_age must be >= 0"))
	}
	return errors.Join(errs...)
}
