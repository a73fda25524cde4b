package config

import (
	"time"

	"github.com/popcore/populate/internal/core/failure"
	"github.com/popcore/populate/internal/core/progress"
	redisclient "github.com/popcore/populate/internal/infra/redis"
	"github.com/popcore/populate/internal/infra/storage/postgres"
	"github.com/popcore/populate/internal/resilience/breaker"
	"github.com/popcore/populate/internal/resilience/ratelimit"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging"`
	Source    SourceConfig        `yaml:"source"`
	StateDir  string              `yaml:"state_dir"`
	Durable   progress.Durability `yaml:"durability"` // rename (default) or fsync
	Breaker   breaker.Config      `yaml:"breaker"`
	RateLimit ratelimit.Config    `yaml:"rate_limit"`
	Retry     failure.RetryPolicy `yaml:"retry"`
	Redis     redisclient.Config  `yaml:"redis"`
	Database  postgres.Config     `yaml:"database"`
	Tasks     []TaskConfig        `yaml:"tasks"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SourceConfig holds settings for the external data source.
type SourceConfig struct {
	Name    string        `yaml:"name"` // circuit breaker resource name
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// TaskConfig holds settings for one population task.
type TaskConfig struct {
	Name            string       `yaml:"name"`
	Table           string       `yaml:"table"`
	KeyColumns      []string     `yaml:"key_columns"`
	Schema          []string     `yaml:"schema"` // required payload fields
	Units           []UnitConfig `yaml:"units"`
	MaxAttempts     int          `yaml:"max_attempts"`
	CheckpointEvery int          `yaml:"checkpoint_every"`
}

// UnitConfig declares one work unit of a task.
type UnitConfig struct {
	Key    string            `yaml:"key"`
	Params map[string]string `yaml:"params"`
}
