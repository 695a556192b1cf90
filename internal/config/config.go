// Package config loads and validates engine configuration from YAML files,
// .env files and SCOREEVAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AnthusAI/Plexus-sub006/internal/retry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Sync backends.
const (
	BackendNone    = "none"
	BackendGraphQL = "graphql"
	BackendRedis   = "redis"
)

// Config is the full engine configuration.
type Config struct {
	Evaluation    Evaluation          `yaml:"evaluation"`
	Sync          SyncConfig          `yaml:"sync"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Evaluation controls scheduling, dispatch and aggregation of a run.
type Evaluation struct {
	// ConcurrencyLimit caps in-flight predict calls across the run.
	ConcurrencyLimit int `yaml:"concurrency_limit" validate:"min=1"`
	// SampleParallelism caps samples being scheduled at once. Zero means
	// twice the concurrency limit.
	SampleParallelism int           `yaml:"sample_parallelism" validate:"gte=0"`
	PredictTimeout    time.Duration `yaml:"predict_timeout"    validate:"gte=0"`
	PredictRetry      retry.Policy  `yaml:"predict_retry"`
	// RatePerSecond limits predict calls; zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst"           validate:"gte=0"`
	// GracePeriod bounds the wait for in-flight calls after a stop.
	GracePeriod  time.Duration `yaml:"grace_period"  validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	// AC1Zero reports a degenerate agreement coefficient as 0 instead of NaN.
	AC1Zero bool `yaml:"ac1_zero"`
	// Scores restricts the run to these score names and their dependencies.
	Scores []string `yaml:"scores"`
}

// EffectiveSampleParallelism resolves the zero default.
func (e Evaluation) EffectiveSampleParallelism() int {
	if e.SampleParallelism > 0 {
		return e.SampleParallelism
	}
	return 2 * e.ConcurrencyLimit
}

// SyncConfig controls dashboard synchronization.
type SyncConfig struct {
	Backend  string       `yaml:"backend"  validate:"oneof=none graphql redis"`
	Endpoint string       `yaml:"endpoint" validate:"omitempty,url"`
	Retry    retry.Policy `yaml:"retry"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv      string        `yaml:"api_key_env"`
	APIKey         string        `yaml:"-"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gte=0"`
}

// RedisConfig holds Redis connection settings for the Redis sync backend
// and the event stream sink.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"-"`
	DB           int           `yaml:"db"             validate:"gte=0"`
	KeyTTL       time.Duration `yaml:"key_ttl"        validate:"gte=0"`
	Stream       string        `yaml:"stream"`
	StreamMaxLen int64         `yaml:"stream_max_len" validate:"gte=0"`
}

// ObservabilityConfig controls logging and metrics.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	LogLevel       string `yaml:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat      string `yaml:"log_format" validate:"oneof=json text"`
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Evaluation.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: sync.retry: %w", ErrInvalidConfig, err)
	}
	if c.Sync.Backend == BackendGraphQL && c.Sync.Endpoint == "" {
		return fmt.Errorf("%w: sync.endpoint is required for the graphql sync backend", ErrInvalidConfig)
	}
	if c.Sync.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required for the redis sync backend", ErrInvalidConfig)
	}
	return nil
}

// Validate checks the evaluation section alone.
func (e Evaluation) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := e.PredictRetry.Validate(); err != nil {
		return fmt.Errorf("%w: predict_retry: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SyncPolicy returns the sync retry policy with the attempt timeout applied.
func (c *Config) SyncPolicy() retry.Policy {
	p := c.Sync.Retry
	if c.Sync.AttemptTimeout > 0 {
		p.AttemptTimeout = c.Sync.AttemptTimeout
	}
	return p
}
