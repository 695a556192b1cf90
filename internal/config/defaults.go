package config

import (
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/retry"
)

// Evaluation constants.
const (
	DefaultConcurrencyLimit = 20
	DefaultPredictTimeout   = 2 * time.Minute
	DefaultGracePeriod      = 30 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond
)

// Sync constants.
const (
	DefaultSyncAttempts       = 5
	DefaultSyncMaxInterval    = 10 * time.Second
	DefaultSyncAttemptTimeout = 15 * time.Second
	DefaultSyncMaxElapsedTime = 2 * time.Minute
	DefaultAPIKeyEnv          = "SCOREEVAL_API_KEY"
)

// Redis constants.
const (
	DefaultRedisKeyTTL  = 7 * 24 * time.Hour
	DefaultEventStream  = "scoreeval:events"
	DefaultStreamMaxLen = 10000
)

// Observability constants.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// DefaultConfig returns settings suitable for a single-process run with
// no dashboard backend.
func DefaultConfig() *Config {
	return &Config{
		Evaluation: DefaultEvaluation(),
		Sync: SyncConfig{
			Backend: BackendNone,
			Retry: retry.Policy{
				MaxAttempts:     DefaultSyncAttempts,
				InitialInterval: retry.DefaultInitialInterval,
				MaxInterval:     DefaultSyncMaxInterval,
				Multiplier:      retry.DefaultMultiplier,
				MaxElapsedTime:  DefaultSyncMaxElapsedTime,
				UseJitter:       true,
			},
			APIKeyEnv:      DefaultAPIKeyEnv,
			AttemptTimeout: DefaultSyncAttemptTimeout,
		},
		Redis: RedisConfig{
			KeyTTL:       DefaultRedisKeyTTL,
			Stream:       DefaultEventStream,
			StreamMaxLen: DefaultStreamMaxLen,
		},
		Observability: ObservabilityConfig{
			LogLevel:  DefaultLogLevel,
			LogFormat: DefaultLogFormat,
		},
	}
}

// DefaultEvaluation returns the default evaluation section.
func DefaultEvaluation() Evaluation {
	return Evaluation{
		ConcurrencyLimit: DefaultConcurrencyLimit,
		PredictTimeout:   DefaultPredictTimeout,
		PredictRetry:     retry.DefaultPolicy(),
		GracePeriod:      DefaultGracePeriod,
		PollInterval:     DefaultPollInterval,
	}
}
