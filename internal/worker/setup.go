package worker

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/AnthusAI/Plexus-sub006/internal/activity"
	"github.com/AnthusAI/Plexus-sub006/internal/config"
	"github.com/AnthusAI/Plexus-sub006/internal/dashboard"
	"github.com/AnthusAI/Plexus-sub006/internal/dispatch"
	"github.com/AnthusAI/Plexus-sub006/internal/telemetry"
	"github.com/AnthusAI/Plexus-sub006/pkg/events"
)

// NewRedisClient opens a client for the configured Redis, or returns nil
// when no address is configured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// InitializeMutator builds the dashboard backend selected by cfg.Sync.Backend.
// rdb is required for the redis backend.
func InitializeMutator(cfg *config.Config, rdb redis.Cmdable) (dashboard.Mutator, error) {
	switch cfg.Sync.Backend {
	case config.BackendNone, "":
		return dashboard.NoOpMutator{}, nil
	case config.BackendGraphQL:
		m, err := dashboard.NewGraphQLMutator(cfg.Sync.Endpoint, dashboard.WithAPIKey(cfg.Sync.APIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize graphql mutator: %w", err)
		}
		return m, nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("%w: redis sync backend needs a redis client", config.ErrInvalidConfig)
		}
		return dashboard.NewRedisMutator(rdb, cfg.Redis.KeyTTL), nil
	default:
		return nil, fmt.Errorf("%w: unknown sync backend %q", config.ErrInvalidConfig, cfg.Sync.Backend)
	}
}

// InitializeEventSink streams events to Redis when a stream is configured
// and a client is available, and discards them otherwise.
func InitializeEventSink(cfg *config.Config, rdb redis.Cmdable) (events.EventSink, error) {
	if rdb == nil || cfg.Redis.Stream == "" {
		return events.NewNoOpEventSink(), nil
	}
	return events.NewRedisStreamSink(rdb, cfg.Redis.Stream, cfg.Redis.StreamMaxLen)
}

// InitializeMetrics registers Prometheus collectors on reg when metrics are
// enabled.
func InitializeMetrics(cfg *config.Config, reg prometheus.Registerer) telemetry.Metrics {
	if !cfg.Observability.MetricsEnabled || reg == nil {
		return telemetry.NewNoOpMetrics()
	}
	return telemetry.NewPrometheusMetrics(reg)
}

// InitializeDependencies assembles the activity dependencies from cfg.
// The predictor registry comes from the caller: predictors are the
// embedding application's models.
func InitializeDependencies(cfg *config.Config, registry dispatch.Registry, rdb redis.Cmdable, reg prometheus.Registerer) (activity.Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return activity.Dependencies{}, err
	}
	mutator, err := InitializeMutator(cfg, rdb)
	if err != nil {
		return activity.Dependencies{}, err
	}
	sink, err := InitializeEventSink(cfg, rdb)
	if err != nil {
		return activity.Dependencies{}, err
	}
	return activity.Dependencies{
		Evaluation: cfg.Evaluation,
		SyncPolicy: cfg.SyncPolicy(),
		Registry:   registry,
		Mutator:    mutator,
		Events:     sink,
		Logger:     config.NewLogger(cfg.Observability),
		Metrics:    InitializeMetrics(cfg, reg),
	}, nil
}
