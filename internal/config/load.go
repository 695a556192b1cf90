package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCOREEVAL_"

// Load builds a Config from defaults, the optional YAML file at path, the
// given .env files (or ./.env when none are named) and SCOREEVAL_*
// environment variables, in that order of precedence, then validates it.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays SCOREEVAL_* variables and resolves the sync API key.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setInt("CONCURRENCY_LIMIT", &cfg.Evaluation.ConcurrencyLimit)
	e.setInt("SAMPLE_PARALLELISM", &cfg.Evaluation.SampleParallelism)
	e.setDuration("PREDICT_TIMEOUT", &cfg.Evaluation.PredictTimeout)
	e.setFloat("RATE_PER_SECOND", &cfg.Evaluation.RatePerSecond)
	e.setInt("BURST", &cfg.Evaluation.Burst)
	e.setDuration("GRACE_PERIOD", &cfg.Evaluation.GracePeriod)
	e.setDuration("POLL_INTERVAL", &cfg.Evaluation.PollInterval)
	e.setBool("AC1_ZERO", &cfg.Evaluation.AC1Zero)
	e.setList("SCORES", &cfg.Evaluation.Scores)

	e.setString("SYNC_BACKEND", &cfg.Sync.Backend)
	e.setString("SYNC_ENDPOINT", &cfg.Sync.Endpoint)
	e.setString("SYNC_API_KEY_ENV", &cfg.Sync.APIKeyEnv)
	e.setDuration("SYNC_ATTEMPT_TIMEOUT", &cfg.Sync.AttemptTimeout)
	e.setInt("SYNC_MAX_ATTEMPTS", &cfg.Sync.Retry.MaxAttempts)

	e.setString("REDIS_ADDR", &cfg.Redis.Addr)
	e.setString("REDIS_PASSWORD", &cfg.Redis.Password)
	e.setInt("REDIS_DB", &cfg.Redis.DB)
	e.setString("REDIS_STREAM", &cfg.Redis.Stream)

	e.setString("LOG_LEVEL", &cfg.Observability.LogLevel)
	e.setString("LOG_FORMAT", &cfg.Observability.LogFormat)
	e.setBool("METRICS_ENABLED", &cfg.Observability.MetricsEnabled)

	if cfg.Sync.APIKeyEnv != "" {
		if v, ok := lookup(cfg.Sync.APIKeyEnv); ok {
			cfg.Sync.APIKey = v
		}
	}
	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(e.errs...))
	}
	return nil
}

// envReader collects parse errors so every bad variable is reported.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}
