// Package retry provides an explicit, composable retry policy with bounded
// exponential backoff, used for predictor calls and dashboard syncs.
package retry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMultiplier      = 2.0
)

var (
	// Configuration validation errors.
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")
	errAttemptTimeoutInvalid  = errors.New("attemptTimeout must be >= 0")
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts     int           `yaml:"max_attempts"     validate:"min=1"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval"     validate:"gtefield=InitialInterval"`
	Multiplier      float64       `yaml:"multiplier"       validate:"gte=1"`
	// MaxElapsedTime bounds the whole retry loop. Zero means unbounded.
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time" validate:"gte=0"`
	// AttemptTimeout bounds each attempt. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gte=0"`
	// UseJitter applies full jitter to each backoff.
	UseJitter bool `yaml:"use_jitter"`
}

// DefaultPolicy returns 3 attempts starting at 250ms, doubling, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}

// Validate reports the first invalid field.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, p.MaxAttempts)
	}
	if p.InitialInterval <= 0 {
		return fmt.Errorf("%w, got %v", errInitialIntervalInvalid, p.InitialInterval)
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, p.MaxInterval, p.InitialInterval)
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("%w, got %f", errMultiplierInvalid, p.Multiplier)
	}
	if p.MaxElapsedTime < 0 {
		return fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, p.MaxElapsedTime)
	}
	if p.AttemptTimeout < 0 {
		return fmt.Errorf("%w, got %v", errAttemptTimeoutInvalid, p.AttemptTimeout)
	}
	return nil
}

// Backoff returns the delay after the given failed attempt (1-based).
// Non-positive attempts yield zero.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	backoff := p.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	multiplier := max(p.Multiplier, 1.0)
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if p.MaxInterval > 0 && backoff > p.MaxInterval {
			backoff = p.MaxInterval
			break
		}
	}
	if p.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}
