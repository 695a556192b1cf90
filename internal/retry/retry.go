package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("all retries exhausted")

var errContextCancelledDuringRetry = errors.New("context cancelled during retry")

// Operation is one attempt. The context carries the attempt deadline.
type Operation func(ctx context.Context) error

// Retrier executes operations under a Policy and keeps attempt statistics.
// Safe for concurrent use.
type Retrier struct {
	policy  Policy
	logger  *slog.Logger
	stats   *retryStats
	onRetry func(attempt int, err error, backoff time.Duration)
	after   func(time.Duration) <-chan time.Time
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retrier) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOnRetry registers a callback invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, backoff time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New validates the policy and returns a Retrier.
func New(policy Policy, opts ...Option) (*Retrier, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	r := &Retrier{
		policy: policy,
		logger: slog.Default().With("component", "retry"),
		stats:  &retryStats{},
		after:  time.After,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MustNew is New for policies known to be valid, such as DefaultPolicy.
func MustNew(policy Policy, opts ...Option) *Retrier {
	r, err := New(policy, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Policy returns the policy in use.
func (r *Retrier) Policy() Policy { return r.policy }

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempts or elapsed time run out, or ctx is done. Non-retryable errors are
// returned unchanged; exhaustion returns ErrRetriesExhausted wrapping the
// last error.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		attempts = attempt
		err := r.attempt(ctx, op)
		r.stats.totalAttempts.Add(1)

		if err == nil {
			if attempt > 1 {
				r.stats.successfulRetries.Add(1)
				r.logger.Debug("operation succeeded after retry", "attempt", attempt)
			} else {
				r.stats.successfulFirstAttempts.Add(1)
			}
			return nil
		}

		// An attempt deadline is transient; the caller's own cancellation is not.
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.stats.failedRetries.Add(1)
			return fmt.Errorf("%w: %w", errContextCancelledDuringRetry, errors.Join(ctxErr, err))
		}

		if !IsRetryable(err) {
			r.stats.nonRetryable.Add(1)
			return err
		}
		lastErr = err

		if attempt == r.policy.MaxAttempts {
			break
		}

		backoff := r.policy.Backoff(attempt)
		if hint := retryAfter(err); hint > 0 {
			backoff = min(hint, max(r.policy.MaxInterval, r.policy.InitialInterval))
		}
		if r.policy.MaxElapsedTime > 0 && time.Since(start)+backoff > r.policy.MaxElapsedTime {
			r.logger.Warn("max elapsed time exceeded",
				"elapsed", time.Since(start),
				"attempts", attempt,
				"last_error", err)
			break
		}
		r.recordBackoff(backoff)
		if r.onRetry != nil {
			r.onRetry(attempt, err, backoff)
		}

		r.logger.Debug("retrying after backoff", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-r.after(backoff):
		case <-ctx.Done():
			r.stats.failedRetries.Add(1)
			return fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
		}
	}

	r.stats.failedRetries.Add(1)
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func (r *Retrier) attempt(ctx context.Context, op Operation) error {
	if r.policy.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

// Do is a convenience for a one-off retry loop with the given policy.
func Do(ctx context.Context, policy Policy, op Operation) error {
	r, err := New(policy)
	if err != nil {
		return err
	}
	return r.Do(ctx, op)
}
