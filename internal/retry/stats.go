package retry

import (
	"sync/atomic"
	"time"
)

// retryStats provides thread-safe retry metrics using atomic operations.
type retryStats struct {
	totalAttempts           atomic.Int64 // every attempt, first ones included
	successfulRetries       atomic.Int64 // operations that succeeded after a retry
	failedRetries           atomic.Int64 // operations that gave up
	successfulFirstAttempts atomic.Int64
	nonRetryable            atomic.Int64 // operations stopped by a permanent error
	maxBackoff              atomic.Int64 // nanoseconds
}

// Stats is a snapshot of a Retrier's activity.
type Stats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	SuccessfulRetries int64         `json:"successful_retries"`
	FailedRetries     int64         `json:"failed_retries"`
	NonRetryable      int64         `json:"non_retryable"`
	AverageAttempts   float64       `json:"average_attempts"`
	MaxBackoff        time.Duration `json:"max_backoff"`
}

func (r *Retrier) recordBackoff(backoff time.Duration) {
	nanos := backoff.Nanoseconds()
	for {
		current := r.stats.maxBackoff.Load()
		if nanos <= current {
			return
		}
		if r.stats.maxBackoff.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// Stats returns a snapshot of the current retry statistics.
func (r *Retrier) Stats() Stats {
	totalAttempts := r.stats.totalAttempts.Load()
	successfulRetries := r.stats.successfulRetries.Load()
	failedRetries := r.stats.failedRetries.Load()
	first := r.stats.successfulFirstAttempts.Load()
	nonRetryable := r.stats.nonRetryable.Load()

	averageAttempts := 1.0
	if ops := first + successfulRetries + failedRetries + nonRetryable; ops > 0 {
		averageAttempts = float64(totalAttempts) / float64(ops)
	}

	return Stats{
		TotalAttempts:     totalAttempts,
		SuccessfulRetries: successfulRetries,
		FailedRetries:     failedRetries,
		NonRetryable:      nonRetryable,
		AverageAttempts:   averageAttempts,
		MaxBackoff:        time.Duration(r.stats.maxBackoff.Load()),
	}
}
