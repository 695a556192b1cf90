package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidUpdate indicates an update without identity or status.
	ErrInvalidUpdate = errors.New("invalid score update")

	// ErrStatusRegression indicates an attempt to move a COMPLETED score
	// back to RUNNING.
	ErrStatusRegression = errors.New("score status regression")

	// ErrAlreadyFinalized is returned by Final after the first call for a score.
	ErrAlreadyFinalized = errors.New("score already finalized")
)

// Mutator writes a score update to the dashboard. Writes are full
// replacements keyed by run id and score id, so repeating one is harmless.
type Mutator interface {
	UpdateScoreResult(ctx context.Context, update ScoreUpdate) error
}

// MutatorFunc adapts a function to Mutator.
type MutatorFunc func(ctx context.Context, update ScoreUpdate) error

// UpdateScoreResult implements Mutator.
func (f MutatorFunc) UpdateScoreResult(ctx context.Context, update ScoreUpdate) error {
	return f(ctx, update)
}

// NoOpMutator accepts and discards every update.
type NoOpMutator struct{}

// UpdateScoreResult implements Mutator.
func (NoOpMutator) UpdateScoreResult(_ context.Context, update ScoreUpdate) error {
	return update.Validate()
}

// HTTPError captures a non-success response from the dashboard API.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

// Error returns the status and message.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("dashboard error (status %d): %s", e.StatusCode, e.Message)
}

// GetRetryAfter implements retry.RetryAfterProvider.
func (e *HTTPError) GetRetryAfter() time.Duration { return e.RetryAfter }

// GraphQLError carries the messages of a GraphQL errors array.
type GraphQLError struct {
	Messages []string
}

// Error joins the messages.
func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}
