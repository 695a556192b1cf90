package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/AnthusAI/Plexus-sub006/internal/evaluation"
)

// Application error types reported to workflows.
const (
	ErrorTypeValidation    = "Validation"
	ErrorTypeConfiguration = "Configuration"
	ErrorTypeRunFailed     = "RunFailed"
)

// ErrActivityValidation is returned when activity input validation fails.
var ErrActivityValidation = errors.New("activity input validation failed")

// nonRetryable wraps an error as a Temporal non-retryable application error.
// The tag categorizes the error for workflows and monitoring.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a Temporal application error the retry
// policy may act on.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationErrorWithCause(msg, tag, cause)
}

// classifyRunError maps a run failure onto a Temporal application error.
// Configuration problems never improve on retry; a failed final sync may.
func classifyRunError(err error) error {
	if evaluation.IsConfigError(err) {
		return nonRetryable(ErrorTypeConfiguration, err, "scorecard configuration rejected")
	}
	return retryable(ErrorTypeRunFailed, err, "evaluation run failed")
}
