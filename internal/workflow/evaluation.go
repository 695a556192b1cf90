// Package workflow defines the Temporal workflow that runs a scorecard
// evaluation. Workflow code must stay deterministic: every side effect,
// including scoring and dashboard writes, happens in the activity.
package workflow

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/AnthusAI/Plexus-sub006/internal/activity"
	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

// Activity timeouts for an evaluation.
const (
	DefaultEvaluationTimeout = 6 * time.Hour
	DefaultHeartbeatTimeout  = time.Minute
)

// ScorecardEvaluationWorkflow validates the request, assigns a run id when
// none is given, and runs the evaluation activity once. A failed final sync
// is surfaced to the caller rather than retried here: rerunning would score
// every sample again.
func ScorecardEvaluationWorkflow(
	ctx workflow.Context,
	req domain.EvaluationRequest,
) (*domain.EvaluationSummary, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "scorecard-evaluation.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid evaluation request",
			activity.ErrorTypeValidation,
			err,
		)
	}

	if req.RunID == "" {
		var runID string
		encoded := workflow.SideEffect(ctx, func(workflow.Context) any {
			return uuid.New().String()
		})
		if err := encoded.Get(&runID); err != nil {
			return nil, err
		}
		req.RunID = runID
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultEvaluationTimeout,
		HeartbeatTimeout:    DefaultHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting scorecard evaluation",
		"run_id", req.RunID,
		"scorecard", req.Scorecard.Name,
		"samples", len(req.Samples))

	var acts *activity.Activities
	var summary domain.EvaluationSummary
	if err := workflow.ExecuteActivity(ctx, acts.EvaluateScorecard, req).Get(ctx, &summary); err != nil {
		return nil, err
	}

	logger.Info("Scorecard evaluation finished",
		"run_id", summary.RunID,
		"status", summary.Status,
		"partial", summary.Partial)
	return &summary, nil
}
