// Package activity implements the Temporal activity that runs a scorecard
// evaluation.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/config"
	"github.com/AnthusAI/Plexus-sub006/internal/dashboard"
	"github.com/AnthusAI/Plexus-sub006/internal/dispatch"
	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/evaluation"
	"github.com/AnthusAI/Plexus-sub006/internal/retry"
	"github.com/AnthusAI/Plexus-sub006/internal/telemetry"
	"github.com/AnthusAI/Plexus-sub006/pkg/activity"
	"github.com/AnthusAI/Plexus-sub006/pkg/events"
)

// DefaultHeartbeatInterval is how often a running evaluation heartbeats.
const DefaultHeartbeatInterval = 10 * time.Second

// Dependencies are the collaborators an evaluation activity needs.
type Dependencies struct {
	Evaluation config.Evaluation
	SyncPolicy retry.Policy
	Registry   dispatch.Registry
	Mutator    dashboard.Mutator
	Events     events.EventSink
	Logger     *slog.Logger
	Metrics    telemetry.Metrics

	HeartbeatInterval time.Duration
}

// Activities holds the evaluation activities.
type Activities struct {
	activity.BaseActivities
	deps Dependencies
}

// NewActivities creates the evaluation activities.
func NewActivities(deps Dependencies) *Activities {
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if deps.SyncPolicy == (retry.Policy{}) {
		deps.SyncPolicy = config.DefaultConfig().SyncPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Activities{
		BaseActivities: activity.NewBaseActivities(deps.Events),
		deps:           deps,
	}
}

// EvaluateScorecard runs one evaluation to completion and returns its
// summary. Progress is heartbeated as the processed unit count; when the
// activity is cancelled the run stops gracefully and reports partial
// results.
func (a *Activities) EvaluateScorecard(ctx context.Context, req domain.EvaluationRequest) (*domain.EvaluationSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, nonRetryable(ErrorTypeValidation, fmt.Errorf("%w: %w", ErrActivityValidation, err), "invalid input")
	}

	cfg := a.deps.Evaluation
	if len(req.Scores) > 0 {
		cfg.Scores = req.Scores
	}
	wf := a.GetWorkflowContext(ctx)
	logger := a.deps.Logger
	if wf.InActivity() {
		logger = logger.With("workflow_id", wf.WorkflowID, "attempt", wf.Attempt)
	}

	runner, err := evaluation.New(cfg, req.Scorecard, a.deps.Registry, a.deps.Mutator,
		evaluation.WithRunID(req.RunID),
		evaluation.WithSyncPolicy(a.deps.SyncPolicy),
		evaluation.WithEventSink(a.deps.Events),
		evaluation.WithLogger(logger),
		evaluation.WithMetrics(a.deps.Metrics))
	if err != nil {
		return nil, classifyRunError(err)
	}

	activity.SafeLog(ctx, "Evaluation started",
		"run_id", runner.RunID(),
		"scorecard", req.Scorecard.Name,
		"samples", len(req.Samples))

	stop := a.heartbeat(ctx, runner)
	report, err := runner.Run(ctx, req.Samples)
	stop()
	if err != nil {
		activity.SafeLogError(ctx, "Evaluation failed",
			"run_id", runner.RunID(),
			"error", err)
		return nil, classifyRunError(err)
	}

	summary := report.Summary()
	activity.SafeLog(ctx, "Evaluation completed",
		"run_id", summary.RunID,
		"partial", summary.Partial,
		"processed", summary.Processed)
	return &summary, nil
}

// heartbeat reports the processed count until the returned stop is called.
func (a *Activities) heartbeat(ctx context.Context, runner *evaluation.Runner) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(a.deps.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RecordHeartbeat(ctx, runner.Processed())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
