package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/pkg/activity"
)

func (r *Runner) emitRunCompleted(ctx context.Context, report *Report, now time.Time) {
	event, err := domain.NewRunCompletedEvent(r.runID, domain.RunCompletedPayload{
		Partial:    report.Partial,
		Processed:  report.Processed,
		Scores:     len(report.Snapshots),
		DurationMs: report.Duration().Milliseconds(),
	}, now)
	r.emit(ctx, event, err)
}

func (r *Runner) emitRunFailed(ctx context.Context, report *Report, now time.Time) {
	msg := "run failed"
	if report.Err != nil {
		msg = report.Err.Error()
	}
	event, err := domain.NewRunFailedEvent(r.runID, domain.RunFailedPayload{
		Error:     msg,
		Processed: report.Processed,
	}, now)
	r.emit(ctx, event, err)
}

// emit delivers a run event best-effort, even after the run context ends.
func (r *Runner) emit(ctx context.Context, event domain.EventEnvelope, buildErr error) {
	if r.sink == nil {
		return
	}
	if buildErr != nil {
		r.logger.Warn("failed to build run event", "error", buildErr)
		return
	}
	base := activity.NewBaseActivities(r.sink)
	base.EmitEventSafe(context.WithoutCancel(ctx), event.ToEnvelope(), fmt.Sprintf("%s[%s]", event.EventType, r.runID))
}
