package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/pkg/activity"
	"github.com/AnthusAI/Plexus-sub006/pkg/events"
)

// EventEmitter publishes the aggregation events of a run.
// Emission is best-effort; failures are logged and never reach the loops.
type EventEmitter struct {
	base   activity.BaseActivities
	logger *slog.Logger
}

// NewEventEmitter creates an emitter over sink. A nil sink disables events.
func NewEventEmitter(sink events.EventSink, logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{base: activity.NewBaseActivities(sink), logger: logger}
}

// EmitScoreCompleted emits the ScoreCompleted event of one score.
func (e *EventEmitter) EmitScoreCompleted(ctx context.Context, runID string, snap domain.MetricsSnapshot, now time.Time) {
	event, err := domain.NewScoreCompletedEvent(runID, snap, now)
	if err != nil {
		e.logger.Warn("failed to build score completed event",
			"score_id", snap.ScoreID,
			"error", err)
		return
	}
	e.base.EmitEventSafe(ctx, event.ToEnvelope(), fmt.Sprintf("ScoreCompleted[%s]", snap.ScoreID))
}
