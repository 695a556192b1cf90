package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/AnthusAI/Plexus-sub006/pkg/events"
)

// EventType represents the type of event emitted during an evaluation run.
type EventType string

const (
	// EventTypeScoreCompleted is emitted once per score after its final sync.
	EventTypeScoreCompleted EventType = "evaluation.score_completed"

	// EventTypeRunCompleted is emitted when a run reaches COMPLETED, partial or not.
	EventTypeRunCompleted EventType = "evaluation.run_completed"

	// EventTypeRunFailed is emitted when a run reaches FAILED.
	EventTypeRunFailed EventType = "evaluation.run_failed"
)

// EventEnvelope wraps evaluation events with the metadata projections need.
type EventEnvelope struct {
	// IdempotencyKey is deterministic per run, score and event type so a
	// replayed emission deduplicates downstream.
	IdempotencyKey string          `json:"idempotency_key" validate:"required"`
	EventType      EventType       `json:"event_type"      validate:"required"`
	Version        int             `json:"version"         validate:"required,min=1"`
	OccurredAt     time.Time       `json:"occurred_at"     validate:"required"`
	RunID          string          `json:"run_id"          validate:"required"`
	WorkflowID     string          `json:"workflow_id,omitempty"`
	Payload        json.RawMessage `json:"payload"         validate:"required"`
	Producer       string          `json:"producer"        validate:"required"`
}

// Validate checks if the event envelope meets all requirements.
func (e *EventEnvelope) Validate() error {
	return validate.Struct(e)
}

// ToEnvelope converts the domain event to the generic sink envelope.
func (e EventEnvelope) ToEnvelope() events.Envelope {
	return events.Envelope{
		ID:             e.IdempotencyKey,
		Type:           string(e.EventType),
		Source:         e.Producer,
		Version:        fmt.Sprintf("%d.0.0", e.Version),
		Timestamp:      e.OccurredAt,
		IdempotencyKey: e.IdempotencyKey,
		WorkflowID:     e.WorkflowID,
		RunID:          e.RunID,
		Payload:        e.Payload,
	}
}

// ScoreCompletedPayload summarizes a score's final metrics.
// NaN metrics are omitted rather than encoded.
type ScoreCompletedPayload struct {
	ScoreID              string   `json:"score_id"  validate:"required"`
	ScoreName            string   `json:"score_name" validate:"required"`
	Accuracy             *float64 `json:"accuracy,omitempty"`
	Precision            *float64 `json:"precision,omitempty"`
	Recall               *float64 `json:"recall,omitempty"`
	AgreementCoefficient *float64 `json:"agreement_coefficient,omitempty"`
	TotalResults         int      `json:"total_results"  validate:"min=0"`
	ComparedItems        int      `json:"compared_items" validate:"min=0"`
	SkippedItems         int      `json:"skipped_items"  validate:"min=0"`
	FailedItems          int      `json:"failed_items"   validate:"min=0"`
}

// RunCompletedPayload summarizes a finished run.
type RunCompletedPayload struct {
	Partial    bool  `json:"partial"`
	Processed  int64 `json:"processed"   validate:"min=0"`
	Scores     int   `json:"scores"      validate:"min=0"`
	DurationMs int64 `json:"duration_ms" validate:"min=0"`
}

// RunFailedPayload carries the error that failed the run.
type RunFailedPayload struct {
	Error     string `json:"error"     validate:"required"`
	Processed int64  `json:"processed" validate:"min=0"`
}

// GenerateIdempotencyKey creates a deterministic key for event deduplication:
// H(run_id || ":" || score_id || ":" || event_type).
func GenerateIdempotencyKey(runID, scoreID string, eventType EventType) string {
	hasher := sha256.New()
	hasher.Write([]byte(runID + ":" + scoreID + ":" + string(eventType)))
	return hex.EncodeToString(hasher.Sum(nil))
}

// NewScoreCompletedEvent builds the completion event for one score.
func NewScoreCompletedEvent(runID string, snap MetricsSnapshot, now time.Time) (EventEnvelope, error) {
	payload := SummarizeSnapshot(snap)
	if err := validate.Struct(payload); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid score completed payload: %w", err)
	}
	return newEnvelope(EventTypeScoreCompleted, runID, snap.ScoreID, payload, "aggregation", now)
}

// NewRunCompletedEvent builds the run completion event.
func NewRunCompletedEvent(runID string, payload RunCompletedPayload, now time.Time) (EventEnvelope, error) {
	if err := validate.Struct(payload); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid run completed payload: %w", err)
	}
	return newEnvelope(EventTypeRunCompleted, runID, "", payload, "evaluation", now)
}

// NewRunFailedEvent builds the run failure event.
func NewRunFailedEvent(runID string, payload RunFailedPayload, now time.Time) (EventEnvelope, error) {
	if err := validate.Struct(payload); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid run failed payload: %w", err)
	}
	return newEnvelope(EventTypeRunFailed, runID, "", payload, "evaluation", now)
}

func newEnvelope(eventType EventType, runID, scoreID string, payload any, producer string, now time.Time) (EventEnvelope, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	envelope := EventEnvelope{
		IdempotencyKey: GenerateIdempotencyKey(runID, scoreID, eventType),
		EventType:      eventType,
		Version:        1,
		OccurredAt:     now,
		RunID:          runID,
		Payload:        payloadJSON,
		Producer:       producer,
	}
	if err := envelope.Validate(); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid event envelope: %w", err)
	}
	return envelope, nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
