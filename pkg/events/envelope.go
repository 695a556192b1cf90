// Package events carries domain events from the engine to downstream
// consumers. Producers build an Envelope and hand it to an EventSink.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope wraps one domain event with the metadata consumers route and
// deduplicate on.
type Envelope struct {
	// ID identifies this event instance.
	ID string `json:"id"`

	// Type names the event, e.g. "evaluation.score_completed".
	Type string `json:"type"`

	// Source names the emitting component, e.g. "aggregation".
	Source string `json:"source"`

	// Version is the payload schema version, e.g. "1.0.0".
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across retries of the same emission.
	IdempotencyKey string `json:"idempotency_key"`

	// WorkflowID is set when the event was produced inside a Temporal workflow.
	WorkflowID string `json:"workflow_id,omitempty"`

	// RunID is the evaluation run the event belongs to.
	RunID string `json:"run_id"`

	// Payload is the event body as JSON; its schema depends on Type and Version.
	Payload json.RawMessage `json:"payload"`
}

// EventSink receives events for downstream consumers.
type EventSink interface {
	// Append queues an event. Sinks treat a repeated idempotency key as a
	// no-op where they can. Callers never fail their own work on an error.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.Append.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a sink that discards events.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
