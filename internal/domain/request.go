package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// EvaluationRequest is the durable input for one scorecard evaluation.
type EvaluationRequest struct {
	// RunID identifies the run on the dashboard. Generated when empty.
	RunID     string         `json:"run_id"               validate:"omitempty,min=1"`
	Scorecard Scorecard      `json:"scorecard"            validate:"-"`
	Samples   []SampleRecord `json:"samples"              validate:"required,min=1,dive"`
	// Scores limits the run to these score names plus their prerequisites.
	// Empty means the whole scorecard.
	Scores []string `json:"scores,omitempty"`
}

// NewEvaluationRequest creates a request with a fresh run id.
func NewEvaluationRequest(card Scorecard, samples []SampleRecord, scores ...string) (*EvaluationRequest, error) {
	req := &EvaluationRequest{
		RunID:     uuid.New().String(),
		Scorecard: card,
		Samples:   samples,
		Scores:    scores,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the request and its scorecard.
func (r *EvaluationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := r.Scorecard.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// EvaluationSummary is the durable output of a run. Every metric is
// pointer-valued so undefined values survive JSON encoding.
type EvaluationSummary struct {
	RunID     string                  `json:"run_id"`
	Status    RunStatus               `json:"status"`
	Partial   bool                    `json:"partial"`
	Processed int64                   `json:"processed"`
	Scores    []ScoreCompletedPayload `json:"scores"`
	Error     string                  `json:"error,omitempty"`
}

// SummarizeSnapshot converts a snapshot into its JSON-safe summary form.
func SummarizeSnapshot(snap MetricsSnapshot) ScoreCompletedPayload {
	return ScoreCompletedPayload{
		ScoreID:              snap.ScoreID,
		ScoreName:            snap.ScoreName,
		Accuracy:             finite(snap.Accuracy),
		Precision:            finite(snap.Precision),
		Recall:               finite(snap.Recall),
		AgreementCoefficient: finite(snap.AgreementCoefficient),
		TotalResults:         snap.TotalResults,
		ComparedItems:        snap.ComparedItems,
		SkippedItems:         snap.SkippedItems,
		FailedItems:          snap.FailedItems,
	}
}
