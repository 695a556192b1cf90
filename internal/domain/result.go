package domain

import (
	"fmt"
	"time"
)

// Display values used when a non-OK outcome is rendered as a plain string.
const (
	ValueSkipped = "SKIPPED"
	ValueError   = "ERROR"
)

// Metadata keys the orchestrator writes onto results.
const (
	MetaHumanLabel = "human_label"
	MetaCorrect    = "correct"
)

// Outcome tags a ScoreResult as a prediction, a skip, or a failure.
type Outcome uint8

const (
	// OutcomeOK means the predictor produced a value.
	OutcomeOK Outcome = iota
	// OutcomeSkipped means a dependency condition was not met; predict never ran.
	OutcomeSkipped
	// OutcomeFailed means predict returned an error, timed out, or exhausted retries.
	OutcomeFailed
)

// String returns a lowercase name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Prediction is what an external predictor returns for one score.
type Prediction struct {
	ScoreName   string         `json:"score_name,omitempty"`
	Value       string         `json:"value"`
	Explanation string         `json:"explanation,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ScoreResult is the outcome of one score for one sample.
// Results are immutable once produced; constructors copy their inputs.
type ScoreResult struct {
	SampleID    string         `json:"sample_id"`
	ScoreID     string         `json:"score_id"`
	ScoreName   string         `json:"score_name"`
	Outcome     Outcome        `json:"outcome"`
	Value       string         `json:"value,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	SkipReason  string         `json:"skip_reason,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// NewOKResult builds a result from a prediction.
func NewOKResult(sampleID string, node ScoreNode, p Prediction) ScoreResult {
	var conf *float64
	if p.Confidence != nil {
		c := *p.Confidence
		conf = &c
	}
	return ScoreResult{
		SampleID:    sampleID,
		ScoreID:     node.ID,
		ScoreName:   node.Name,
		Outcome:     OutcomeOK,
		Value:       p.Value,
		Explanation: p.Explanation,
		Confidence:  conf,
		Metadata:    cloneMetadata(p.Metadata),
		CompletedAt: time.Now(),
	}
}

// NewSkippedResult builds the synthetic result for a score whose condition failed.
func NewSkippedResult(sampleID string, node ScoreNode, reason string) ScoreResult {
	return ScoreResult{
		SampleID:    sampleID,
		ScoreID:     node.ID,
		ScoreName:   node.Name,
		Outcome:     OutcomeSkipped,
		SkipReason:  reason,
		CompletedAt: time.Now(),
	}
}

// NewFailedResult builds the result recorded when predict fails.
func NewFailedResult(sampleID string, node ScoreNode, err error) ScoreResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ScoreResult{
		SampleID:    sampleID,
		ScoreID:     node.ID,
		ScoreName:   node.Name,
		Outcome:     OutcomeFailed,
		Error:       msg,
		CompletedAt: time.Now(),
	}
}

// WithGroundTruth returns a copy carrying the human label and whether the
// prediction matched it under the given comparison.
func (r ScoreResult) WithGroundTruth(label string, equal func(a, b string) bool) ScoreResult {
	out := r
	out.Metadata = cloneMetadata(r.Metadata)
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 2)
	}
	out.Metadata[MetaHumanLabel] = label
	if r.Outcome == OutcomeOK {
		out.Metadata[MetaCorrect] = equal(r.Value, label)
	}
	return out
}

// DisplayValue renders the value with the SKIPPED / ERROR sentinels.
func (r ScoreResult) DisplayValue() string {
	switch r.Outcome {
	case OutcomeSkipped:
		return ValueSkipped
	case OutcomeFailed:
		return ValueError
	default:
		return r.Value
	}
}

// HumanLabel returns the ground truth attached to the result, if any.
func (r ScoreResult) HumanLabel() (string, bool) {
	if r.Metadata == nil {
		return "", false
	}
	raw, ok := r.Metadata[MetaHumanLabel]
	if !ok || raw == nil {
		return "", false
	}
	if s, ok := raw.(string); ok {
		return s, true
	}
	return fmt.Sprint(raw), true
}

// Correct reports the comparison recorded by WithGroundTruth.
func (r ScoreResult) Correct() (bool, bool) {
	if r.Metadata == nil {
		return false, false
	}
	c, ok := r.Metadata[MetaCorrect].(bool)
	return c, ok
}

// IsComparable reports whether the result takes part in metrics:
// an OK outcome with ground truth attached.
func (r ScoreResult) IsComparable() bool {
	if r.Outcome != OutcomeOK {
		return false
	}
	_, ok := r.HumanLabel()
	return ok
}
