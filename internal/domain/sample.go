package domain

import (
	"fmt"
	"strings"
)

// SampleRecord is one row of input. It is read-only for the duration of a run.
type SampleRecord struct {
	ID       string            `json:"id"                 validate:"required"`
	Text     string            `json:"text"`
	Metadata map[string]any    `json:"metadata,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Validate checks that the sample can be scored.
func (s SampleRecord) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSample, err)
	}
	return nil
}

// Label returns the ground truth for a score. Explicit Labels win; otherwise
// the metadata columns "<score> label" and "label" are consulted in that order.
func (s SampleRecord) Label(scoreName string) (string, bool) {
	if v, ok := s.Labels[scoreName]; ok {
		return v, true
	}
	for _, key := range []string{scoreName + " label", strings.ToLower(scoreName) + " label", "label"} {
		raw, ok := s.Metadata[key]
		if !ok || raw == nil {
			continue
		}
		if str, ok := raw.(string); ok {
			return str, true
		}
		return fmt.Sprint(raw), true
	}
	return "", false
}

// Clone returns a deep-enough copy for handing to external predictors.
func (s SampleRecord) Clone() SampleRecord {
	return SampleRecord{
		ID:       s.ID,
		Text:     s.Text,
		Metadata: cloneMetadata(s.Metadata),
		Labels:   cloneStringMap(s.Labels),
	}
}
