// Package dashboard pushes per-score metric updates to the reporting
// backend and guarantees an ordered, at-most-once final update per score.
package dashboard

import (
	"fmt"
	"math"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/metrics"
)

// Metric names shown on the dashboard.
const (
	MetricAlignment = "Alignment"
	MetricAccuracy  = "Accuracy"
	MetricPrecision = "Precision"
	MetricRecall    = "Recall"
)

// NamedMetric is one percentage figure on the dashboard.
type NamedMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Progress describes how far a score has got.
type Progress struct {
	Processed int64
	Total     int64
	// EstimatedRemaining is nil when no estimate is available.
	EstimatedRemaining *time.Duration
}

// ScoreUpdate is the full-replace document written for one score of one
// run. Percentages are on a 0-100 scale; undefined metrics are omitted.
type ScoreUpdate struct {
	RunID                     string                     `json:"runId"`
	ScoreID                   string                     `json:"scoreId"`
	ScoreName                 string                     `json:"scoreName"`
	Status                    domain.ScoreStatus         `json:"status"`
	Accuracy                  *float64                   `json:"accuracy,omitempty"`
	Metrics                   []NamedMetric              `json:"metrics"`
	ConfusionMatrix           *domain.ConfusionMatrix    `json:"confusionMatrix,omitempty"`
	PredictedDistribution     []domain.DistributionEntry `json:"predictedClassDistribution"`
	DatasetDistribution       []domain.DistributionEntry `json:"datasetClassDistribution"`
	ProcessedItems            int64                      `json:"processedItems"`
	TotalItems                int64                      `json:"totalItems"`
	EstimatedRemainingSeconds *int64                     `json:"estimatedRemainingSeconds,omitempty"`
	UpdatedAt                 time.Time                  `json:"updatedAt"`
}

// NewScoreUpdate renders a snapshot for the dashboard.
func NewScoreUpdate(runID string, status domain.ScoreStatus, snap domain.MetricsSnapshot, progress Progress) ScoreUpdate {
	u := ScoreUpdate{
		RunID:                 runID,
		ScoreID:               snap.ScoreID,
		ScoreName:             snap.ScoreName,
		Status:                status,
		Accuracy:              percent(snap.Accuracy),
		Metrics:               make([]NamedMetric, 0, 4),
		PredictedDistribution: snap.PredictedDistribution,
		DatasetDistribution:   snap.ActualDistribution,
		ProcessedItems:        progress.Processed,
		TotalItems:            progress.Total,
		UpdatedAt:             snap.ComputedAt,
	}
	if len(snap.ConfusionMatrix.Labels) > 0 {
		cm := snap.ConfusionMatrix
		u.ConfusionMatrix = &cm
	}
	if u.PredictedDistribution == nil {
		u.PredictedDistribution = []domain.DistributionEntry{}
	}
	if u.DatasetDistribution == nil {
		u.DatasetDistribution = []domain.DistributionEntry{}
	}

	u.addMetric(MetricAlignment, metrics.AgreementPercent(snap.AgreementCoefficient))
	if u.Accuracy != nil {
		u.addMetric(MetricAccuracy, *u.Accuracy)
	}
	u.addMetric(MetricPrecision, snap.Precision*100)
	u.addMetric(MetricRecall, snap.Recall*100)

	if progress.EstimatedRemaining != nil {
		secs := int64(math.Ceil(progress.EstimatedRemaining.Seconds()))
		if secs < 0 {
			secs = 0
		}
		u.EstimatedRemainingSeconds = &secs
	}
	return u
}

func (u *ScoreUpdate) addMetric(name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	u.Metrics = append(u.Metrics, NamedMetric{Name: name, Value: v})
}

// Metric returns the named metric value.
func (u ScoreUpdate) Metric(name string) (float64, bool) {
	for _, m := range u.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Validate checks the identity fields every backend keys on.
func (u ScoreUpdate) Validate() error {
	if u.RunID == "" || u.ScoreID == "" {
		return fmt.Errorf("%w: run id and score id are required", ErrInvalidUpdate)
	}
	if u.Status != domain.ScoreRunning && u.Status != domain.ScoreCompleted {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, u.Status)
	}
	return nil
}

func percent(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	p := v * 100
	return &p
}
