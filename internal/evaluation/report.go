package evaluation

import (
	"slices"
	"strings"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/dispatch"
	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

// Report is the outcome of a run.
type Report struct {
	RunID     string
	Status    domain.RunStatus
	Partial   bool
	Processed int64
	// Snapshots holds the final metrics of every score, keyed by score name.
	Snapshots map[string]domain.MetricsSnapshot
	Stats     dispatch.Stats
	Err       error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time between start and finish.
func (r *Report) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary converts the report into its serializable form, with scores
// ordered by name.
func (r *Report) Summary() domain.EvaluationSummary {
	s := domain.EvaluationSummary{
		RunID:     r.RunID,
		Status:    r.Status,
		Partial:   r.Partial,
		Processed: r.Processed,
		Scores:    make([]domain.ScoreCompletedPayload, 0, len(r.Snapshots)),
	}
	for _, snap := range r.Snapshots {
		s.Scores = append(s.Scores, domain.SummarizeSnapshot(snap))
	}
	slices.SortFunc(s.Scores, func(a, b domain.ScoreCompletedPayload) int {
		return strings.Compare(a.ScoreName, b.ScoreName)
	})
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}
