package metrics

import (
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

// Options tunes Compute. The zero value computes macro precision/recall and
// reports an undefined AC1 as NaN.
type Options struct {
	// PositiveLabels switches precision/recall to binary mode. Empty means macro.
	PositiveLabels []string
	AC1Policy      AC1Policy
	// Now stamps ComputedAt; defaults to time.Now.
	Now func() time.Time
}

// Compute derives a full snapshot from every result recorded for a score.
//
// Skipped and failed results are counted but never compared: a skip means the
// score did not apply to the sample and a failure carries no label. OK results
// without ground truth are left out of every metric and distribution, since
// there is nothing to compare them against.
//
// Compute always works from the full result list rather than updating a
// running total. Aggregators call it on every tick, and recomputing keeps the
// snapshot exact regardless of the order results arrived in.
func Compute(scoreID, scoreName string, results []domain.ScoreResult, opts Options) domain.MetricsSnapshot {
	snap := domain.MetricsSnapshot{
		ScoreID:      scoreID,
		ScoreName:    scoreName,
		TotalResults: len(results),
	}

	pairs := make([]Pair, 0, len(results))
	for _, r := range results {
		switch r.Outcome {
		case domain.OutcomeSkipped:
			snap.SkippedItems++
			continue
		case domain.OutcomeFailed:
			snap.FailedItems++
			continue
		}
		actual, ok := r.HumanLabel()
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Predicted: r.Value, Actual: actual})
	}
	snap.ComparedItems = len(pairs)

	// AC1 and the distributions take parallel slices of the compared pairs.

	predicted := make([]string, len(pairs))
	actual := make([]string, len(pairs))
	for i, p := range pairs {
		predicted[i] = p.Predicted
		actual[i] = p.Actual
	}

	snap.Accuracy = Accuracy(pairs)
	if len(opts.PositiveLabels) > 0 {
		snap.Precision, snap.Recall = BinaryPrecisionRecall(pairs, opts.PositiveLabels)
	} else {
		snap.Precision, snap.Recall = MacroPrecisionRecall(pairs)
	}
	snap.AgreementCoefficient = GwetAC1(predicted, actual, opts.AC1Policy)
	snap.ConfusionMatrix = BuildConfusionMatrix(pairs)
	snap.PredictedDistribution = Distribution(predicted)
	snap.ActualDistribution = Distribution(actual)

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	snap.ComputedAt = now()
	return snap
}
