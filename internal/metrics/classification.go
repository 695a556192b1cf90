package metrics

import (
	"math"
	"sort"
)

// Accuracy returns matches/total over normalized pairs. With no pairs the
// result is NaN: nothing was compared, which differs from 0% correct.
func Accuracy(pairs []Pair) float64 {
	if len(pairs) == 0 {
		return math.NaN()
	}
	matches := 0
	for _, p := range normalizePairs(pairs) {
		if p.Predicted == p.Actual {
			matches++
		}
	}
	return float64(matches) / float64(len(pairs))
}

// BinaryPrecisionRecall treats every label in positives as the positive class
// and everything else, NA included, as negative. Scores such as compliance
// checks declare their positive labels so that precision answers "when we
// flag, are we right" rather than averaging over the negative class too.
//
// A zero denominator yields 0, not NaN: a score that never flags has no
// precision worth reporting, and 0 keeps F1 defined.
func BinaryPrecisionRecall(pairs []Pair, positives []string) (precision, recall float64) {
	pos := labelSet(positives)
	var tp, fp, fn int
	for _, p := range normalizePairs(pairs) {
		_, predPos := pos[p.Predicted]
		_, actPos := pos[p.Actual]
		switch {
		case predPos && actPos:
			tp++
		case predPos:
			fp++
		case actPos:
			fn++
		}
	}
	return ratio(tp, tp+fp), ratio(tp, tp+fn)
}

// MacroPrecisionRecall averages one-vs-rest precision and recall over every
// class observed in either the predicted or the actual labels. Classes only
// ever predicted (never in ground truth) are included; they pull precision
// down, which is the signal a hallucinated label should give. It is used when
// a score declares no positive labels.
func MacroPrecisionRecall(pairs []Pair) (precision, recall float64) {
	norm := normalizePairs(pairs)
	classes := observedLabels(norm)
	if len(classes) == 0 {
		return 0, 0
	}
	var pSum, rSum float64
	for _, c := range classes {
		var tp, fp, fn int
		for _, p := range norm {
			switch {
			case p.Predicted == c && p.Actual == c:
				tp++
			case p.Predicted == c:
				fp++
			case p.Actual == c:
				fn++
			}
		}
		pSum += ratio(tp, tp+fp)
		rSum += ratio(tp, tp+fn)
	}
	n := float64(len(classes))
	return pSum / n, rSum / n
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0. NaN in
// either input propagates so an undefined metric never looks like a score.
func F1(precision, recall float64) float64 {
	if math.IsNaN(precision) || math.IsNaN(recall) {
		return math.NaN()
	}
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// observedLabels returns the sorted union of predicted and actual labels.
// Pairs must already be normalized.
func observedLabels(pairs []Pair) []string {
	seen := make(map[string]struct{}, 8)
	for _, p := range pairs {
		seen[p.Predicted] = struct{}{}
		seen[p.Actual] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
