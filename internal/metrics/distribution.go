package metrics

import (
	"sort"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

// BuildConfusionMatrix counts normalized actual (row) against predicted
// (column) labels. The label axis is the sorted union of both sides, so the
// matrix is square and a label seen only in predictions still gets a row of
// zeros; the dashboard renders it without reshaping.
func BuildConfusionMatrix(pairs []Pair) domain.ConfusionMatrix {
	norm := normalizePairs(pairs)
	labels := observedLabels(norm)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}
	for _, p := range norm {
		matrix[index[p.Actual]][index[p.Predicted]]++
	}
	return domain.ConfusionMatrix{Labels: labels, Matrix: matrix}
}

// Distribution counts normalized labels and their share of the total, sorted
// by label for a stable rendering order. An empty input yields an empty,
// non-nil slice so it serializes as [] rather than null.
func Distribution(values []string) []domain.DistributionEntry {
	if len(values) == 0 {
		return []domain.DistributionEntry{}
	}
	counts := make(map[string]int, 8)
	for _, v := range values {
		counts[Normalize(v)]++
	}
	entries := make([]domain.DistributionEntry, 0, len(counts))
	total := float64(len(values))
	for label, count := range counts {
		entries = append(entries, domain.DistributionEntry{
			Label:      label,
			Count:      count,
			Percentage: float64(count) / total * 100,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries
}
