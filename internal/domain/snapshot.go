package domain

import "time"

// ConfusionMatrix counts actual (row) against predicted (column) labels.
// Labels is sorted; Matrix[i][j] counts actual=Labels[i], predicted=Labels[j].
type ConfusionMatrix struct {
	Labels []string `json:"labels"`
	Matrix [][]int  `json:"matrix"`
}

// Total returns the sum of every cell.
func (c ConfusionMatrix) Total() int {
	total := 0
	for i := range c.Matrix {
		total += c.RowSum(i)
	}
	return total
}

// RowSum returns the number of items whose actual label is Labels[i].
func (c ConfusionMatrix) RowSum(i int) int {
	if i < 0 || i >= len(c.Matrix) {
		return 0
	}
	sum := 0
	for _, n := range c.Matrix[i] {
		sum += n
	}
	return sum
}

// Index returns the row/column index of a label, or -1.
func (c ConfusionMatrix) Index(label string) int {
	for i, l := range c.Labels {
		if l == label {
			return i
		}
	}
	return -1
}

// DistributionEntry is one bar of a label distribution.
type DistributionEntry struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// MetricsSnapshot is the full metric set for one score, always derived
// from every result recorded so far.
type MetricsSnapshot struct {
	ScoreID               string              `json:"score_id"`
	ScoreName             string              `json:"score_name"`
	Accuracy              float64             `json:"accuracy"`
	Precision             float64             `json:"precision"`
	Recall                float64             `json:"recall"`
	AgreementCoefficient  float64             `json:"agreement_coefficient"`
	ConfusionMatrix       ConfusionMatrix     `json:"confusion_matrix"`
	PredictedDistribution []DistributionEntry `json:"predicted_distribution"`
	ActualDistribution    []DistributionEntry `json:"actual_distribution"`

	// TotalResults counts every result seen, including skips and failures.
	TotalResults  int       `json:"total_results"`
	ComparedItems int       `json:"compared_items"`
	SkippedItems  int       `json:"skipped_items"`
	FailedItems   int       `json:"failed_items"`
	ComputedAt    time.Time `json:"computed_at"`
}
