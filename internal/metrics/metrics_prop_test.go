package metrics

import (
	"math"
	"strings"
	"testing"
	"testing/quick"
)

var alphabet = []string{"yes", "No", " YES", "maybe", "", "N/A", "none"}

func labelsFrom(raw []uint8) []string {
	out := make([]string, len(raw))
	for i, b := range raw {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return out
}

func pairsFrom(a, b []uint8) []Pair {
	pa, pb := labelsFrom(a), labelsFrom(b)
	n := min(len(pa), len(pb))
	pairs := make([]Pair, n)
	for i := range n {
		pairs[i] = Pair{Predicted: pa[i], Actual: pb[i]}
	}
	return pairs
}

// TestNormalizeProperties checks that null variants collapse in any casing
// and that normalization is idempotent for arbitrary input.
func TestNormalizeProperties(t *testing.T) {
	nullish := []string{"", "nan", "n/a", "none", "null", "N/A"}
	casing := func(s string, mask uint8, pad uint8) string {
		var b strings.Builder
		b.WriteString(strings.Repeat(" ", int(pad%3)))
		for i, r := range s {
			if mask&(1<<(uint(i)%8)) != 0 {
				b.WriteString(strings.ToUpper(string(r)))
			} else {
				b.WriteRune(r)
			}
		}
		b.WriteString(strings.Repeat("\t", int(pad%2)))
		return b.String()
	}

	collapse := func(idx, mask, pad uint8) bool {
		s := casing(nullish[int(idx)%len(nullish)], mask, pad)
		return Normalize(s) == NA
	}
	if err := quick.Check(collapse, nil); err != nil {
		t.Error(err)
	}

	idempotent := func(s string) bool {
		return Normalize(Normalize(s)) == Normalize(s)
	}
	if err := quick.Check(idempotent, nil); err != nil {
		t.Error(err)
	}
}

// TestAccuracyBounds checks Accuracy is in [0,1] and NaN only for empty input.
func TestAccuracyBounds(t *testing.T) {
	f := func(a, b []uint8) bool {
		pairs := pairsFrom(a, b)
		acc := Accuracy(pairs)
		if len(pairs) == 0 {
			return math.IsNaN(acc)
		}
		return acc >= 0 && acc <= 1
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// TestGwetAC1Symmetric checks AC1 does not depend on rater order.
func TestGwetAC1Symmetric(t *testing.T) {
	f := func(a, b []uint8) bool {
		r1, r2 := labelsFrom(a), labelsFrom(b)
		x := GwetAC1(r1, r2, AC1NaN)
		y := GwetAC1(r2, r1, AC1NaN)
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.IsNaN(x) && math.IsNaN(y)
		}
		return math.Abs(x-y) < 1e-9
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// TestGwetAC1IdenticalSingleCategory checks trivial agreement is 1.
func TestGwetAC1IdenticalSingleCategory(t *testing.T) {
	f := func(idx uint8, n uint8) bool {
		if n == 0 {
			return true
		}
		label := alphabet[int(idx)%len(alphabet)]
		seq := make([]string, n)
		for i := range seq {
			seq[i] = label
		}
		return GwetAC1(seq, seq, AC1NaN) == 1.0
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// TestConfusionMatrixSums checks row sums against actual-label counts and the
// total against the number of pairs.
func TestConfusionMatrixSums(t *testing.T) {
	f := func(a, b []uint8) bool {
		pairs := pairsFrom(a, b)
		cm := BuildConfusionMatrix(pairs)
		if cm.Total() != len(pairs) {
			return false
		}
		actualCounts := make(map[string]int)
		for _, p := range pairs {
			actualCounts[Normalize(p.Actual)]++
		}
		for i, l := range cm.Labels {
			if cm.RowSum(i) != actualCounts[l] {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// TestDistributionPercentages checks percentages sum to 100 for non-empty input.
func TestDistributionPercentages(t *testing.T) {
	f := func(a []uint8) bool {
		values := labelsFrom(a)
		dist := Distribution(values)
		if len(values) == 0 {
			return len(dist) == 0
		}
		var pct float64
		var count int
		for _, e := range dist {
			pct += e.Percentage
			count += e.Count
		}
		return count == len(values) && math.Abs(pct-100) < 1e-6
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
