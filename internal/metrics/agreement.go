package metrics

import "math"

// AC1Policy decides what GwetAC1 returns when chance agreement is total.
// That case arises when the two raters together use the categories in a way
// that makes p_e equal 1, so the coefficient's denominator is zero.
type AC1Policy uint8

const (
	// AC1NaN reports an undefined coefficient as NaN.
	AC1NaN AC1Policy = iota
	// AC1Zero reports an undefined coefficient as 0.
	AC1Zero
)

// GwetAC1 computes Gwet's first-order agreement coefficient between two raters.
//
//	p_o  = matches / n
//	pi_c = (count1(c) + count2(c)) / 2n
//	p_e  = sum(pi_c * (1 - pi_c)) / (k - 1)
//	AC1  = (p_o - p_e) / (1 - p_e)
//
// AC1 is used instead of Cohen's kappa because it stays stable when one class
// dominates, which is the normal shape of evaluation data (most calls are
// "no"). n == 0 yields NaN and a single observed category yields 1: raters
// that only ever agree on one label are in full agreement. Sequences of
// different length are compared over the shorter prefix.
func GwetAC1(rater1, rater2 []string, policy AC1Policy) float64 {
	n := min(len(rater1), len(rater2))
	if n == 0 {
		return math.NaN()
	}

	counts := make(map[string]int, 8)
	matches := 0
	for i := range n {
		a, b := Normalize(rater1[i]), Normalize(rater2[i])
		counts[a]++
		counts[b]++
		if a == b {
			matches++
		}
	}

	k := len(counts)
	// One category: p_e below would divide by k-1 == 0.
	if k <= 1 {
		return 1.0
	}

	po := float64(matches) / float64(n)
	var sum float64
	for _, c := range counts {
		pi := float64(c) / float64(2*n)
		sum += pi * (1 - pi)
	}
	pe := sum / float64(k-1)

	// Total chance agreement leaves AC1 undefined; the policy decides how
	// that surfaces.
	if 1-pe == 0 {
		if policy == AC1Zero {
			return 0
		}
		return math.NaN()
	}
	return (po - pe) / (1 - pe)
}

// AgreementPercent maps AC1 onto a 0-100 display scale. Negative values
// (agreement worse than chance) are clamped to 0 because the dashboard gauge
// has no negative range; NaN passes through so the gauge shows no value.
func AgreementPercent(ac1 float64) float64 {
	if math.IsNaN(ac1) {
		return math.NaN()
	}
	if ac1 < 0 {
		return 0
	}
	return ac1 * 100
}
