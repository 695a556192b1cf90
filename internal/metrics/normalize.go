// Package metrics computes classification-quality metrics over scored results.
//
// Every function is pure and safe for concurrent use. Labels are normalized
// before any comparison, so "Yes", " yes " and "YES" count as one class and
// every null-like spelling collapses into NA. Undefined ratios (no pairs to
// compare) are reported as NaN rather than 0 so that an empty score cannot
// be mistaken for a perfectly wrong one; dashboards render NaN as missing.
package metrics

import "strings"

// NA is the canonical token for missing or null-like labels. Predictors and
// labelling tools disagree on how to spell "no value", so every variant in
// nullVariants is mapped here before labels are compared or counted.
const NA = "na"

var nullVariants = map[string]struct{}{
	"":     {},
	"nan":  {},
	"n/a":  {},
	"none": {},
	"null": {},
	NA:     {},
}

// Normalize lowercases and trims a raw label and collapses null variants to NA.
// It is the only place label identity is decided: matching, confusion matrix
// rows and distributions all key on the normalized form, which keeps them
// consistent with each other.
func Normalize(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if _, ok := nullVariants[l]; ok {
		return NA
	}
	return l
}

// Equal reports whether two labels match after normalization. The dispatcher
// uses it to decide the per-result "correct" flag, so the flag always agrees
// with Accuracy.
func Equal(a, b string) bool { return Normalize(a) == Normalize(b) }

// Pair is one predicted/actual comparison. Values are raw; every function in
// this package normalizes them itself.
type Pair struct {
	Predicted string
	Actual    string
}

// normalizePairs returns a normalized copy.
func normalizePairs(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		out[i] = Pair{Predicted: Normalize(p.Predicted), Actual: Normalize(p.Actual)}
	}
	return out
}

func labelSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[Normalize(l)] = struct{}{}
	}
	return set
}
