// Package textnorm normalises free-text answers returned by the classifier.
package textnorm

import (
	"regexp"
	"sort"
	"strings"
)

// NotMentioned is the model name used when no model was reported.
const NotMentioned = "Not mentioned"

var leadingNumber = regexp.MustCompile(`^\d+\s*`)

// modelPatterns are checked in order; the first match wins.
var modelPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`lstm|long short[ -]term memory`), "lstm"},
	{regexp.MustCompile(`gru|gated recurrent unit`), "gru"},
	{regexp.MustCompile(`cnn|convolutional neural network`), "cnn"},
	{regexp.MustCompile(`ann|artificial neural network`), "ann"},
	{regexp.MustCompile(`rnn|recurrent neural network`), "rnn"},
	{regexp.MustCompile(`svm|support vector machine`), "svm"},
	{regexp.MustCompile(`random[ -]?forest`), "random forest"},
	{regexp.MustCompile(`bert|bidirectional encoder`), "bert"},
	{regexp.MustCompile(`gradient[ -]?boost`), "gradient boost"},
	{regexp.MustCompile(`naive[ -]?bayes`), "naive bayes"},
	{regexp.MustCompile(`decision[ -]?tree`), "decision tree"},
	{regexp.MustCompile(`xgboost`), "xgboost"},
	{regexp.MustCompile(`light[ -]?gbm`), "lightgbm"},
}

// NormalizeModel maps a model name to its canonical lowercase form. Unknown
// names are returned lowercased with any leading number removed; blank input
// yields NotMentioned.
func NormalizeModel(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return NotMentioned
	}
	normalized = leadingNumber.ReplaceAllString(normalized, "")

	for _, p := range modelPatterns {
		if p.re.MatchString(normalized) {
			return p.name
		}
	}
	if normalized == "" || normalized == strings.ToLower(NotMentioned) {
		return NotMentioned
	}
	return normalized
}

// ConsolidateCounts merges counts whose keys normalise to the same model.
func ConsolidateCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for model, n := range counts {
		out[NormalizeModel(model)] += n
	}
	return out
}

// Count is a label with its number of occurrences.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopN returns the n most frequent labels, ties broken alphabetically. n <= 0
// returns all of them.
func TopN(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for label, c := range counts {
		out = append(out, Count{Label: label, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
