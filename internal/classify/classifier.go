// Package classify suggests a department for free-text symptoms. The
// suggestion is advisory only; the store records it verbatim and never
// validates a reservation against it.
package classify

import (
	"context"
	"strings"
)

type Recommendation struct {
	Department string  `json:"department"`
	Confidence float64 `json:"confidence"`
}

type Classifier interface {
	Recommend(ctx context.Context, symptoms string) (Recommendation, bool)
}

// keywordClassifier is the default static lookup. Real deployments can swap
// in a remote model behind the same interface.
type keywordClassifier struct {
	table map[string]string
}

func NewKeywordClassifier() Classifier {
	return keywordClassifier{table: map[string]string{
		"demam":   "Poli Umum",
		"batuk":   "Poli Umum",
		"flu":     "Poli Umum",
		"gigi":    "Poli Gigi",
		"gusi":    "Poli Gigi",
		"mata":    "Poli Mata",
		"kulit":   "Poli Kulit",
		"jantung": "Poli Jantung",
		"dada":    "Poli Jantung",
		"anak":    "Poli Anak",
		"hamil":   "Poli Kandungan",
		"telinga": "Poli THT",
	}}
}

func (c keywordClassifier) Recommend(ctx context.Context, symptoms string) (Recommendation, bool) {
	words := strings.Fields(strings.ToLower(symptoms))
	counts := make(map[string]int)
	for _, word := range words {
		if department, ok := c.table[strings.Trim(word, ".,!?")]; ok {
			counts[department]++
		}
	}
	if len(counts) == 0 {
		return Recommendation{}, false
	}

	best := ""
	bestCount := 0
	total := 0
	for department, count := range counts {
		total += count
		if count > bestCount {
			best = department
			bestCount = count
		}
	}
	return Recommendation{
		Department: best,
		Confidence: float64(bestCount) / float64(total),
	}, true
}
