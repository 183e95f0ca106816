package retrieval

import "github.com/hyperjump/lumimind/internal/models"

// Quality scores a retrieval result, each in [0,1].
type Quality struct {
	// Relevance is the mean hit score.
	Relevance float64 `json:"relevance"`
	// Coverage is the share of the requested top-k that was filled.
	Coverage float64 `json:"coverage"`
	// Diversity is the share of hits coming from distinct documents.
	Diversity float64 `json:"diversity"`
}

// Evaluate scores result against the requested topK.
func Evaluate(result models.RetrievalResult, topK int) Quality {
	n := len(result.Hits)
	if n == 0 || topK <= 0 {
		return Quality{}
	}
	var sum float64
	docs := make(map[string]bool, n)
	for _, h := range result.Hits {
		sum += h.Score
		docs[h.Provenance.DocumentID] = true
	}
	coverage := float64(n) / float64(topK)
	if coverage > 1 {
		coverage = 1
	}
	return Quality{
		Relevance: sum / float64(n),
		Coverage:  coverage,
		Diversity: float64(len(docs)) / float64(n),
	}
}
