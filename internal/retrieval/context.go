package retrieval

import "sort"

const (
	defaultContextImportanceWeight = 0.3
	defaultContextTokenBudget      = 2000
)

// ContextCandidate is one memory eligible for packing into a context
// window, carrying the signals contextScore needs.
type ContextCandidate struct {
	ID         int64
	Content    string
	Relevance  float64
	Importance float64
}

// estimateTokens approximates token count as ceil(len(s)/4), a common
// cheap heuristic when no tokenizer is available.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// contextScore blends relevance and importance; alpha controls how much
// weight importance carries relative to relevance.
func contextScore(c ContextCandidate, alpha float64) float64 {
	return (1-alpha)*c.Relevance + alpha*c.Importance
}

// PackContext greedily selects candidates, highest contextScore first,
// skipping any candidate whose addition would exceed tokenBudget and
// continuing with the next one. Candidates below
// minRelevance are excluded before scoring. Order of the returned slice
// matches selection order (descending score), not input order.
func PackContext(candidates []ContextCandidate, tokenBudget int, alpha, minRelevance float64) []ContextItem {
	if tokenBudget <= 0 {
		tokenBudget = defaultContextTokenBudget
	}

	type scored struct {
		cand  ContextCandidate
		score float64
	}
	eligible := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.Relevance < minRelevance {
			continue
		}
		eligible = append(eligible, scored{cand: c, score: contextScore(c, alpha)})
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].score > eligible[j].score
	})

	var out []ContextItem
	used := 0
	for _, e := range eligible {
		cost := estimateTokens(e.cand.Content)
		if used+cost > tokenBudget {
			continue
		}
		used += cost
		out = append(out, ContextItem{ID: e.cand.ID, Content: e.cand.Content, Score: e.score})
	}
	return out
}
