package retrieval

import (
	"sort"
	"strings"
)

const (
	rerankSimilarityWeight = 0.5
	rerankImportanceWeight = 0.3
	rerankLexicalWeight    = 0.2
)

// Rerankable is the minimal shape rerank.go needs from a candidate result;
// Pipeline.Run builds one per candidate.
type Rerankable struct {
	ID         int64
	Content    string
	Similarity float64
	Importance float64
}

// lexicalOverlap returns the Jaccard similarity between the token sets of
// query and content: |intersection| / |union|, 0 when either side is empty.
func lexicalOverlap(query, content string) float64 {
	return jaccard(tokenSet(query), tokenSet(content))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// rerankScore computes the base cross-encoder-style blend of similarity,
// importance, and lexical overlap with the query, before diversity
// penalties are applied.
func rerankScore(query string, r Rerankable) float64 {
	overlap := lexicalOverlap(query, r.Content)
	return rerankSimilarityWeight*r.Similarity +
		rerankImportanceWeight*r.Importance +
		rerankLexicalWeight*overlap
}

// RerankedResult pairs a candidate with its final post-diversity score,
// leaving the candidate's own fields (including Similarity) untouched.
type RerankedResult struct {
	Rerankable
	Score float64
}

// Rerank reorders candidates by rerankScore, then greedily penalizes items
// whose content is near-duplicate (by Jaccard overlap) to a
// higher-ranked, already-selected item: score *= (1 - maxJaccard*penalty).
// The penalty pass is a single greedy, order-dependent walk in base-score
// order (a maximal-marginal-relevance style pass); the penalized scores
// are then sorted once more to give the returned order.
func Rerank(query string, candidates []Rerankable, penalty float64) []RerankedResult {
	type scored struct {
		item  Rerankable
		score float64
		toks  map[string]struct{}
	}

	working := make([]scored, len(candidates))
	for i, c := range candidates {
		working[i] = scored{item: c, score: rerankScore(query, c), toks: tokenSet(c.Content)}
	}
	sort.SliceStable(working, func(i, j int) bool {
		return working[i].score > working[j].score
	})

	selected := make([]scored, 0, len(working))
	for _, cand := range working {
		maxJ := 0.0
		for _, prev := range selected {
			j := jaccard(cand.toks, prev.toks)
			if j > maxJ {
				maxJ = j
			}
		}
		cand.score *= 1 - maxJ*penalty
		selected = append(selected, cand)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].score > selected[j].score
	})

	out := make([]RerankedResult, len(selected))
	for i, s := range selected {
		out[i] = RerankedResult{Rerankable: s.item, Score: s.score}
	}
	return out
}
