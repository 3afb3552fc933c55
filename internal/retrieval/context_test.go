package retrieval

import "testing"

func TestEstimateTokensCeilingDivision(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"a":    1,
		"abcd": 1,
		"abcde": 2,
	}
	for s, want := range cases {
		if got := estimateTokens(s); got != want {
			t.Fatalf("estimateTokens(%q) = %d, want %d", s, got, want)
		}
	}
}

func TestPackContextOrdersByBlendedScore(t *testing.T) {
	candidates := []ContextCandidate{
		{ID: 1, Content: "short", Relevance: 0.2, Importance: 0.1},
		{ID: 2, Content: "short", Relevance: 0.9, Importance: 0.9},
	}
	out := PackContext(candidates, 2000, 0.3, 0.0)
	if len(out) != 2 || out[0].ID != 2 {
		t.Fatalf("expected id 2 first, got %+v", out)
	}
}

func TestPackContextRespectsTokenBudget(t *testing.T) {
	big := make([]byte, 4000)
	for i := range big {
		big[i] = 'x'
	}
	candidates := []ContextCandidate{
		{ID: 1, Content: string(big), Relevance: 0.9, Importance: 0.9},
		{ID: 2, Content: "small", Relevance: 0.8, Importance: 0.8},
	}
	out := PackContext(candidates, 1000, 0.3, 0.0)
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("expected only the first big item to fit, got %+v", out)
	}
}

func TestPackContextSkipsOversizeAndFillsWithSmaller(t *testing.T) {
	big := make([]byte, 8000)
	for i := range big {
		big[i] = 'x'
	}
	candidates := []ContextCandidate{
		{ID: 1, Content: string(big), Relevance: 0.9, Importance: 0.9},
		{ID: 2, Content: "small enough", Relevance: 0.85, Importance: 0.85},
	}
	out := PackContext(candidates, 100, 0.3, 0.0)
	if len(out) != 1 || out[0].ID != 2 {
		t.Fatalf("expected oversize item 1 skipped, item 2 packed: %+v", out)
	}
}

func TestPackContextExcludesBelowMinRelevance(t *testing.T) {
	candidates := []ContextCandidate{
		{ID: 1, Content: "x", Relevance: 0.1, Importance: 0.9},
		{ID: 2, Content: "x", Relevance: 0.5, Importance: 0.5},
	}
	out := PackContext(candidates, 2000, 0.3, 0.3)
	if len(out) != 1 || out[0].ID != 2 {
		t.Fatalf("expected only id 2 to pass minRelevance filter, got %+v", out)
	}
}

func TestPackContextDefaultBudgetWhenNonPositive(t *testing.T) {
	candidates := []ContextCandidate{{ID: 1, Content: "hi", Relevance: 0.9, Importance: 0.9}}
	out := PackContext(candidates, 0, 0.3, 0.0)
	if len(out) != 1 {
		t.Fatalf("expected default budget to admit a small candidate, got %+v", out)
	}
}
