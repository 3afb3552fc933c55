package expand

import "testing"

func TestExpandSubstitutesSynonyms(t *testing.T) {
	variants := Expand("I love chocolate", 2, false)
	if len(variants) == 0 {
		t.Fatal("expected at least one expansion for a known synonym")
	}
	for _, v := range variants {
		if v == "I love chocolate" {
			t.Fatal("expected substituted variant, not the original, when includeOriginal=false")
		}
	}
}

func TestExpandIncludesOriginalWhenRequested(t *testing.T) {
	variants := Expand("I love chocolate", 1, true)
	if variants[0] != "I love chocolate" {
		t.Fatalf("expected original query first, got %v", variants)
	}
}

func TestExpandNoQualifyingTokensReturnsJustOriginal(t *testing.T) {
	variants := Expand("a an the", 2, true)
	if len(variants) != 1 || variants[0] != "a an the" {
		t.Fatalf("expected only the original for no qualifying tokens, got %v", variants)
	}
}

func TestExpandNoQualifyingTokensExcludeOriginalReturnsEmpty(t *testing.T) {
	variants := Expand("a an the", 2, false)
	if len(variants) != 0 {
		t.Fatalf("expected empty result, got %v", variants)
	}
}

func TestExpandRespectsMaxExpansions(t *testing.T) {
	variants := Expand("I love chocolate and want happy things", 2, false)
	if len(variants) > 2 {
		t.Fatalf("expected at most 2 expansions, got %d: %v", len(variants), variants)
	}
}

func TestDecomposeSplitsOnConnectives(t *testing.T) {
	parts := Decompose("chocolate ice cream and vanilla cake")
	want := []string{"chocolate ice cream", "vanilla cake"}
	if len(parts) != len(want) {
		t.Fatalf("Decompose() = %v, want %v", parts, want)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("Decompose()[%d] = %q, want %q", i, parts[i], want[i])
		}
	}
}

func TestDecomposeReturnsOriginalWhenFewerThanTwoParts(t *testing.T) {
	parts := Decompose("chocolate")
	if len(parts) != 1 || parts[0] != "chocolate" {
		t.Fatalf("Decompose() = %v, want original wrapped", parts)
	}
}

func TestDecomposeDropsShortParts(t *testing.T) {
	// Splitting on "or" leaves "it" and "cake", both <=5 chars after
	// trimming, so no part qualifies and Decompose falls back to the
	// original.
	parts := Decompose("it or cake")
	if len(parts) != 1 || parts[0] != "it or cake" {
		t.Fatalf("Decompose() = %v, want original fallback", parts)
	}
}
