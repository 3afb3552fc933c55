// Package expand implements query expansion: static synonym substitution
// and conjunctive decomposition, used by the retrieval pipeline to widen
// recall before dense/sparse search.
package expand

import (
	"regexp"
	"strings"
)

// synonyms is a static English table over common affect and communication
// verbs/adjectives, the vocabulary conversational memories tend to use.
var synonyms = map[string][]string{
	"love":      {"adore", "cherish", "enjoy"},
	"like":      {"enjoy", "appreciate", "prefer"},
	"hate":      {"dislike", "despise", "detest"},
	"happy":     {"glad", "joyful", "content"},
	"sad":       {"unhappy", "down", "blue"},
	"angry":     {"mad", "upset", "furious"},
	"want":      {"desire", "wish", "need"},
	"need":      {"require", "want"},
	"think":     {"believe", "feel", "suppose"},
	"feel":      {"sense", "think"},
	"said":      {"mentioned", "stated", "told"},
	"tell":      {"inform", "mention", "share"},
	"remember":  {"recall", "recollect"},
	"forget":    {"overlook", "miss"},
	"afraid":    {"scared", "worried", "fearful"},
	"excited":   {"thrilled", "eager"},
	"worried":   {"anxious", "concerned", "afraid"},
	"important": {"significant", "crucial", "vital"},
	"favorite":  {"preferred", "best-loved"},
	"dislike":   {"hate", "avoid"},
}

var tokenPattern = regexp.MustCompile(`[A-Za-z]+`)

// Expand produces up to maxExpansions alternate queries, each substituting
// one synonym for one token of length > 3. includeOriginal controls
// whether the unmodified query is also returned. Returns just the
// original (or nothing) when no token qualifies for substitution.
func Expand(query string, maxExpansions int, includeOriginal bool) []string {
	var variants []string
	if includeOriginal {
		variants = append(variants, query)
	}

	indices := tokenPattern.FindAllStringIndex(query, -1)
	count := 0
	for _, span := range indices {
		if count >= maxExpansions {
			break
		}
		token := query[span[0]:span[1]]
		if len(token) <= 3 {
			continue
		}
		syns, ok := synonyms[strings.ToLower(token)]
		if !ok {
			continue
		}
		for _, syn := range syns {
			if count >= maxExpansions {
				break
			}
			variant := query[:span[0]] + syn + query[span[1]:]
			variants = append(variants, variant)
			count++
		}
	}

	return variants
}

var connectivePattern = regexp.MustCompile(`(?i)\b(and|or|but|also)\b`)

// Decompose splits query on conjunctive connectives (and/or/but/also),
// trimming each part and dropping parts of length <= 5. Returns the
// original query wrapped in a single-element slice if fewer than two
// usable parts result.
func Decompose(query string) []string {
	parts := connectivePattern.Split(query, -1)
	var out []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if len(trimmed) > 5 {
			out = append(out, trimmed)
		}
	}
	if len(out) < 2 {
		return []string{query}
	}
	return out
}
