package retrieval

// RankedID is one entry in a rank-ordered list (best first) feeding fusion.
type RankedID struct {
	ID    int64
	Score float64
}

// ReciprocalRankFusion merges two rank-ordered lists (dense, sparse),
// adding 1/(k+r+1) for each list an id appears in at zero-based rank r,
// and summing contributions by id. Commutative in its two inputs: fusing
// (a, b) and (b, a) produces the same per-id totals.
func ReciprocalRankFusion(dense, sparse []RankedID, k int) map[int64]float64 {
	combined := make(map[int64]float64)
	addRanks(combined, dense, k)
	addRanks(combined, sparse, k)
	return combined
}

func addRanks(combined map[int64]float64, ranked []RankedID, k int) {
	for r, item := range ranked {
		combined[item.ID] += 1.0 / float64(k+r+1)
	}
}

// LinearCombination normalizes each list by its own max score, then
// computes wDense*sDense/maxDense + wSparse*sSparse/maxSparse per id.
// Items present in only one list receive only that list's contribution.
func LinearCombination(dense, sparse []RankedID, wDense, wSparse float64) map[int64]float64 {
	denseScores := make(map[int64]float64, len(dense))
	maxDense := 0.0
	for _, item := range dense {
		denseScores[item.ID] = item.Score
		if item.Score > maxDense {
			maxDense = item.Score
		}
	}
	sparseScores := make(map[int64]float64, len(sparse))
	maxSparse := 0.0
	for _, item := range sparse {
		sparseScores[item.ID] = item.Score
		if item.Score > maxSparse {
			maxSparse = item.Score
		}
	}

	combined := make(map[int64]float64, len(denseScores)+len(sparseScores))
	for id, s := range denseScores {
		if maxDense > 0 {
			combined[id] += wDense * s / maxDense
		}
	}
	for id, s := range sparseScores {
		if maxSparse > 0 {
			combined[id] += wSparse * s / maxSparse
		}
	}
	return combined
}
