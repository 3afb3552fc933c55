package retrieval

import "math"

const (
	// decayBlendWeight is the fraction of the original score left untouched
	// by the temporal weight; the remainder is scaled by recency.
	decayBlendWeight = 0.7
	decayScaleWeight = 0.3

	secondsPerDay = 86400.0
)

// TemporalWeight computes the recency weight for a memory of the given age
// (in seconds), using exponential decay with half-life halfLifeDays and a
// floor so that old memories never fully vanish. w is always in [floor, 1].
func TemporalWeight(ageSeconds int64, halfLifeDays, floor float64) float64 {
	if halfLifeDays <= 0 {
		return 1.0
	}
	ageDays := float64(ageSeconds) / secondsPerDay
	w := math.Exp(-math.Ln2 * ageDays / halfLifeDays)
	if w < floor {
		w = floor
	}
	return w
}

// ApplyDecay blends a base score with its temporal weight: recent memories
// keep their full score, while old ones are pulled toward decayBlendWeight
// of it (never below, since TemporalWeight is floored).
func ApplyDecay(score float64, ageSeconds int64, halfLifeDays, floor float64) float64 {
	w := TemporalWeight(ageSeconds, halfLifeDays, floor)
	return score * (decayBlendWeight + decayScaleWeight*w)
}
