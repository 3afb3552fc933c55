// Package hnsw implements the hierarchical navigable small-world graph:
// layered approximate nearest-neighbor search over 768-dimensional unit
// vectors, with serialized insert and a read-only search path.
package hnsw

// Metadata is the per-node projection carried alongside each vector, used
// by search predicates without needing to fetch the full memory row.
type Metadata struct {
	UserID          string
	CharacterID     *string
	Content         string
	CreatedAt       int64
	Importance      float64
	EmotionalWeight float64
}

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	ID         int64
	Similarity float64
	Metadata   Metadata
}

// Filter is an optional predicate applied to candidates during Search.
// Items for which Filter returns false are silently skipped and counted,
// never treated as an error.
type Filter func(id int64, meta Metadata) bool

// Params configures index shape.
type Params struct {
	M              int // max neighbors per layer (default 16)
	EfConstruction int // candidate set size during insert (default 200)
	EfSearch       int // candidate set size during search (default 100)
	MaxLayers      int // number of layers, 0..MaxLayers-1 (default 5)
}

// DefaultParams returns the spec's default HNSW parameters.
func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 100, MaxLayers: 5}
}
