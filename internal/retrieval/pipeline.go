package retrieval

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticemem/engine/internal/bm25"
	"github.com/latticemem/engine/internal/expand"
	"github.com/latticemem/engine/internal/hnsw"
)

// nowFunc is overridden in tests to make temporal-decay behavior
// deterministic.
var nowFunc = func() int64 { return time.Now().Unix() }

// Embedder turns query text into a unit vector. Satisfied by
// *batch.Embedder in production; fakeable in tests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Corpus exposes the per-user memory set the sparse channel and context
// packing need beyond what the dense index's filter predicate can see.
// Satisfied by the store package in production.
type Corpus interface {
	// ForUser returns every memory visible to userID (optionally scoped to
	// characterID), for BM25 scoring and context packing.
	ForUser(ctx context.Context, userID string, characterID *string) ([]bm25.Candidate, error)
	// Lookup returns full metadata for a set of ids, for building results.
	Lookup(ctx context.Context, ids []int64) (map[int64]hnsw.Metadata, error)
}

// Config bundles the tunables a Pipeline run needs; a zero value is not
// meaningful, callers should build one from internal/config.Config.
type Config struct {
	MaxExpansions           int
	UseRRF                  bool
	RRFK                    int
	SemanticWeight          float64
	KeywordWeight           float64
	TemporalHalfLifeDays    float64
	TemporalMinWeight       float64
	TemporalDecayEnabled    bool
	DiversityPenalty        float64
	MaxContextTokens        int
	ContextImportanceWeight float64
	MinContextRelevance     float64
}

// Pipeline ties together query expansion, dual-channel search, fusion,
// temporal decay, reranking, and threshold filtering into one retrieval
// call. The embedder and corpus are interfaces and the dense and sparse
// indexes are in-memory, so the pipeline can be exercised without a live
// database or embedding service.
type Pipeline struct {
	dense    *hnsw.Index
	sparse   *bm25.Index
	embedder Embedder
	corpus   Corpus
	cfg      Config
}

// New builds a Pipeline. sparse must already be populated with the
// corpus's document statistics (via AddDocument) by the caller.
func New(dense *hnsw.Index, sparse *bm25.Index, embedder Embedder, corpus Corpus, cfg Config) *Pipeline {
	return &Pipeline{dense: dense, sparse: sparse, embedder: embedder, corpus: corpus, cfg: cfg}
}

// Run executes the full retrieval pipeline for req and returns a Response.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	opts := NewOptions(req.Options)

	queries := []string{req.QueryText}
	usedExpansion := false
	if opts.UseExpansion {
		variants := expand.Expand(req.QueryText, p.cfg.MaxExpansions, false)
		if len(variants) > 0 {
			queries = append(queries, variants...)
			usedExpansion = true
		}
		if parts := expand.Decompose(req.QueryText); len(parts) > 1 {
			queries = append(queries, parts...)
			usedExpansion = true
		}
	}

	var denseRanked, sparseRanked []RankedID

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		denseRanked, err = p.searchDense(gCtx, queries, req.UserID, opts)
		return err
	})

	if opts.UseHybrid {
		g.Go(func() error {
			var err error
			sparseRanked, err = p.searchSparse(gCtx, req.QueryText, req.UserID, opts.CharacterID, opts.Limit*3)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	var fused map[int64]float64
	method := SearchMethodSemantic
	if opts.UseHybrid {
		if len(sparseRanked) > 0 {
			method = SearchMethodHybrid
		}
		if p.cfg.UseRRF {
			fused = ReciprocalRankFusion(denseRanked, sparseRanked, rrfKOrDefault(p.cfg.RRFK))
		} else {
			fused = LinearCombination(denseRanked, sparseRanked, p.cfg.SemanticWeight, p.cfg.KeywordWeight)
		}
	} else {
		fused = make(map[int64]float64, len(denseRanked))
		for _, r := range denseRanked {
			fused[r.ID] = r.Score
		}
	}

	ids := make([]int64, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	meta, err := p.corpus.Lookup(ctx, ids)
	if err != nil {
		return Response{}, err
	}

	denseSim := make(map[int64]float64, len(denseRanked))
	for _, r := range denseRanked {
		denseSim[r.ID] = r.Score
	}

	type candidate struct {
		id         int64
		similarity float64
		score      float64
		m          hnsw.Metadata
	}
	candidates := make([]candidate, 0, len(fused))
	now := nowFunc()
	for id, score := range fused {
		m, ok := meta[id]
		if !ok {
			continue
		}
		if p.cfg.TemporalDecayEnabled {
			age := now - m.CreatedAt
			if age < 0 {
				age = 0
			}
			score = ApplyDecay(score, age, p.cfg.TemporalHalfLifeDays, p.cfg.TemporalMinWeight)
		}
		candidates = append(candidates, candidate{id: id, similarity: denseSim[id], score: score, m: m})
	}

	usedReranking := false
	if opts.UseReranking {
		rerankIn := make([]Rerankable, len(candidates))
		for i, c := range candidates {
			rerankIn[i] = Rerankable{ID: c.id, Content: c.m.Content, Similarity: c.similarity, Importance: c.m.Importance}
		}
		reranked := Rerank(req.QueryText, rerankIn, p.cfg.DiversityPenalty)
		byID := make(map[int64]candidate, len(candidates))
		for _, c := range candidates {
			byID[c.id] = c
		}
		candidates = candidates[:0]
		for _, r := range reranked {
			c := byID[r.ID]
			c.score = r.Score
			candidates = append(candidates, c)
		}
		usedReranking = true
	} else {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	}

	results := make([]ResultItem, 0, opts.Limit)
	for _, c := range candidates {
		if c.similarity < opts.MinSimilarity {
			continue
		}
		if len(results) >= opts.Limit {
			break
		}
		results = append(results, ResultItem{
			ID:             c.id,
			CharacterID:    c.m.CharacterID,
			Content:        c.m.Content,
			Similarity:     c.similarity,
			Score:          c.score,
			CreatedAt:      c.m.CreatedAt,
			Importance:     c.m.Importance,
			TemporalWeight: TemporalWeight(now-c.m.CreatedAt, p.cfg.TemporalHalfLifeDays, p.cfg.TemporalMinWeight),
		})
	}

	return Response{
		Results:       results,
		TotalFound:    len(candidates),
		SearchMethod:  method,
		UsedExpansion: usedExpansion,
		UsedReranking: usedReranking,
	}, nil
}

func rrfKOrDefault(k int) int {
	if k <= 0 {
		return 60
	}
	return k
}

// searchDense embeds every query variant concurrently (the original query
// plus any expansions) and searches the dense index once per embedding,
// merging hits by keeping each id's best similarity across variants.
func (p *Pipeline) searchDense(ctx context.Context, queries []string, userID string, opts Options) ([]RankedID, error) {
	filter := func(id int64, m hnsw.Metadata) bool {
		if m.UserID != userID {
			return false
		}
		if opts.CharacterID != nil {
			if m.CharacterID == nil || *m.CharacterID != *opts.CharacterID {
				return false
			}
		}
		return true
	}

	hitsPerQuery := make([][]hnsw.SearchResult, len(queries))

	g, gCtx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			vec, err := p.embedder.Embed(gCtx, q)
			if err != nil {
				return err
			}
			hitsPerQuery[i] = p.dense.Search(vec, opts.Limit*3, filter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := make(map[int64]float64)
	for _, hits := range hitsPerQuery {
		for _, h := range hits {
			if h.Similarity > best[h.ID] {
				best[h.ID] = h.Similarity
			}
		}
	}
	ranked := make([]RankedID, 0, len(best))
	for id, sim := range best {
		ranked = append(ranked, RankedID{ID: id, Score: sim})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

func (p *Pipeline) searchSparse(ctx context.Context, query, userID string, characterID *string, limit int) ([]RankedID, error) {
	candidates, err := p.corpus.ForUser(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	scored := p.sparse.BatchScore(query, candidates)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	ranked := make([]RankedID, 0, limit)
	for _, s := range scored {
		if s.Score <= 0 {
			continue
		}
		if len(ranked) >= limit {
			break
		}
		ranked = append(ranked, RankedID{ID: s.Index, Score: s.Score})
	}
	return ranked, nil
}
