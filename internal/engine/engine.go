// Package engine wires the memory engine's components — durable storage,
// the three-tier embedding cache, the bounded-concurrency embedding
// pipeline, the in-memory HNSW and BM25 indices, and the retrieval
// pipeline — into the two operations the HTTP surface exposes: ingest
// and retrieve.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/latticemem/engine/internal/batch"
	"github.com/latticemem/engine/internal/bm25"
	"github.com/latticemem/engine/internal/cache"
	"github.com/latticemem/engine/internal/config"
	"github.com/latticemem/engine/internal/embedclient"
	"github.com/latticemem/engine/internal/hnsw"
	"github.com/latticemem/engine/internal/middleware"
	"github.com/latticemem/engine/internal/model"
	"github.com/latticemem/engine/internal/pool"
	"github.com/latticemem/engine/internal/queue"
	"github.com/latticemem/engine/internal/retrieval"
	"github.com/latticemem/engine/internal/store"
	"github.com/latticemem/engine/internal/vector"
)

// memoryRepository is the durable-storage surface Engine needs. It is
// satisfied by *store.MemoryStore; tests substitute an in-memory fake.
type memoryRepository interface {
	Insert(ctx context.Context, item model.MemoryItem) (int64, error)
	UpdateEmbedding(ctx context.Context, id int64, blob []byte, status model.MigrationStatus) error
	MarkFailed(ctx context.Context, id int64) error
	PendingEmbeddings(ctx context.Context, limit int) ([]model.MemoryItem, error)
	LoadEmbedded(ctx context.Context) ([]model.MemoryItem, error)
	ForUser(ctx context.Context, userID string, characterID *string) ([]bm25.Candidate, error)
	Lookup(ctx context.Context, ids []int64) (map[int64]hnsw.Metadata, error)
	SimilaritySearch(ctx context.Context, queryVec []float32, userID string, topK int) ([]hnsw.SearchResult, error)
}

// embedder resolves text to a vector, through whatever caching the
// implementation applies. Satisfied by *batch.Embedder.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// embeddingCache is the three-tier cache surface Engine drives directly,
// distinct from the embedder interface the retrieval pipeline uses for
// query-time embedding.
type embeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool, error)
	Set(ctx context.Context, text string, vec []float32)
}

// resultCache caches full retrieval responses keyed by user, query, and
// options. Satisfied by *cache.ResultCache[retrieval.Response].
type resultCache interface {
	Get(userID, queryText, optionsKey string) (retrieval.Response, bool)
	Set(userID, queryText, optionsKey string, value retrieval.Response)
	InvalidateUser(userID string)
}

// crashBacklog persists in-flight embedding jobs so a restart doesn't
// strand memories that were accepted but never embedded. Satisfied by
// *queue.Backlog, which itself no-ops when Redis isn't configured.
type crashBacklog interface {
	Record(ctx context.Context, job queue.PendingEmbeddingJob)
	Remove(ctx context.Context, memoryID int64)
	Replay(ctx context.Context) ([]queue.PendingEmbeddingJob, error)
}

// Engine is the top-level orchestration object: one per process.
type Engine struct {
	dense  *hnsw.Index
	sparse *bm25.Index

	memories memoryRepository
	embCache embeddingCache
	results  resultCache
	embedder embedder // document-space embedder, used for ingest content

	jobs    *queue.Queue
	backlog crashBacklog

	pipeline *retrieval.Pipeline
}

// New builds an Engine from configuration and already-connected backing
// services, then rehydrates the in-memory indices from durable storage.
// redisClient may be nil, in which case the crash backlog is disabled.
// metrics may be nil, in which case cache degradation events are dropped.
func New(ctx context.Context, cfg *config.Config, dbPool *pgxpool.Pool, redisClient *redis.Client, metrics *middleware.Metrics) (*Engine, error) {
	dense := hnsw.New(hnsw.Params{
		M:              cfg.HNSWM,
		EfConstruction: cfg.HNSWEfConstruction,
		EfSearch:       cfg.HNSWEfSearch,
		MaxLayers:      cfg.HNSWMaxLayers,
	})
	sparse := bm25.NewIndex()

	memories := store.NewMemoryStore(dbPool)
	durable := store.NewDurableCache(dbPool)
	embCache := cache.NewEmbeddingCache(cfg.EmbeddingModel, cfg.EmbeddingCacheSize, cfg.SemanticCacheSize, durable, cfg.DurableCacheRequired)
	if metrics != nil {
		embCache.SetDegradeHook(metrics.CacheDegradations.Inc)
	}
	results := cache.NewResultCache[retrieval.Response](cfg.ResultCacheSize, cfg.ResultCacheTTL)

	remote := embedclient.New(cfg.EmbeddingServiceURL, cfg.EmbeddingModel)
	connPool := pool.New(cfg.ConnectionPoolSize)
	docEmbedder := batch.New(remote.AsDocumentEmbedder(), connPool, cfg.EmbeddingModel, cfg.EmbeddingBatchSize, cfg.BatchTimeout)
	queryEmbedder := batch.New(remote, connPool, cfg.EmbeddingModel, cfg.EmbeddingBatchSize, cfg.BatchTimeout)

	return newEngine(ctx, cfg, dense, sparse, memories, embCache, results, docEmbedder, queryEmbedder, queue.NewBacklog(redisClient, "engine:embedding-backlog"))
}

// newEngine assembles an Engine from already-built components. It is the
// seam tests use to substitute fakes for every network-backed dependency.
func newEngine(
	ctx context.Context,
	cfg *config.Config,
	dense *hnsw.Index,
	sparse *bm25.Index,
	memories memoryRepository,
	embCache embeddingCache,
	results resultCache,
	docEmb embedder,
	queryEmb embedder,
	backlog crashBacklog,
) (*Engine, error) {
	e := &Engine{
		dense:    dense,
		sparse:   sparse,
		memories: memories,
		embCache: embCache,
		results:  results,
		embedder: docEmb,
		jobs:     queue.New(cfg.BackgroundConcurrency),
		backlog:  backlog,
	}

	e.pipeline = retrieval.New(dense, sparse, queryEmb, memories, retrieval.Config{
		MaxExpansions:           3,
		UseRRF:                  cfg.UseRRF,
		RRFK:                    cfg.RRFK,
		SemanticWeight:          cfg.SemanticWeight,
		KeywordWeight:           cfg.KeywordWeight,
		TemporalHalfLifeDays:    cfg.TemporalHalfLife,
		TemporalMinWeight:       cfg.TemporalMinWeight,
		TemporalDecayEnabled:    cfg.TemporalDecayEnabled,
		DiversityPenalty:        cfg.DiversityPenalty,
		MaxContextTokens:        cfg.MaxContextTokens,
		ContextImportanceWeight: cfg.ContextImportanceWeight,
		MinContextRelevance:     cfg.MinContextRelevance,
	})

	if err := e.rehydrate(ctx); err != nil {
		return nil, err
	}
	if err := e.replayBacklog(ctx); err != nil {
		slog.Warn("failed to replay embedding backlog", "error", err)
	}

	return e, nil
}

// rehydrate loads every already-embedded memory item from durable storage
// into the in-memory HNSW and BM25 indices, so a restarted process serves
// full recall immediately instead of rebuilding lazily.
func (e *Engine) rehydrate(ctx context.Context) error {
	items, err := e.memories.LoadEmbedded(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		meta := hnsw.Metadata{
			UserID:          it.UserID,
			CharacterID:     it.CharacterID,
			Content:         it.Content,
			CreatedAt:       it.CreatedAt,
			Importance:      it.Importance,
			EmotionalWeight: it.EmotionalWeight,
		}
		e.dense.Insert(it.ID, it.EmbeddingJSON, meta)
		e.sparse.AddDocument(it.Content)
	}
	slog.Info("rehydrated memory indices", "count", len(items))
	return nil
}

// pendingEmbeddingRecoveryLimit bounds how many durable rows replayBacklog
// pulls from PendingEmbeddings on startup, so a pathologically large
// backlog doesn't block process start.
const pendingEmbeddingRecoveryLimit = 1000

// replayBacklog re-enqueues embedding jobs recorded before a crash, so
// memories accepted but never embedded aren't silently lost. The Redis
// backlog is the primary source; PendingEmbeddings is a durable secondary
// source that also catches jobs Redis never saw (backlog disabled, or a
// Record call that raced a crash) because Insert and PendingEmbeddings
// both read from the same row.
func (e *Engine) replayBacklog(ctx context.Context) error {
	queued := make(map[int64]bool)

	jobs, err := e.backlog.Replay(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		queued[j.MemoryID] = true
		e.enqueueEmbedding(j.MemoryID, j.UserID, j.Content)
	}

	pending, err := e.memories.PendingEmbeddings(ctx, pendingEmbeddingRecoveryLimit)
	if err != nil {
		return err
	}
	for _, it := range pending {
		if queued[it.ID] {
			continue
		}
		e.enqueueEmbedding(it.ID, it.UserID, it.Content)
	}
	return nil
}

// IngestRequest is one new memory to store.
type IngestRequest struct {
	UserID          string
	CharacterID     *string
	Content         string
	Importance      float64
	EmotionalWeight float64
	Metadata        json.RawMessage
	// CreatedAt overrides the row's timestamp (Unix seconds); zero means
	// the store assigns the current time. Exposed so callers replaying
	// historical data, and tests exercising temporal decay, can backdate
	// a memory instead of always taking "now".
	CreatedAt int64
}

// Ingest durably stores a memory item and schedules background embedding.
// It returns as soon as the row is written; the memory becomes
// retrievable once its embedding completes.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (int64, error) {
	id, err := e.memories.Insert(ctx, model.MemoryItem{
		UserID:          req.UserID,
		CharacterID:     req.CharacterID,
		Content:         req.Content,
		Importance:      req.Importance,
		EmotionalWeight: req.EmotionalWeight,
		Metadata:        req.Metadata,
		CreatedAt:       req.CreatedAt,
	})
	if err != nil {
		return 0, err
	}

	e.backlog.Record(ctx, queue.PendingEmbeddingJob{MemoryID: id, UserID: req.UserID, Content: req.Content})
	e.enqueueEmbedding(id, req.UserID, req.Content)

	return id, nil
}

func (e *Engine) enqueueEmbedding(id int64, userID, content string) {
	e.jobs.Enqueue(func(ctx context.Context) (any, error) {
		return nil, e.embedAndIndex(ctx, id, userID, content)
	})
}

// embedAndIndex resolves content's embedding (through the three-tier
// cache, falling through to the remote service), persists it, inserts it
// into the in-memory indices, and invalidates the user's cached results.
func (e *Engine) embedAndIndex(ctx context.Context, id int64, userID, content string) error {
	vec, hit, err := e.embCache.Get(ctx, content)
	if err != nil {
		e.fail(ctx, id, err)
		return err
	}
	if !hit {
		vec, err = e.embedder.Embed(ctx, content)
		if err != nil {
			e.fail(ctx, id, err)
			return err
		}
		e.embCache.Set(ctx, content, vec)
	}

	blob := vector.Encode(vec)
	if err := e.memories.UpdateEmbedding(ctx, id, blob, model.StatusCompleted); err != nil {
		e.fail(ctx, id, err)
		return err
	}

	meta, err := e.memories.Lookup(ctx, []int64{id})
	if err != nil {
		e.fail(ctx, id, err)
		return err
	}
	m, ok := meta[id]
	if !ok {
		return fmt.Errorf("engine.embedAndIndex: memory %d not found after insert", id)
	}

	e.dense.Insert(id, vec, m)
	e.sparse.AddDocument(content)

	e.results.InvalidateUser(userID)
	e.backlog.Remove(ctx, id)
	return nil
}

func (e *Engine) fail(ctx context.Context, id int64, cause error) {
	slog.Error("embedding failed for memory", "memory_id", id, "error", cause)
	if err := e.memories.MarkFailed(ctx, id); err != nil {
		slog.Error("failed to mark memory as failed", "memory_id", id, "error", err)
	}
}

// Retrieve runs the retrieval pipeline for req, serving from the result
// cache when a matching (user, query, options) entry is still fresh.
func (e *Engine) Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Response, error) {
	start := time.Now()
	opts := retrieval.NewOptions(req.Options)
	characterKey := ""
	if opts.CharacterID != nil {
		characterKey = *opts.CharacterID
	}
	optionsKey := cache.OptionsKey(
		cache.FormatFloat(float64(opts.Limit)),
		cache.FormatFloat(opts.MinSimilarity),
		cache.FormatFloat(boolFloat(opts.UseHybrid)),
		cache.FormatFloat(boolFloat(opts.UseReranking)),
		cache.FormatFloat(boolFloat(opts.UseExpansion)),
		characterKey,
	)

	if resp, ok := e.results.Get(req.UserID, req.QueryText, optionsKey); ok {
		resp.PerformanceMs = time.Since(start).Milliseconds()
		return resp, nil
	}

	resp, err := e.pipeline.Run(ctx, retrieval.Request{UserID: req.UserID, QueryText: req.QueryText, Options: opts})
	if err != nil {
		return retrieval.Response{}, err
	}

	e.results.Set(req.UserID, req.QueryText, optionsKey, resp)
	resp.PerformanceMs = time.Since(start).Milliseconds()
	return resp, nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// HealthReport exposes the HNSW index's internal consistency for the
// health HTTP endpoint.
func (e *Engine) HealthReport() hnsw.HealthReport {
	return e.dense.HealthCheck()
}

// RecallVerification reports how closely the in-memory HNSW index's
// approximate neighbors for one query agree with the exact nearest
// neighbors pgvector computes over the durable embedding column.
type RecallVerification struct {
	HNSWIDs    []int64
	DurableIDs []int64
	Overlap    int
	Recall     float64 // Overlap / len(DurableIDs); 0 when DurableIDs is empty
}

// VerifyRecall re-runs a query vector against both the in-memory HNSW
// index and the durable pgvector column, and reports how much the
// approximate index's top-k agrees with the exact top-k pgvector returns.
// It exists to catch HNSW/durable-store drift (a crashed rehydrate, a
// missed Insert) that the request hot path has no reason to detect on its
// own; callers are a periodic auditing job or an operator-triggered check,
// not Retrieve.
func (e *Engine) VerifyRecall(ctx context.Context, userID string, queryVec []float32, topK int) (RecallVerification, error) {
	hnswHits := e.dense.Search(queryVec, topK, func(_ int64, m hnsw.Metadata) bool {
		return m.UserID == userID
	})
	durableHits, err := e.memories.SimilaritySearch(ctx, queryVec, userID, topK)
	if err != nil {
		return RecallVerification{}, err
	}

	hnswIDs := make([]int64, len(hnswHits))
	hnswSet := make(map[int64]struct{}, len(hnswHits))
	for i, h := range hnswHits {
		hnswIDs[i] = h.ID
		hnswSet[h.ID] = struct{}{}
	}

	durableIDs := make([]int64, len(durableHits))
	overlap := 0
	for i, h := range durableHits {
		durableIDs[i] = h.ID
		if _, ok := hnswSet[h.ID]; ok {
			overlap++
		}
	}

	var recall float64
	if len(durableIDs) > 0 {
		recall = float64(overlap) / float64(len(durableIDs))
	}

	return RecallVerification{
		HNSWIDs:    hnswIDs,
		DurableIDs: durableIDs,
		Overlap:    overlap,
		Recall:     recall,
	}, nil
}

// Close closes the background job queue (see queue.Queue.Close). It does
// not wait for in-flight embedding jobs; their context is cancelled.
func (e *Engine) Close() {
	e.jobs.Close()
}
