package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/latticemem/engine/internal/bm25"
	"github.com/latticemem/engine/internal/config"
	"github.com/latticemem/engine/internal/hnsw"
	"github.com/latticemem/engine/internal/model"
	"github.com/latticemem/engine/internal/queue"
	"github.com/latticemem/engine/internal/retrieval"
	"github.com/latticemem/engine/internal/vector"
)

type fakeRepo struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]model.MemoryItem
	failNext  bool
	insertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[int64]model.MemoryItem)}
}

func (r *fakeRepo) Insert(ctx context.Context, item model.MemoryItem) (int64, error) {
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	item.ID = r.nextID
	item.Status = model.StatusPending
	r.items[item.ID] = item
	return item.ID, nil
}

func (r *fakeRepo) UpdateEmbedding(ctx context.Context, id int64, blob []byte, status model.MigrationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return errors.New("fakeRepo: unknown id")
	}
	it.EmbeddingBlob = blob
	it.Status = status
	r.items[id] = it
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return errors.New("fakeRepo: unknown id")
	}
	it.Status = model.StatusFailed
	r.items[id] = it
	return nil
}

func (r *fakeRepo) PendingEmbeddings(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.MemoryItem, 0)
	for _, it := range r.items {
		if it.Status != model.StatusPending && it.Status != model.StatusFailed {
			continue
		}
		out = append(out, it)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) LoadEmbedded(ctx context.Context) ([]model.MemoryItem, error) {
	return nil, nil
}

func (r *fakeRepo) ForUser(ctx context.Context, userID string, characterID *string) ([]bm25.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bm25.Candidate
	for _, it := range r.items {
		if it.UserID == userID {
			out = append(out, bm25.Candidate{Index: it.ID, Text: it.Content})
		}
	}
	return out, nil
}

func (r *fakeRepo) Lookup(ctx context.Context, ids []int64) (map[int64]hnsw.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]hnsw.Metadata)
	for _, id := range ids {
		it, ok := r.items[id]
		if !ok {
			continue
		}
		out[id] = hnsw.Metadata{
			UserID:          it.UserID,
			CharacterID:     it.CharacterID,
			Content:         it.Content,
			CreatedAt:       it.CreatedAt,
			Importance:      it.Importance,
			EmotionalWeight: it.EmotionalWeight,
		}
	}
	return out, nil
}

// SimilaritySearch brute-forces cosine similarity over stored embeddings,
// standing in for the pgvector kNN query the real store runs.
func (r *fakeRepo) SimilaritySearch(ctx context.Context, queryVec []float32, userID string, topK int) ([]hnsw.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hits := make([]hnsw.SearchResult, 0, len(r.items))
	for id, it := range r.items {
		if it.UserID != userID || it.Status != model.StatusCompleted {
			continue
		}
		vec, err := vector.Decode(it.EmbeddingBlob)
		if err != nil {
			continue
		}
		hits = append(hits, hnsw.SearchResult{ID: id, Similarity: cosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeEmbCache struct {
	mu    sync.Mutex
	store map[string][]float32
}

func newFakeEmbCache() *fakeEmbCache {
	return &fakeEmbCache{store: make(map[string][]float32)}
}

func (c *fakeEmbCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[text]
	return v, ok, nil
}

func (c *fakeEmbCache) Set(ctx context.Context, text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[text] = vec
}

type fakeResultCache struct {
	mu    sync.Mutex
	store map[string]retrieval.Response
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{store: make(map[string]retrieval.Response)}
}

func (c *fakeResultCache) Get(userID, queryText, optionsKey string) (retrieval.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[userID+"|"+queryText+"|"+optionsKey]
	return v, ok
}

func (c *fakeResultCache) Set(userID, queryText, optionsKey string, value retrieval.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[userID+"|"+queryText+"|"+optionsKey] = value
}

func (c *fakeResultCache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.store {
		if len(k) >= len(userID) && k[:len(userID)] == userID {
			delete(c.store, k)
		}
	}
}

type fakeBacklog struct {
	mu   sync.Mutex
	jobs map[int64]queue.PendingEmbeddingJob
}

func newFakeBacklog() *fakeBacklog {
	return &fakeBacklog{jobs: make(map[int64]queue.PendingEmbeddingJob)}
}

func (b *fakeBacklog) Record(ctx context.Context, job queue.PendingEmbeddingJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.MemoryID] = job
}

func (b *fakeBacklog) Remove(ctx context.Context, memoryID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, memoryID)
}

func (b *fakeBacklog) Replay(ctx context.Context) ([]queue.PendingEmbeddingJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]queue.PendingEmbeddingJob, 0, len(b.jobs))
	for _, j := range b.jobs {
		out = append(out, j)
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		HNSWM:                 16,
		HNSWEfConstruction:    200,
		HNSWEfSearch:          100,
		HNSWMaxLayers:         5,
		BackgroundConcurrency: 2,
		UseRRF:                true,
		RRFK:                  60,
		SemanticWeight:        0.7,
		KeywordWeight:         0.3,
		TemporalDecayEnabled:  false,
	}
}

func buildTestEngine(t *testing.T, repo *fakeRepo, emb *fakeEmbedder) (*Engine, *fakeResultCache) {
	t.Helper()
	cfg := testConfig()
	results := newFakeResultCache()
	e, err := newEngine(
		context.Background(),
		cfg,
		hnsw.New(hnsw.Params{M: 16, EfConstruction: 200, EfSearch: 100, MaxLayers: 5}),
		bm25.NewIndex(),
		repo,
		newFakeEmbCache(),
		results,
		emb,
		emb,
		newFakeBacklog(),
	)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	return e, results
}

func unitVector(lead float64) []float32 {
	v := make([]float32, 768)
	v[0] = float32(lead)
	v[1] = 1
	return v
}

func TestIngestThenRetrieveFindsMemoryAfterEmbedding(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}
	e, _ := buildTestEngine(t, repo, emb)

	id, err := e.Ingest(context.Background(), IngestRequest{UserID: "u1", Content: "the cat sat on the mat"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	e.jobs.Drain()

	resp, err := e.Retrieve(context.Background(), retrieval.Request{UserID: "u1", QueryText: "cat"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected at least one result after embedding completed")
	}
	if resp.Results[0].ID != id {
		t.Errorf("Results[0].ID = %d, want %d", resp.Results[0].ID, id)
	}
}

func TestVerifyRecallReportsFullAgreementWhenIndicesMatch(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}
	e, _ := buildTestEngine(t, repo, emb)

	id, err := e.Ingest(context.Background(), IngestRequest{UserID: "u1", Content: "the cat sat on the mat"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	e.jobs.Drain()

	report, err := e.VerifyRecall(context.Background(), "u1", unitVector(1), 5)
	if err != nil {
		t.Fatalf("VerifyRecall: %v", err)
	}
	if report.Recall != 1.0 {
		t.Errorf("Recall = %v, want 1.0", report.Recall)
	}
	if report.Overlap != 1 || len(report.DurableIDs) != 1 || report.DurableIDs[0] != id {
		t.Errorf("unexpected verification result: %+v", report)
	}
}

func TestIngestEmbeddingFailureMarksMemoryFailed(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	e, _ := buildTestEngine(t, repo, emb)

	id, err := e.Ingest(context.Background(), IngestRequest{UserID: "u1", Content: "hello"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	e.jobs.Drain()

	repo.mu.Lock()
	status := repo.items[id].Status
	repo.mu.Unlock()
	if status != model.StatusFailed {
		t.Errorf("status = %q, want %q", status, model.StatusFailed)
	}
}

func TestRetrieveServesFromResultCacheOnSecondCall(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}
	e, results := buildTestEngine(t, repo, emb)

	_, err := e.Ingest(context.Background(), IngestRequest{UserID: "u1", Content: "remember this"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	e.jobs.Drain()

	req := retrieval.Request{UserID: "u1", QueryText: "remember"}
	first, err := e.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if first.PerformanceMs < 0 {
		t.Fatalf("PerformanceMs = %d, want >= 0", first.PerformanceMs)
	}
	if results.store == nil || len(results.store) == 0 {
		t.Fatal("expected result cache to be populated after first Retrieve")
	}

	// A second identical call must be served without the pipeline needing
	// the repo again; clearing the repo proves the cache path was taken.
	repo.mu.Lock()
	repo.items = make(map[int64]model.MemoryItem)
	repo.mu.Unlock()

	cached, err := e.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve (cached): %v", err)
	}
	if len(cached.Results) == 0 {
		t.Fatal("expected cached response to still contain the result")
	}
	if cached.PerformanceMs < 0 {
		t.Fatalf("cached PerformanceMs = %d, want >= 0", cached.PerformanceMs)
	}
	if len(cached.Results) != len(first.Results) || cached.Results[0].ID != first.Results[0].ID {
		t.Fatalf("expected the cached response to preserve ordering: first=%+v cached=%+v", first.Results, cached.Results)
	}
}

// TestRetrieveAppliesTemporalDecayThroughFullIngestPath reproduces the
// decay scenario end to end: an old, highly important memory and a fresh,
// low-importance one with the same content embedding, ingested through the
// public Engine API with an explicit CreatedAt override, must come back
// with the fresh memory ranked first once decay is enabled.
func TestRetrieveAppliesTemporalDecayThroughFullIngestPath(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}

	cfg := testConfig()
	cfg.TemporalDecayEnabled = true
	cfg.TemporalHalfLife = 30
	cfg.TemporalMinWeight = 0.1

	results := newFakeResultCache()
	e, err := newEngine(
		context.Background(),
		cfg,
		hnsw.New(hnsw.Params{M: 16, EfConstruction: 200, EfSearch: 100, MaxLayers: 5}),
		bm25.NewIndex(),
		repo,
		newFakeEmbCache(),
		results,
		emb,
		emb,
		newFakeBacklog(),
	)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}

	const day = int64(86400)
	now := time.Now().Unix()
	oldID, err := e.Ingest(context.Background(), IngestRequest{
		UserID: "u1", Content: "an old but important memory", Importance: 0.9, CreatedAt: now - 60*day,
	})
	if err != nil {
		t.Fatalf("Ingest old: %v", err)
	}
	freshID, err := e.Ingest(context.Background(), IngestRequest{
		UserID: "u1", Content: "a fresh and minor memory", Importance: 0.1, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Ingest fresh: %v", err)
	}
	e.jobs.Drain()

	resp, err := e.Retrieve(context.Background(), retrieval.Request{UserID: "u1", QueryText: "memory"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected both memories returned, got %+v", resp.Results)
	}
	if resp.Results[0].ID != freshID {
		t.Fatalf("expected fresh memory %d ranked first, got %+v", freshID, resp.Results)
	}
	_ = oldID
}

func TestRetrieveCrossUserIsolation(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}
	e, _ := buildTestEngine(t, repo, emb)

	if _, err := e.Ingest(context.Background(), IngestRequest{UserID: "u1", Content: "u1 memory"}); err != nil {
		t.Fatalf("Ingest u1: %v", err)
	}
	if _, err := e.Ingest(context.Background(), IngestRequest{UserID: "u2", Content: "u2 memory"}); err != nil {
		t.Fatalf("Ingest u2: %v", err)
	}
	e.jobs.Drain()

	resp, err := e.Retrieve(context.Background(), retrieval.Request{UserID: "u1", QueryText: "memory"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, r := range resp.Results {
		if r.Content == "u2 memory" {
			t.Fatal("u1's retrieval must never surface u2's memory")
		}
	}
}

// TestConcurrentIngestForSameUserLeavesConsistentIndices fires 50
// concurrent Ingest calls for one user through the full engine path
// (durable insert, backlog record, background embed, index insert,
// backlog clear) and checks the dense index ends up with one node per
// memory and a healthy consistency report.
func TestConcurrentIngestForSameUserLeavesConsistentIndices(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large concurrent ingest check in short mode")
	}
	const n = 50
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}
	e, _ := buildTestEngine(t, repo, emb)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Ingest(context.Background(), IngestRequest{
				UserID:  "u1",
				Content: fmt.Sprintf("memory number %d", i),
			}); err != nil {
				t.Errorf("Ingest %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	e.jobs.Drain()

	report := e.HealthReport()
	if !report.Healthy {
		t.Fatalf("expected healthy index after concurrent ingest, got %+v", report)
	}
	if report.NodeCount != n {
		t.Fatalf("NodeCount = %d, want %d", report.NodeCount, n)
	}
	if report.MetadataCount != n {
		t.Fatalf("MetadataCount = %d, want %d", report.MetadataCount, n)
	}

	repo.mu.Lock()
	stored := len(repo.items)
	repo.mu.Unlock()
	if stored != n {
		t.Fatalf("stored memories = %d, want %d", stored, n)
	}
}

func TestIngestRecordsAndClearsBacklogEntry(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{vec: unitVector(1)}

	backlog := newFakeBacklog()
	cfg := testConfig()
	e, err := newEngine(context.Background(), cfg, hnsw.New(hnsw.Params{M: 16, EfConstruction: 200, EfSearch: 100, MaxLayers: 5}), bm25.NewIndex(), repo, newFakeEmbCache(), newFakeResultCache(), emb, emb, backlog)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}

	id, err := e.Ingest(context.Background(), IngestRequest{UserID: "u1", Content: "x"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	backlog.mu.Lock()
	_, recorded := backlog.jobs[id]
	backlog.mu.Unlock()
	if !recorded {
		t.Fatal("expected backlog entry recorded immediately after Ingest")
	}

	e.jobs.Drain()

	backlog.mu.Lock()
	_, stillThere := backlog.jobs[id]
	backlog.mu.Unlock()
	if stillThere {
		t.Fatal("expected backlog entry removed once embedding completed")
	}
}
