package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/latticemem/engine/internal/bm25"
	"github.com/latticemem/engine/internal/errs"
	"github.com/latticemem/engine/internal/hnsw"
	"github.com/latticemem/engine/internal/model"
	"github.com/latticemem/engine/internal/vector"
)

// MemoryStore persists memory items in the memory_items table and serves
// the retrieval pipeline's Corpus interface directly, so the pipeline
// never needs its own database dependency.
type MemoryStore struct {
	pool *pgxpool.Pool
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(pool *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{pool: pool}
}

// Insert stores a new memory item with status pending and no embedding
// yet; the background embedding pipeline fills those in later via
// UpdateEmbedding. Returns the assigned id.
func (s *MemoryStore) Insert(ctx context.Context, item model.MemoryItem) (int64, error) {
	if item.Metadata == nil {
		item.Metadata = json.RawMessage("{}")
	}
	now := time.Now().Unix()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO memory_items
			(user_id, character_id, content, created_at, importance, emotional_weight, metadata, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		item.UserID, item.CharacterID, item.Content, item.CreatedAt,
		item.Importance, item.EmotionalWeight, item.Metadata, model.StatusPending,
	).Scan(&id)
	if err != nil {
		return 0, errs.Store(fmt.Sprintf("insert memory item for user %s", item.UserID), err)
	}
	return id, nil
}

// UpdateEmbedding persists the completed embedding and flips status. blob
// is the codec-encoded vector (see internal/vector.Encode); it is decoded
// back into float32s here since pgvector's driver type wants the slice
// form, not the wire blob.
func (s *MemoryStore) UpdateEmbedding(ctx context.Context, id int64, blob []byte, status model.MigrationStatus) error {
	vec, err := vector.Decode(blob)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE memory_items SET embedding = $2, status = $3 WHERE id = $1`,
		id, pgvector.NewVector(vec), status,
	)
	if err != nil {
		return errs.Store(fmt.Sprintf("update embedding for memory %d", id), err)
	}
	return nil
}

// MarkFailed records that embedding generation failed for a memory item,
// so it is surfaced by PendingEmbeddings for retry rather than silently
// stuck at pending forever.
func (s *MemoryStore) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memory_items SET status = $2 WHERE id = $1`, id, model.StatusFailed)
	if err != nil {
		return errs.Store(fmt.Sprintf("mark memory %d failed", id), err)
	}
	return nil
}

// PendingEmbeddings returns memory items awaiting (or needing retry of)
// embedding generation, oldest first, for the background pipeline and for
// crash-recovery replay from the durable job backlog.
func (s *MemoryStore) PendingEmbeddings(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, character_id, content, created_at, importance, emotional_weight, metadata, status
		FROM memory_items
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3`,
		model.StatusPending, model.StatusFailed, limit,
	)
	if err != nil {
		return nil, errs.Store("query pending embeddings", err)
	}
	defer rows.Close()

	var out []model.MemoryItem
	for rows.Next() {
		var it model.MemoryItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.CharacterID, &it.Content, &it.CreatedAt,
			&it.Importance, &it.EmotionalWeight, &it.Metadata, &it.Status); err != nil {
			return nil, errs.Store("scan pending embedding row", err)
		}
		out = append(out, it)
	}
	return out, nil
}

// LoadEmbedded returns every memory item with a completed embedding, for
// rehydrating the in-memory HNSW index and BM25 statistics at startup.
func (s *MemoryStore) LoadEmbedded(ctx context.Context) ([]model.MemoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, character_id, content, created_at, importance, emotional_weight, metadata, embedding
		FROM memory_items
		WHERE status = $1 AND embedding IS NOT NULL`,
		model.StatusCompleted,
	)
	if err != nil {
		return nil, errs.Store("query embedded memory items", err)
	}
	defer rows.Close()

	var out []model.MemoryItem
	for rows.Next() {
		var it model.MemoryItem
		var vec pgvector.Vector
		if err := rows.Scan(&it.ID, &it.UserID, &it.CharacterID, &it.Content, &it.CreatedAt,
			&it.Importance, &it.EmotionalWeight, &it.Metadata, &vec); err != nil {
			return nil, errs.Store("scan embedded memory item", err)
		}
		it.Status = model.StatusCompleted
		it.EmbeddingJSON = vec.Slice()
		out = append(out, it)
	}
	return out, nil
}

// ForUser implements retrieval.Corpus: every memory visible to userID
// (optionally scoped to characterID), as BM25 candidates.
func (s *MemoryStore) ForUser(ctx context.Context, userID string, characterID *string) ([]bm25.Candidate, error) {
	query := `SELECT id, content FROM memory_items WHERE user_id = $1 AND status = $2`
	args := []any{userID, model.StatusCompleted}
	if characterID != nil {
		query += ` AND character_id = $3`
		args = append(args, *characterID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Store(fmt.Sprintf("list memories for user %s", userID), err)
	}
	defer rows.Close()

	var out []bm25.Candidate
	for rows.Next() {
		var c bm25.Candidate
		if err := rows.Scan(&c.Index, &c.Text); err != nil {
			return nil, errs.Store("scan memory candidate", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Lookup implements retrieval.Corpus: full metadata for a set of ids.
func (s *MemoryStore) Lookup(ctx context.Context, ids []int64) (map[int64]hnsw.Metadata, error) {
	out := make(map[int64]hnsw.Metadata, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, character_id, content, created_at, importance, emotional_weight
		FROM memory_items WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, errs.Store("lookup memory metadata", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var m hnsw.Metadata
		if err := rows.Scan(&id, &m.UserID, &m.CharacterID, &m.Content, &m.CreatedAt, &m.Importance, &m.EmotionalWeight); err != nil {
			return nil, errs.Store("scan memory metadata", err)
		}
		out[id] = m
	}
	return out, nil
}

// SimilaritySearch runs a cosine-distance kNN query directly in Postgres
// via pgvector; Engine.VerifyRecall uses it to check the in-memory HNSW
// index's recall against the durable source of truth.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, queryVec []float32, userID string, topK int) ([]hnsw.SearchResult, error) {
	embedding := pgvector.NewVector(queryVec)

	rows, err := s.pool.Query(ctx, `
		SELECT id, content, user_id, character_id, created_at, importance, emotional_weight,
			1 - (embedding <=> $1::vector) AS similarity
		FROM memory_items
		WHERE user_id = $2 AND status = $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4`,
		embedding, userID, model.StatusCompleted, topK,
	)
	if err != nil {
		return nil, errs.Store("pgvector similarity search", err)
	}
	defer rows.Close()

	var out []hnsw.SearchResult
	for rows.Next() {
		var r hnsw.SearchResult
		if err := rows.Scan(&r.ID, &r.Metadata.Content, &r.Metadata.UserID, &r.Metadata.CharacterID,
			&r.Metadata.CreatedAt, &r.Metadata.Importance, &r.Metadata.EmotionalWeight, &r.Similarity); err != nil {
			return nil, errs.Store("scan similarity search row", err)
		}
		out = append(out, r)
	}
	return out, nil
}
