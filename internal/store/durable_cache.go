package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/latticemem/engine/internal/cache"
	"github.com/latticemem/engine/internal/errs"
	"github.com/latticemem/engine/internal/vector"
)

var _ cache.DurableTier = (*DurableCache)(nil)

// durableCacheTTL is how long an embedding_cache row is considered valid
// before it is treated as a miss and eligible for pruning.
const durableCacheTTL = 30 * 24 * time.Hour

// DurableCache implements cache.DurableTier over the shared Postgres
// pool's embedding_cache table: the L0 tier of the three-tier embedding
// cache, surviving process restarts.
type DurableCache struct {
	pool *pgxpool.Pool
}

// NewDurableCache creates a DurableCache.
func NewDurableCache(pool *pgxpool.Pool) *DurableCache {
	return &DurableCache{pool: pool}
}

// Get returns the cached vector for key if present and not expired.
func (d *DurableCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	var insertedAt time.Time
	err := d.pool.QueryRow(ctx, `
		SELECT vector, inserted_at FROM embedding_cache WHERE key = $1`,
		key,
	).Scan(&blob, &insertedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.CacheUnavailable(fmt.Sprintf("durable cache read for key %s", key), err)
	}

	if time.Since(insertedAt) > durableCacheTTL {
		return nil, false, nil
	}

	vec, err := vector.Decode(blob)
	if err != nil {
		return nil, false, err
	}

	go d.touch(key)
	return vec, true, nil
}

// Set upserts the cached vector for key.
func (d *DurableCache) Set(ctx context.Context, key string, vec []float32) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO embedding_cache (key, vector, inserted_at, last_accessed_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (key) DO UPDATE SET vector = $2, last_accessed_at = now()`,
		key, vector.Encode(vec),
	)
	if err != nil {
		return errs.CacheUnavailable(fmt.Sprintf("durable cache write for key %s", key), err)
	}
	return nil
}

// touch records last-access time for eviction bookkeeping. Best-effort and
// run off the request path; failures are not surfaced since they affect
// only cache statistics, never correctness.
func (d *DurableCache) touch(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = d.pool.Exec(ctx, `UPDATE embedding_cache SET last_accessed_at = now() WHERE key = $1`, key)
}

// Prune deletes durable cache rows older than the TTL, meant to be called
// periodically by a maintenance task.
func (d *DurableCache) Prune(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM embedding_cache WHERE inserted_at < $1`, time.Now().Add(-durableCacheTTL))
	if err != nil {
		return 0, errs.Store("prune durable embedding cache", err)
	}
	return tag.RowsAffected(), nil
}
