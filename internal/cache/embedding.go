// Package cache implements the engine's in-memory cache tiers: the L1/L2
// embedding LRUs and the result cache, all mutex-guarded with exact
// least-recently-used eviction.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/latticemem/engine/internal/errs"
)

// DurableTier is the L0 persistent backing store for embeddings, shared
// with the memory store's database but keyed independently. Implemented by
// internal/store.DurableCache; kept as an interface here so this package
// never imports the store package.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// EmbeddingCache is the three-tier embedding cache: L0 durable, L1 exact
// in-memory LRU, L2 semantic (near-duplicate) in-memory LRU.
type EmbeddingCache struct {
	durable         DurableTier
	durableRequired bool
	model           string
	l1              *lru[[]float32]
	l2              *lru[[]float32]
	onDegrade       func()
}

// NewEmbeddingCache builds an EmbeddingCache. durable may be nil, in which
// case the cache degrades to in-memory-only tiers; durableRequired controls
// whether a nil/offline durable tier is a hard CacheUnavailable error.
func NewEmbeddingCache(model string, l1Size, l2Size int, durable DurableTier, durableRequired bool) *EmbeddingCache {
	return &EmbeddingCache{
		durable:         durable,
		durableRequired: durableRequired,
		model:           model,
		l1:              newLRU[[]float32](l1Size),
		l2:              newLRU[[]float32](l2Size),
	}
}

// Get looks up text across L1, L2, then L0 in order, populating faster
// tiers on a slower-tier hit.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	exactKey := ExactKey(c.model, text)

	if v, ok := c.l1.get(exactKey); ok {
		slog.Debug("embedding cache hit", "tier", "l1", "key", exactKey)
		return v, true, nil
	}

	semKey := SemanticKey(text)
	if v, ok := c.l2.get(semKey); ok {
		slog.Debug("embedding cache hit", "tier", "l2", "key", semKey)
		c.l1.set(exactKey, v)
		return v, true, nil
	}

	if c.durable == nil {
		if c.durableRequired {
			return nil, false, errs.CacheUnavailable("durable embedding cache tier is required but not configured", nil)
		}
		return nil, false, nil
	}

	v, ok, err := c.durable.Get(ctx, exactKey)
	if err != nil {
		if c.durableRequired {
			return nil, false, errs.CacheUnavailable("durable embedding cache tier unreachable", err)
		}
		slog.Warn("durable embedding cache unavailable, degrading to in-memory tiers", "error", err)
		c.degraded()
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	slog.Debug("embedding cache hit", "tier", "l0", "key", exactKey)
	c.l1.set(exactKey, v)
	c.l2.set(semKey, v)
	return v, true, nil
}

// Set populates all three tiers. The durable write is best-effort: a
// failure is logged but never propagated, since durable writes may be
// deferred to a background task per the cache's design.
func (c *EmbeddingCache) Set(ctx context.Context, text string, vec []float32) {
	exactKey := ExactKey(c.model, text)
	semKey := SemanticKey(text)

	c.l1.set(exactKey, vec)
	c.l2.set(semKey, vec)

	if c.durable == nil {
		return
	}
	if err := c.durable.Set(ctx, exactKey, vec); err != nil {
		slog.Warn("durable embedding cache write failed", "key", exactKey, "error", err)
	}
}

// SetDegradeHook registers fn to be called every time the durable tier is
// unreachable and the cache falls back to its in-memory tiers alone. Used
// to drive an external metric; nil is a valid value and disables the hook.
func (c *EmbeddingCache) SetDegradeHook(fn func()) {
	c.onDegrade = fn
}

func (c *EmbeddingCache) degraded() {
	if c.onDegrade != nil {
		c.onDegrade()
	}
}

// L1Len and L2Len expose tier occupancy for tests and diagnostics.
func (c *EmbeddingCache) L1Len() int { return c.l1.len() }
func (c *EmbeddingCache) L2Len() int { return c.l2.len() }

// ExactKey is the L0/L1 cache key: hash(model, normalized_text).
func ExactKey(model, text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	h := sha256.Sum256([]byte(model + "\x00" + normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}

var nonAlnumSemantic = regexp.MustCompile(`[^a-z0-9]+`)

// SemanticKey is the L2 cache key: a hash of the sorted multiset of content
// tokens longer than three characters, capped at the first 20 tokens.
func SemanticKey(text string) string {
	normalized := strings.ToLower(text)
	tokens := nonAlnumSemantic.Split(normalized, -1)

	var long []string
	for _, tok := range tokens {
		if len(tok) > 3 {
			long = append(long, tok)
		}
	}
	sort.Strings(long)
	if len(long) > 20 {
		long = long[:20]
	}

	h := sha256.Sum256([]byte(strings.Join(long, "\x00")))
	return fmt.Sprintf("sem:%x", h[:16])
}
