package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ResultCache is an LRU + TTL cache of completed retrieval responses, keyed
// on hash(userId, queryText, options). T is the retrieval response type;
// kept generic so this package never imports internal/retrieval.
type ResultCache[T any] struct {
	entries *lru[resultEntry[T]]
	ttl     time.Duration
	now     func() time.Time
}

type resultEntry[T any] struct {
	value     T
	key       string
	userID    string
	expiresAt time.Time
}

// NewResultCache builds a ResultCache bounded to capacity entries, each
// valid for ttl after insertion.
func NewResultCache[T any](capacity int, ttl time.Duration) *ResultCache[T] {
	return &ResultCache[T]{
		entries: newLRU[resultEntry[T]](capacity),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached response for (userID, queryText, optionsKey) if
// present and not expired.
func (c *ResultCache[T]) Get(userID, queryText, optionsKey string) (T, bool) {
	var zero T
	key := ResultKey(userID, queryText, optionsKey)
	entry, ok := c.entries.get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		c.entries.delete(key)
		return zero, false
	}
	slog.Debug("result cache hit", "user_id", userID, "key", key)
	return entry.value, true
}

// Set stores a response under (userID, queryText, optionsKey).
func (c *ResultCache[T]) Set(userID, queryText, optionsKey string, value T) {
	key := ResultKey(userID, queryText, optionsKey)
	c.entries.set(key, resultEntry[T]{
		value:     value,
		key:       key,
		userID:    userID,
		expiresAt: c.now().Add(c.ttl),
	})
}

// InvalidateUser drops every cached response belonging to userID. Called
// when a new memory item for that user completes embedding, so fresh
// ingests are visible immediately instead of waiting out the TTL.
func (c *ResultCache[T]) InvalidateUser(userID string) {
	prefix := userID + ":"
	n := c.entries.deleteMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	if n > 0 {
		slog.Info("result cache invalidated for user", "user_id", userID, "entries_removed", n)
	}
}

// Len returns the number of entries currently cached.
func (c *ResultCache[T]) Len() int {
	return c.entries.len()
}

// ResultKey builds the deterministic cache key "userId:sha256(queryText,optionsKey)".
func ResultKey(userID, queryText, optionsKey string) string {
	h := sha256.Sum256([]byte(queryText + "\x00" + optionsKey))
	return userID + ":" + fmt.Sprintf("%x", h[:12])
}

// OptionsKey derives a deterministic hash component for the options struct
// that vary a retrieval's result (limit, characterId, etc). Callers build
// this from the fields that affect output, joined with a stable separator.
func OptionsKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// FormatFloat is a small helper so callers building OptionsKey from
// numeric options don't each reimplement formatting.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
