package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/latticemem/engine/internal/errs"
)

// PendingEmbeddingJob records the information needed to resume a
// not-yet-embedded memory item after a process restart.
type PendingEmbeddingJob struct {
	MemoryID int64  `json:"memoryId"`
	UserID   string `json:"userId"`
	Content  string `json:"content"`
}

// Backlog persists pending embedding jobs to Redis so the in-process job
// queue's work survives a crash between an ingest's Insert and the
// background embedder completing. Redis is durability only: the queue's
// goroutine pool remains the sole concurrency bound and execution path.
type Backlog struct {
	client *redis.Client
	key    string
}

// NewBacklog creates a Backlog over an existing Redis client. Pass a nil
// client to disable the backlog entirely (Record/Remove become no-ops).
func NewBacklog(client *redis.Client, namespace string) *Backlog {
	return &Backlog{client: client, key: namespace + ":pending-embeddings"}
}

// Record adds job to the durable backlog. Best-effort: failures are logged
// and swallowed, mirroring the durable cache's write semantics, since the
// in-process queue is still the execution path of record.
func (b *Backlog) Record(ctx context.Context, job PendingEmbeddingJob) {
	if b.client == nil {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		slog.Error("backlog: marshal pending job failed", "memory_id", job.MemoryID, "error", err)
		return
	}
	field := fmt.Sprintf("%d", job.MemoryID)
	if err := b.client.HSet(ctx, b.key, field, payload).Err(); err != nil {
		slog.Warn("backlog: record pending job failed", "memory_id", job.MemoryID, "error", err)
	}
}

// Remove clears job from the backlog once its embedding completes
// (successfully or not).
func (b *Backlog) Remove(ctx context.Context, memoryID int64) {
	if b.client == nil {
		return
	}
	field := fmt.Sprintf("%d", memoryID)
	if err := b.client.HDel(ctx, b.key, field).Err(); err != nil {
		slog.Warn("backlog: remove pending job failed", "memory_id", memoryID, "error", err)
	}
}

// Replay returns every job still recorded in the backlog, for use at
// startup to re-enqueue embeddings that never completed before a restart.
func (b *Backlog) Replay(ctx context.Context) ([]PendingEmbeddingJob, error) {
	if b.client == nil {
		return nil, nil
	}
	raw, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, errs.Store("backlog replay failed", err)
	}
	jobs := make([]PendingEmbeddingJob, 0, len(raw))
	for field, payload := range raw {
		var job PendingEmbeddingJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			slog.Error("backlog: corrupt pending job entry, skipping", "field", field, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
