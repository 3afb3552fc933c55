// Package batch coalesces individual embedding requests into fixed-size or
// fixed-delay batches against the external embedding service, dispatching
// each item concurrently through the connection pool.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/latticemem/engine/internal/errs"
	"github.com/latticemem/engine/internal/pool"
)

// RemoteEmbedder is the external embedding service contract: one model name
// and one prompt string in, one vector out.
type RemoteEmbedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedder coalesces Embed calls into batches of up to Size waiters,
// flushing either when the batch is full or MaxWait elapses since the
// first waiter enqueued.
type Embedder struct {
	remote RemoteEmbedder
	pool   *pool.Pool
	model  string
	size   int
	maxWait time.Duration

	mu      sync.Mutex
	pending []*waiter
	timer   *time.Timer
}

type waiter struct {
	text   string
	result chan result
}

type result struct {
	vec []float32
	err error
}

// New builds an Embedder with batch size B (default 10) and max wait W
// (default 50ms) if either is non-positive.
func New(remote RemoteEmbedder, p *pool.Pool, model string, size int, maxWait time.Duration) *Embedder {
	if size <= 0 {
		size = 10
	}
	if maxWait <= 0 {
		maxWait = 50 * time.Millisecond
	}
	return &Embedder{remote: remote, pool: p, model: model, size: size, maxWait: maxWait}
}

// Embed appends text to the pending batch and blocks until that item's
// embedding is ready, the batch's context is cancelled, or a catastrophic
// batch failure occurs.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	w := &waiter{text: text, result: make(chan result, 1)}

	e.mu.Lock()
	e.pending = append(e.pending, w)
	flush := len(e.pending) >= e.size
	var batch []*waiter
	if flush {
		batch = e.pending
		e.pending = nil
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	} else if e.timer == nil {
		e.timer = time.AfterFunc(e.maxWait, e.flushOnTimer)
	}
	e.mu.Unlock()

	if flush {
		go e.dispatch(context.Background(), batch)
	}

	select {
	case r := <-w.result:
		return r.vec, r.err
	case <-ctx.Done():
		return nil, errs.Timeout("embed call cancelled", ctx.Err())
	}
}

func (e *Embedder) flushOnTimer() {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.timer = nil
	e.mu.Unlock()

	if len(batch) > 0 {
		go e.dispatch(context.Background(), batch)
	}
}

// dispatch fires every waiter's remote call concurrently through the
// connection pool. Individual failures reach only their own waiter; this
// function does not reject the batch wholesale except when ctx is already
// done before dispatch begins, which is treated as catastrophic.
func (e *Embedder) dispatch(ctx context.Context, batch []*waiter) {
	if err := ctx.Err(); err != nil {
		for _, w := range batch {
			w.result <- result{err: errs.Timeout("batch dispatch context cancelled", err)}
		}
		return
	}

	var wg sync.WaitGroup
	for _, w := range batch {
		wg.Add(1)
		go func(w *waiter) {
			defer wg.Done()
			e.embedOne(ctx, w)
		}(w)
	}
	wg.Wait()
}

func (e *Embedder) embedOne(ctx context.Context, w *waiter) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	lease, err := e.pool.Acquire(callCtx)
	if err != nil {
		w.result <- result{err: err}
		return
	}

	vec, err := e.remote.Embed(callCtx, e.model, w.text)
	lease.Release(err == nil)
	if err != nil {
		w.result <- result{err: errs.Embedding("remote embedding call failed", err)}
		return
	}
	if len(vec) != 768 {
		w.result <- result{err: errs.Embedding("embedding dimension mismatch", nil)}
		return
	}
	w.result <- result{vec: vec}
}
