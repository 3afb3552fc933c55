// Package pool implements the bounded-concurrency gate over outbound
// embedding requests: a fixed number of slots, FIFO waiters, and running
// wait/latency/success/failure statistics.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/latticemem/engine/internal/errs"
)

// Pool is a fixed-capacity gate. Acquire blocks the caller until a slot is
// free or ctx is done; Release returns the slot (handed to the
// longest-waiting caller by the underlying semaphore's FIFO discipline).
type Pool struct {
	sem      *semaphore.Weighted
	capacity int64

	mu      sync.Mutex
	queued  int
	active  int
	waitSum time.Duration
	latSum  time.Duration
	waitN   int64
	latN    int64
	success int64
	failure int64
}

// New creates a Pool with the given number of concurrent slots.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Lease represents one acquired slot. Callers must call Release exactly
// once, reporting whether the guarded operation succeeded.
type Lease struct {
	p         *Pool
	acquiredAt time.Time
	released  bool
}

// Acquire blocks until a slot is available or ctx is done. Cancellation
// while waiting releases the queue position without leaking a slot. A
// deadline on ctx that elapses before a slot frees up fails with Timeout.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()

	p.mu.Lock()
	p.queued++
	p.mu.Unlock()

	err := p.sem.Acquire(ctx, 1)

	p.mu.Lock()
	p.queued--
	wait := time.Since(start)
	p.waitSum += wait
	p.waitN++
	if err == nil {
		p.active++
	}
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Timeout("pool acquire deadline exceeded", err)
		}
		return nil, errs.Timeout("pool acquire failed", err)
	}

	return &Lease{p: p, acquiredAt: time.Now()}, nil
}

// Release returns the slot to the pool and records latency/outcome
// statistics. success reports whether the guarded call succeeded.
func (l *Lease) Release(success bool) {
	if l.released {
		return
	}
	l.released = true

	latency := time.Since(l.acquiredAt)
	p := l.p
	p.mu.Lock()
	p.active--
	p.latSum += latency
	p.latN++
	if success {
		p.success++
	} else {
		p.failure++
	}
	p.mu.Unlock()

	p.sem.Release(1)
}

// Stats is a point-in-time snapshot of pool occupancy and outcome counts.
type Stats struct {
	Capacity        int
	Active          int
	Queued          int
	AvgWaitMillis   float64
	AvgLatencyMillis float64
	Successes       int64
	Failures        int64
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var avgWait, avgLat float64
	if p.waitN > 0 {
		avgWait = float64(p.waitSum.Milliseconds()) / float64(p.waitN)
	}
	if p.latN > 0 {
		avgLat = float64(p.latSum.Milliseconds()) / float64(p.latN)
	}

	return Stats{
		Capacity:        int(p.capacity),
		Active:          p.active,
		Queued:          p.queued,
		AvgWaitMillis:   avgWait,
		AvgLatencyMillis: avgLat,
		Successes:       p.success,
		Failures:        p.failure,
	}
}
