// Package broker implements the Queue/Lease Broker: an in-process,
// priority-ordered handout of ready job identifiers, backed by container/heap
// (spec.md §4.2). No example in the retrieval pack wires a distributed queue
// client (redis/nsq/amqp/nats), so this stays in-process and advisory —
// losing an entry here only delays scheduling until the Heartbeat Monitor's
// orphan sweep reclaims the job (spec.md §4.5, §4.7(c)).
package broker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DLQEntry records a job that exhausted its retries or was explicitly
// dead-lettered.
type DLQEntry struct {
	JobID  uuid.UUID
	Reason string
	SentAt time.Time
}

// Broker is a priority-ordered, in-memory ready queue plus a dead-letter
// collection. All methods are safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  priorityQueue
	byID   map[uuid.UUID]*entry
	leased map[uuid.UUID]struct{}
	dlq    []DLQEntry
	seq    int64
}

// New constructs an empty Broker.
func New() *Broker {
	b := &Broker{
		byID:   make(map[uuid.UUID]*entry),
		leased: make(map[uuid.UUID]struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	heap.Init(&b.ready)
	return b
}

// Enqueue adds jobID to the ready collection at priority. It is idempotent
// on jobID: re-enqueuing a job already ready or already leased is a no-op
// (spec.md §4.2).
func (b *Broker) Enqueue(jobID uuid.UUID, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, leased := b.leased[jobID]; leased {
		return
	}
	if _, ready := b.byID[jobID]; ready {
		return
	}

	b.seq++
	e := &entry{jobID: jobID, priority: priority, seq: b.seq}
	heap.Push(&b.ready, e)
	b.byID[jobID] = e
	b.cond.Signal()
}

// Lease returns the next job identifier under priority order (higher first,
// FIFO within equal priority), atomically removing it from the ready
// collection. It blocks up to timeout waiting for a ready entry; ok is false
// if none became available in time or ctx was canceled first.
func (b *Broker) Lease(ctx context.Context, timeout time.Duration) (jobID uuid.UUID, ok bool) {
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.ready.Len() == 0 {
		if ctx.Err() != nil {
			return uuid.Nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return uuid.Nil, false
		}
		// Wake the wait periodically even with nothing enqueued, so a
		// canceled ctx or an expired deadline is noticed promptly rather
		// than only on the next Enqueue/Requeue.
		wait := remaining
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		timer := time.AfterFunc(wait, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		timer.Stop()
	}

	e := heap.Pop(&b.ready).(*entry)
	delete(b.byID, e.jobID)
	b.leased[e.jobID] = struct{}{}
	return e.jobID, true
}

// Requeue returns a previously leased entry to the ready collection at its
// original priority, used when a lease holder gives the job back (the
// Worker Runtime does so when it has no free concurrency permit).
func (b *Broker) Requeue(jobID uuid.UUID, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.leased, jobID)
	if _, ready := b.byID[jobID]; ready {
		return
	}
	b.seq++
	e := &entry{jobID: jobID, priority: priority, seq: b.seq}
	heap.Push(&b.ready, e)
	b.byID[jobID] = e
	b.cond.Signal()
}

// Ack is a no-op confirmation that a leased job finished; it only clears the
// lease bookkeeping (spec.md §4.2).
func (b *Broker) Ack(jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leased, jobID)
}

// SendToDLQ records jobID in the dead-letter collection and clears its
// lease, if any.
func (b *Broker) SendToDLQ(jobID uuid.UUID, reason string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leased, jobID)
	b.dlq = append(b.dlq, DLQEntry{JobID: jobID, Reason: reason, SentAt: at})
}

// Purge clears the ready collection. Leased entries and the DLQ are
// untouched.
func (b *Broker) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = priorityQueue{}
	b.byID = make(map[uuid.UUID]*entry)
}

// DLQ returns a snapshot of the dead-letter collection.
func (b *Broker) DLQ() []DLQEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DLQEntry, len(b.dlq))
	copy(out, b.dlq)
	return out
}

// ReadyLen reports the number of entries currently ready to lease, for
// observability and tests.
func (b *Broker) ReadyLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready.Len()
}
