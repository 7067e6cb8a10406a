package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLeaseOrderIsPriorityThenFIFO(t *testing.T) {
	b := New()
	low := uuid.New()
	high := uuid.New()
	mid := uuid.New()

	b.Enqueue(low, 1)
	b.Enqueue(high, 9)
	b.Enqueue(mid, 5)

	ctx := context.Background()
	first, ok := b.Lease(ctx, time.Second)
	if !ok || first != high {
		t.Fatalf("first lease = %v, want high-priority job", first)
	}
	second, ok := b.Lease(ctx, time.Second)
	if !ok || second != mid {
		t.Fatalf("second lease = %v, want mid-priority job", second)
	}
	third, ok := b.Lease(ctx, time.Second)
	if !ok || third != low {
		t.Fatalf("third lease = %v, want low-priority job", third)
	}
}

func TestLeaseFIFOWithinEqualPriority(t *testing.T) {
	b := New()
	first := uuid.New()
	second := uuid.New()
	b.Enqueue(first, 5)
	b.Enqueue(second, 5)

	ctx := context.Background()
	got1, _ := b.Lease(ctx, time.Second)
	got2, _ := b.Lease(ctx, time.Second)
	if got1 != first || got2 != second {
		t.Errorf("expected FIFO order %v, %v; got %v, %v", first, second, got1, got2)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	b := New()
	id := uuid.New()
	b.Enqueue(id, 5)
	b.Enqueue(id, 9) // should not duplicate or bump priority
	if b.ReadyLen() != 1 {
		t.Fatalf("ReadyLen = %d, want 1", b.ReadyLen())
	}
}

func TestLeaseTimesOutWhenEmpty(t *testing.T) {
	b := New()
	ctx := context.Background()
	start := time.Now()
	_, ok := b.Lease(ctx, 100*time.Millisecond)
	if ok {
		t.Fatal("expected Lease to time out on an empty broker")
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Lease returned too early after %v", elapsed)
	}
}

func TestRequeueReturnsLeasedEntry(t *testing.T) {
	b := New()
	id := uuid.New()
	b.Enqueue(id, 5)

	ctx := context.Background()
	leased, ok := b.Lease(ctx, time.Second)
	if !ok || leased != id {
		t.Fatalf("Lease failed: %v, %v", leased, ok)
	}
	if b.ReadyLen() != 0 {
		t.Fatalf("ReadyLen after lease = %d, want 0", b.ReadyLen())
	}

	b.Requeue(id, 5)
	if b.ReadyLen() != 1 {
		t.Fatalf("ReadyLen after requeue = %d, want 1", b.ReadyLen())
	}
	again, ok := b.Lease(ctx, time.Second)
	if !ok || again != id {
		t.Fatalf("expected to re-lease the requeued job, got %v", again)
	}
}

func TestAckClearsLease(t *testing.T) {
	b := New()
	id := uuid.New()
	b.Enqueue(id, 5)
	ctx := context.Background()
	b.Lease(ctx, time.Second)
	b.Ack(id)

	// Re-enqueuing after ack should succeed (not treated as still leased).
	b.Enqueue(id, 5)
	if b.ReadyLen() != 1 {
		t.Fatalf("ReadyLen after ack+re-enqueue = %d, want 1", b.ReadyLen())
	}
}

func TestSendToDLQRecordsEntry(t *testing.T) {
	b := New()
	id := uuid.New()
	b.Enqueue(id, 5)
	ctx := context.Background()
	b.Lease(ctx, time.Second)

	now := time.Now()
	b.SendToDLQ(id, "max attempts exceeded", now)

	dlq := b.DLQ()
	if len(dlq) != 1 || dlq[0].JobID != id || dlq[0].Reason != "max attempts exceeded" {
		t.Errorf("DLQ() = %+v, want single entry for %v", dlq, id)
	}
}

func TestPurgeClearsReadyOnly(t *testing.T) {
	b := New()
	readyID := uuid.New()
	leasedID := uuid.New()
	b.Enqueue(leasedID, 5)
	b.Enqueue(readyID, 5)

	ctx := context.Background()
	b.Lease(ctx, time.Second) // same priority, so FIFO leases leasedID (enqueued first)

	b.Purge()
	if b.ReadyLen() != 0 {
		t.Errorf("ReadyLen after Purge = %d, want 0", b.ReadyLen())
	}

	// The lease survives the purge: re-enqueuing the leased job is still a no-op.
	b.Enqueue(leasedID, 5)
	if b.ReadyLen() != 0 {
		t.Errorf("ReadyLen after re-enqueuing the leased job = %d, want 0 (lease kept)", b.ReadyLen())
	}
}

func TestLeaseRespectsContextCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok := b.Lease(ctx, 5*time.Second)
	if ok {
		t.Fatal("expected Lease to return false after context cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Lease took %v to notice cancellation, want well under the 5s timeout", elapsed)
	}
}
