package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/broker"
	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "schedora_scheduler_test_")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(dir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testJob(t *testing.T, now time.Time, priority int) models.Job {
	t.Helper()
	in, err := models.ValidateCreateJobInput(models.CreateJobInput{
		Type:           "send_email",
		IdempotencyKey: uuid.NewString(),
		Priority:       &priority,
	}, now)
	if err != nil {
		t.Fatalf("ValidateCreateJobInput failed: %v", err)
	}
	return models.NewJob(in, now)
}

func TestClaimOnceTransitionsAndEnqueues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := testJob(t, now, models.DefaultPriority)
	if err := st.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	b := broker.New()
	sched := New(st, b)

	claimed, err := sched.ClaimOnce(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ClaimOnce failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != j.ID {
		t.Fatalf("ClaimOnce = %+v, want just %s", claimed, j.ID)
	}

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobScheduled {
		t.Errorf("job status = %v, want SCHEDULED", got.Status)
	}
	if got.WorkerID == nil || *got.WorkerID != store.BrokerSentinelWorkerID {
		t.Errorf("job worker_id = %v, want broker sentinel", got.WorkerID)
	}

	if b.ReadyLen() != 1 {
		t.Errorf("broker ReadyLen = %d, want 1", b.ReadyLen())
	}
	leased, ok := b.Lease(ctx, time.Second)
	if !ok || leased != j.ID {
		t.Fatalf("expected to lease %s from the broker, got %v (%v)", j.ID, leased, ok)
	}
}

func TestClaimOncePrioritizesHigherPriorityJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := testJob(t, now, 1)
	high := testJob(t, now, 9)
	if err := st.InsertJob(ctx, low); err != nil {
		t.Fatalf("InsertJob(low) failed: %v", err)
	}
	if err := st.InsertJob(ctx, high); err != nil {
		t.Fatalf("InsertJob(high) failed: %v", err)
	}

	b := broker.New()
	sched := New(st, b)
	if _, err := sched.ClaimOnce(ctx, now.Add(time.Second)); err != nil {
		t.Fatalf("ClaimOnce failed: %v", err)
	}

	first, ok := b.Lease(ctx, time.Second)
	if !ok || first != high.ID {
		t.Fatalf("expected high-priority job leased first, got %v", first)
	}
}

func TestClaimOnceSkipsUnreadyDependents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	predecessor := testJob(t, now, models.DefaultPriority)
	dependent := testJob(t, now, models.DefaultPriority)
	if err := st.InsertJob(ctx, predecessor); err != nil {
		t.Fatalf("InsertJob(predecessor) failed: %v", err)
	}
	if err := st.InsertJob(ctx, dependent); err != nil {
		t.Fatalf("InsertJob(dependent) failed: %v", err)
	}
	if err := st.InsertDependency(ctx, dependent.ID, predecessor.ID); err != nil {
		t.Fatalf("InsertDependency failed: %v", err)
	}

	b := broker.New()
	sched := New(st, b)
	claimed, err := sched.ClaimOnce(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ClaimOnce failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != predecessor.ID {
		t.Fatalf("ClaimOnce = %+v, want only the predecessor", claimed)
	}
	if b.ReadyLen() != 1 {
		t.Errorf("broker ReadyLen = %d, want 1 (dependent must not be enqueued yet)", b.ReadyLen())
	}
}
