package heartbeat

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
	dir, err := os.MkdirTemp("", "schedora_heartbeat_test_")
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

func testWorker(now time.Time) models.Worker {
	return models.Worker{
		ID:                uuid.New(),
		Hostname:          "host-1",
		ProcessIdentity:   "pid-1",
		Version:           "1.0.0",
		MaxConcurrentJobs: 4,
		Status:            models.WorkerActive,
		LastHeartbeat:     now,
		RegisteredAt:      now,
	}
}

func testRunningJob(t *testing.T, now time.Time, workerID uuid.UUID) models.Job {
	t.Helper()
	in, err := models.ValidateCreateJobInput(models.CreateJobInput{
		Type:           "send_email",
		IdempotencyKey: uuid.NewString(),
	}, now)
	if err != nil {
		t.Fatalf("ValidateCreateJobInput failed: %v", err)
	}
	j := models.NewJob(in, now)
	j.Status = models.JobRunning
	j.WorkerID = &workerID
	j.StartedAt = &now
	return j
}

func TestDetectAndReclaimStaleWorkersReassignsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w := testWorker(now.Add(-5 * time.Minute))
	if err := s.UpsertWorker(ctx, w); err != nil {
		t.Fatalf("UpsertWorker failed: %v", err)
	}

	j := testRunningJob(t, now, w.ID)
	j.Attempt = 0
	j.MaxAttempts = 3
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	m := New(s, broker.New(), WithStaleThreshold(time.Minute))
	staleCount, reassignedCount := m.detectAndReclaimStaleWorkers(ctx, now)
	if staleCount != 1 {
		t.Fatalf("staleCount = %d, want 1", staleCount)
	}
	if reassignedCount != 1 {
		t.Fatalf("reassignedCount = %d, want 1", reassignedCount)
	}

	gotWorker, err := s.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorker failed: %v", err)
	}
	if gotWorker.Status != models.WorkerStale {
		t.Errorf("worker status = %v, want STALE", gotWorker.Status)
	}

	gotJob, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if gotJob.Status != models.JobPending {
		t.Errorf("job status = %v, want PENDING", gotJob.Status)
	}
	if gotJob.Attempt != 1 {
		t.Errorf("job attempt = %d, want 1", gotJob.Attempt)
	}
	if gotJob.WorkerID != nil {
		t.Errorf("job worker_id = %v, want nil after reclaim", gotJob.WorkerID)
	}
	if !gotJob.ScheduledAt.After(now) {
		t.Errorf("job scheduled_at = %v, want a future backoff time", gotJob.ScheduledAt)
	}
}

func TestDetectAndReclaimStaleWorkersDeadLettersExhaustedJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w := testWorker(now.Add(-5 * time.Minute))
	if err := s.UpsertWorker(ctx, w); err != nil {
		t.Fatalf("UpsertWorker failed: %v", err)
	}

	j := testRunningJob(t, now, w.ID)
	j.Attempt = 2
	j.MaxAttempts = 3 // next attempt (3) reaches max_attempts
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	b := broker.New()
	m := New(s, b, WithStaleThreshold(time.Minute))
	_, reassignedCount := m.detectAndReclaimStaleWorkers(ctx, now)
	if reassignedCount != 1 {
		t.Fatalf("reassignedCount = %d, want 1", reassignedCount)
	}

	gotJob, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if gotJob.Status != models.JobDead {
		t.Errorf("job status = %v, want DEAD", gotJob.Status)
	}
	if gotJob.CompletedAt == nil {
		t.Error("expected completed_at to be set on DEAD transition")
	}

	dlq := b.DLQ()
	if len(dlq) != 1 || dlq[0].JobID != j.ID {
		t.Fatalf("DLQ() = %+v, want one entry for job %s", dlq, j.ID)
	}
}

func TestSweepOrphanScheduledJobsRevertsWithoutAttemptIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	in, err := models.ValidateCreateJobInput(models.CreateJobInput{
		Type:           "send_email",
		IdempotencyKey: uuid.NewString(),
	}, now)
	if err != nil {
		t.Fatalf("ValidateCreateJobInput failed: %v", err)
	}
	j := models.NewJob(in, now)
	j.Status = models.JobScheduled
	j.WorkerID = &store.BrokerSentinelWorkerID
	j.UpdatedAt = now.Add(-10 * time.Minute)
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	m := New(s, broker.New(), WithOrphanGracePeriod(time.Minute))
	swept := m.sweepOrphanScheduledJobs(ctx, now)
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobPending {
		t.Errorf("job status = %v, want PENDING", got.Status)
	}
	if got.Attempt != 0 {
		t.Errorf("job attempt = %d, want 0 (orphan sweep must not increment)", got.Attempt)
	}
}

func TestTickCleansUpStoppedWorkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w := testWorker(now)
	w.Status = models.WorkerStopped
	if err := s.UpsertWorker(ctx, w); err != nil {
		t.Fatalf("UpsertWorker failed: %v", err)
	}
	if err := s.TouchWorkerHeartbeat(ctx, w.ID, now.Add(-2*time.Hour), nil, nil); err != nil {
		t.Fatalf("TouchWorkerHeartbeat failed: %v", err)
	}
	if err := s.MarkWorkerStatus(ctx, w.ID, models.WorkerStopped); err != nil {
		t.Fatalf("MarkWorkerStatus failed: %v", err)
	}

	m := New(s, broker.New(), WithStoppedCleanupAge(time.Hour))
	m.Tick(ctx)

	if _, err := s.GetWorker(ctx, w.ID); err == nil {
		t.Error("expected stopped worker older than cleanup age to be deleted")
	}
}
