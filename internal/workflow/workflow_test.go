package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "schedora_workflow_test_")
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

func testJobWithStatus(t *testing.T, now time.Time, workflowID uuid.UUID, status models.JobStatus) models.Job {
	t.Helper()
	in, err := models.ValidateCreateJobInput(models.CreateJobInput{
		Type:           "send_email",
		IdempotencyKey: uuid.NewString(),
	}, now)
	if err != nil {
		t.Fatalf("ValidateCreateJobInput failed: %v", err)
	}
	j := models.NewJob(in, now)
	j.WorkflowID = &workflowID
	j.Status = status
	return j
}

func setupWorkflow(t *testing.T, s store.Store, now time.Time, statuses ...models.JobStatus) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	wf := models.NewWorkflow(models.CreateWorkflowInput{Name: uuid.NewString()}, now)
	if err := s.InsertWorkflow(ctx, wf); err != nil {
		t.Fatalf("InsertWorkflow failed: %v", err)
	}
	for _, status := range statuses {
		j := testJobWithStatus(t, now, wf.ID, status)
		if err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob failed: %v", err)
		}
	}
	return wf.ID
}

func TestStatusCompletedWhenEverySuccess(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	id := setupWorkflow(t, s, now, models.JobSuccess, models.JobSuccess)

	report, err := New(s).Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Status != models.WorkflowCompleted {
		t.Errorf("status = %v, want COMPLETED", report.Status)
	}
}

func TestStatusCompletedWithSuccessAndCanceledMix(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	id := setupWorkflow(t, s, now, models.JobSuccess, models.JobCanceled)

	report, err := New(s).Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Status != models.WorkflowCompleted {
		t.Errorf("status = %v, want COMPLETED (canceled jobs don't block completion)", report.Status)
	}
}

func TestStatusFailedWhenAnyDead(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	id := setupWorkflow(t, s, now, models.JobSuccess, models.JobDead)

	report, err := New(s).Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Status != models.WorkflowFailed {
		t.Errorf("status = %v, want FAILED", report.Status)
	}
}

func TestStatusFailedTakesPriorityOverRunning(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	id := setupWorkflow(t, s, now, models.JobDead, models.JobRunning)

	report, err := New(s).Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Status != models.WorkflowFailed {
		t.Errorf("status = %v, want FAILED even with a job still running", report.Status)
	}
}

func TestStatusRunningWhenAnyInFlight(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobScheduled, models.JobRunning, models.JobRetrying} {
		s := newTestStore(t)
		now := time.Now().UTC()
		id := setupWorkflow(t, s, now, models.JobSuccess, status)

		report, err := New(s).Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if report.Status != models.WorkflowRunning {
			t.Errorf("with a %s job, status = %v, want RUNNING", status, report.Status)
		}
	}
}

func TestStatusPendingWhenJobsNotYetScheduled(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	id := setupWorkflow(t, s, now, models.JobPending, models.JobSuccess)

	report, err := New(s).Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Status != models.WorkflowPending {
		t.Errorf("status = %v, want PENDING", report.Status)
	}
}

func TestStatusPendingForEmptyWorkflow(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	ctx := context.Background()

	wf := models.NewWorkflow(models.CreateWorkflowInput{Name: "empty"}, now)
	if err := s.InsertWorkflow(ctx, wf); err != nil {
		t.Fatalf("InsertWorkflow failed: %v", err)
	}

	report, err := New(s).Status(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Status != models.WorkflowPending {
		t.Errorf("status = %v, want PENDING for a workflow with no jobs", report.Status)
	}
	if report.Counts.Total() != 0 {
		t.Errorf("counts total = %d, want 0", report.Counts.Total())
	}
}

func TestCountsTallyByCategory(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	id := setupWorkflow(t, s, now,
		models.JobPending, models.JobScheduled, models.JobRunning,
		models.JobSuccess, models.JobFailed, models.JobRetrying,
		models.JobDead, models.JobCanceled,
	)

	report, err := New(s).Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	want := Counts{Pending: 1, Scheduled: 1, Running: 1, Success: 1, Failed: 1, Retrying: 1, Dead: 1, Canceled: 1}
	if report.Counts != want {
		t.Errorf("counts = %+v, want %+v", report.Counts, want)
	}
}
