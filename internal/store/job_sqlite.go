package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/statemachine"
)

func (s *SQLiteStore) InsertJob(ctx context.Context, j models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, priority, idempotency_key, scheduled_at, status, attempt,
			max_attempts, retry_policy, base_delay_seconds, timeout_seconds, worker_id, started_at,
			completed_at, error_message, error_detail, result, workflow_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, nilIfEmptyJSON(j.Payload), j.Priority, j.IdempotencyKey, j.ScheduledAt, j.Status, j.Attempt,
		j.MaxAttempts, j.RetryPolicy, int64(j.BaseDelay/time.Second), int64(j.Timeout/time.Second),
		nilIfZeroUUID(j.WorkerID), nilIfZeroTime(j.StartedAt), nilIfZeroTime(j.CompletedAt),
		j.ErrorMessage, j.ErrorDetail, nilIfEmptyJSON(j.Result), nilIfZeroUUID(j.WorkflowID), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintViolation(err) {
			return models.ErrDuplicateIdempotency
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, expectedStatus, newStatus models.JobStatus, mutate func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update job status: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	if job.Status != expectedStatus {
		return models.ErrConflict
	}
	if err := statemachine.Validate(expectedStatus, newStatus); err != nil {
		return err
	}

	if mutate != nil {
		mutate(&job)
	}
	job.Status = newStatus
	job.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempt = ?, worker_id = ?, started_at = ?, completed_at = ?,
			error_message = ?, error_detail = ?, result = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.Attempt, nilIfZeroUUID(job.WorkerID), nilIfZeroTime(job.StartedAt), nilIfZeroTime(job.CompletedAt),
		job.ErrorMessage, job.ErrorDetail, nilIfEmptyJSON(job.Result), job.ScheduledAt, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job row: %w", err)
	}
	return tx.Commit()
}

// ClaimReadyJobs has no SKIP LOCKED equivalent in SQLite. Since mu already
// serializes every writer in this process and db.SetMaxOpenConns(1) prevents
// a second OS-level connection from interleaving, select-then-update here is
// equivalent in effect, just not through the same SQL primitive.
func (s *SQLiteStore) ClaimReadyJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id FROM jobs j
		WHERE j.status = 'PENDING' AND j.scheduled_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM job_dependencies d
				JOIN jobs dep ON dep.id = d.depends_on_job_id
				WHERE d.job_id = j.id AND dep.status <> 'SUCCESS'
			)
		ORDER BY j.priority DESC, j.scheduled_at ASC, j.created_at ASC, j.id ASC
		LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim ready jobs: select candidates: %w", err)
	}
	ids, err := scanUUIDs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'SCHEDULED', worker_id = ?, updated_at = ? WHERE id = ? AND status = 'PENDING'`,
			BrokerSentinelWorkerID, now, id,
		)
		if err != nil {
			return nil, fmt.Errorf("claim ready jobs: update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim ready jobs: rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		j, err := scanJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *SQLiteStore) ListPendingJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'PENDING' AND scheduled_at <= ?
		ORDER BY priority DESC, scheduled_at ASC, created_at ASC, id ASC
		LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *SQLiteStore) ListJobsForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for workflow: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *SQLiteStore) ListJobsByWorker(ctx context.Context, workerID uuid.UUID, statuses []models.JobStatus) ([]models.Job, error) {
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, workerID)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, st)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE worker_id = ? AND status IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by worker: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *SQLiteStore) ListOrphanScheduledJobs(ctx context.Context, olderThan time.Time) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'SCHEDULED' AND worker_id = ? AND updated_at < ?`,
		BrokerSentinelWorkerID, olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphan scheduled jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *SQLiteStore) ReassignJob(ctx context.Context, id uuid.UUID, expectedStatus, newStatus models.JobStatus, scheduledAt time.Time, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, worker_id = NULL, started_at = NULL, scheduled_at = ?, attempt = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		newStatus, scheduledAt, attempt, now, id, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("reassign job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reassign job: rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrConflict
	}
	return nil
}

func isUniqueConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
