package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/statemachine"
)

func (s *PostgresStore) InsertJob(ctx context.Context, j models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, priority, idempotency_key, scheduled_at, status, attempt,
			max_attempts, retry_policy, base_delay_seconds, timeout_seconds, worker_id, started_at,
			completed_at, error_message, error_detail, result, workflow_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		j.ID, j.Type, nilIfEmptyJSON(j.Payload), j.Priority, j.IdempotencyKey, j.ScheduledAt, j.Status, j.Attempt,
		j.MaxAttempts, j.RetryPolicy, int64(j.BaseDelay/time.Second), int64(j.Timeout/time.Second),
		nilIfZeroUUID(j.WorkerID), nilIfZeroTime(j.StartedAt), nilIfZeroTime(j.CompletedAt),
		j.ErrorMessage, j.ErrorDetail, nilIfEmptyJSON(j.Result), nilIfZeroUUID(j.WorkflowID), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "jobs_idempotency_key_key") {
			return models.ErrDuplicateIdempotency
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, expectedStatus, newStatus models.JobStatus, mutate func(*models.Job)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update job status: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
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

	if err := updateJobRow(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

func updateJobRow(ctx context.Context, tx *sql.Tx, j models.Job) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, attempt = $2, worker_id = $3, started_at = $4, completed_at = $5,
			error_message = $6, error_detail = $7, result = $8, scheduled_at = $9, updated_at = $10
		WHERE id = $11`,
		j.Status, j.Attempt, nilIfZeroUUID(j.WorkerID), nilIfZeroTime(j.StartedAt), nilIfZeroTime(j.CompletedAt),
		j.ErrorMessage, j.ErrorDetail, nilIfEmptyJSON(j.Result), j.ScheduledAt, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job row: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimReadyJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET status = 'SCHEDULED', worker_id = $1, updated_at = $2
		WHERE id IN (
			SELECT j.id FROM jobs j
			WHERE j.status = 'PENDING' AND j.scheduled_at <= $2
				AND NOT EXISTS (
					SELECT 1 FROM job_dependencies d
					JOIN jobs dep ON dep.id = d.depends_on_job_id
					WHERE d.job_id = j.id AND dep.status <> 'SUCCESS'
				)
			ORDER BY j.priority DESC, j.scheduled_at ASC, j.created_at ASC, j.id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		BrokerSentinelWorkerID, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim ready jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim ready jobs: iterate: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) ListPendingJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'PENDING' AND scheduled_at <= $1
		ORDER BY priority DESC, scheduled_at ASC, created_at ASC, id ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) ListJobsForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for workflow: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) ListJobsByWorker(ctx context.Context, workerID uuid.UUID, statuses []models.JobStatus) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE worker_id = $1 AND status = ANY($2)`,
		workerID, pq.Array(statusSliceToStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("list jobs by worker: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) ListOrphanScheduledJobs(ctx context.Context, olderThan time.Time) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'SCHEDULED' AND worker_id = $1 AND updated_at < $2`,
		BrokerSentinelWorkerID, olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphan scheduled jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) ReassignJob(ctx context.Context, id uuid.UUID, expectedStatus, newStatus models.JobStatus, scheduledAt time.Time, attempt int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, worker_id = NULL, started_at = NULL, scheduled_at = $2, attempt = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
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

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: iterate: %w", err)
	}
	return jobs, nil
}

func statusSliceToStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
