package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
)

// scanner is satisfied by both *sql.Row and *sql.Rows, letting jobColumns
// and scanJob serve both a single-row lookup and a multi-row claim query.
type scanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, type, payload, priority, idempotency_key, scheduled_at, status, attempt,
	max_attempts, retry_policy, base_delay_seconds, timeout_seconds, worker_id, started_at,
	completed_at, error_message, error_detail, result, workflow_id, created_at, updated_at`

// scanJob scans one jobColumns row into a models.Job.
func scanJob(s scanner) (models.Job, error) {
	var j models.Job
	var payload, result []byte
	var workerID uuid.NullUUID
	var workflowID uuid.NullUUID
	var startedAt, completedAt sql.NullTime
	var baseDelaySeconds, timeoutSeconds int64

	err := s.Scan(
		&j.ID, &j.Type, &payload, &j.Priority, &j.IdempotencyKey, &j.ScheduledAt, &j.Status, &j.Attempt,
		&j.MaxAttempts, &j.RetryPolicy, &baseDelaySeconds, &timeoutSeconds, &workerID, &startedAt,
		&completedAt, &j.ErrorMessage, &j.ErrorDetail, &result, &workflowID, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job: %w", err)
	}

	j.Payload = json.RawMessage(payload)
	j.Result = json.RawMessage(result)
	j.BaseDelay = time.Duration(baseDelaySeconds) * time.Second
	j.Timeout = time.Duration(timeoutSeconds) * time.Second
	if workerID.Valid {
		id := workerID.UUID
		j.WorkerID = &id
	}
	if workflowID.Valid {
		id := workflowID.UUID
		j.WorkflowID = &id
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

// nilIfZeroUUID returns nil if id is nil, otherwise *id. Used so optional
// UUID columns (worker_id, workflow_id) round-trip as SQL NULL when unset. A
// non-nil pointer to the zero UUID is written as-is, which is how
// BrokerSentinelWorkerID is stored.
func nilIfZeroUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

// nilIfZeroTime returns nil if t is nil, otherwise *t. Used for optional
// timestamp columns (started_at, completed_at).
func nilIfZeroTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// nilIfEmptyJSON returns nil if raw is empty, otherwise the raw bytes.
// Mirrors the teacher's nilIfEmpty helper for nullable text columns.
func nilIfEmptyJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// nilIfEmptyString returns nil if s is empty, otherwise s.
func nilIfEmptyString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanUUIDs scans a single-column uuid result set.
func scanUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan uuid: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan uuids: iterate: %w", err)
	}
	return ids, nil
}
