package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
)

func (s *SQLiteStore) UpsertWorker(ctx context.Context, w models.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, hostname, process_identity, version, max_concurrent_jobs, status,
			last_heartbeat, cpu_percent, memory_percent, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			process_identity = excluded.process_identity,
			version = excluded.version,
			max_concurrent_jobs = excluded.max_concurrent_jobs,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			cpu_percent = excluded.cpu_percent,
			memory_percent = excluded.memory_percent`,
		w.ID, w.Hostname, w.ProcessIdentity, w.Version, w.MaxConcurrentJobs, w.Status,
		w.LastHeartbeat, w.CPUPercent, w.MemoryPercent, w.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchWorkerHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, cpuPercent, memoryPercent *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat = ?, cpu_percent = ?, memory_percent = ?, status = ?
		WHERE id = ?`,
		at, cpuPercent, memoryPercent, models.WorkerActive, id,
	)
	if err != nil {
		return fmt.Errorf("touch worker heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch worker heartbeat: rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetWorker(ctx context.Context, id uuid.UUID) (models.Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worker{}, models.ErrNotFound
	}
	if err != nil {
		return models.Worker{}, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

func (s *SQLiteStore) ListStaleWorkers(ctx context.Context, threshold time.Time) ([]models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workerColumns+` FROM workers WHERE status = ? AND last_heartbeat < ?`,
		models.WorkerActive, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func (s *SQLiteStore) MarkWorkerStatus(ctx context.Context, id uuid.UUID, status models.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("mark worker status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteStoppedWorkersOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workers WHERE status = ? AND last_heartbeat < ?`,
		models.WorkerStopped, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete stopped workers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stopped workers: rows affected: %w", err)
	}
	return int(n), nil
}
