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

const workerColumns = `id, hostname, process_identity, version, max_concurrent_jobs, status,
	last_heartbeat, cpu_percent, memory_percent, registered_at`

func (s *PostgresStore) UpsertWorker(ctx context.Context, w models.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, hostname, process_identity, version, max_concurrent_jobs, status,
			last_heartbeat, cpu_percent, memory_percent, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			process_identity = EXCLUDED.process_identity,
			version = EXCLUDED.version,
			max_concurrent_jobs = EXCLUDED.max_concurrent_jobs,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			cpu_percent = EXCLUDED.cpu_percent,
			memory_percent = EXCLUDED.memory_percent`,
		w.ID, w.Hostname, w.ProcessIdentity, w.Version, w.MaxConcurrentJobs, w.Status,
		w.LastHeartbeat, w.CPUPercent, w.MemoryPercent, w.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchWorkerHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, cpuPercent, memoryPercent *float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat = $1, cpu_percent = $2, memory_percent = $3, status = $4
		WHERE id = $5`,
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

func (s *PostgresStore) GetWorker(ctx context.Context, id uuid.UUID) (models.Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worker{}, models.ErrNotFound
	}
	if err != nil {
		return models.Worker{}, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) ListStaleWorkers(ctx context.Context, threshold time.Time) ([]models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workerColumns+` FROM workers WHERE status = $1 AND last_heartbeat < $2`,
		models.WorkerActive, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func (s *PostgresStore) MarkWorkerStatus(ctx context.Context, id uuid.UUID, status models.WorkerStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("mark worker status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStoppedWorkersOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workers WHERE status = $1 AND last_heartbeat < $2`,
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

func scanWorker(s scanner) (models.Worker, error) {
	var w models.Worker
	err := s.Scan(&w.ID, &w.Hostname, &w.ProcessIdentity, &w.Version, &w.MaxConcurrentJobs, &w.Status,
		&w.LastHeartbeat, &w.CPUPercent, &w.MemoryPercent, &w.RegisteredAt)
	if err != nil {
		return w, err
	}
	return w, nil
}

func scanWorkers(rows *sql.Rows) ([]models.Worker, error) {
	var workers []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan workers: iterate: %w", err)
	}
	return workers, nil
}
