package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
)

func (s *PostgresStore) InsertDependency(ctx context.Context, jobID, dependsOnJobID uuid.UUID) error {
	if jobID == dependsOnJobID {
		return models.ErrCyclicDependency
	}

	var wouldCycle bool
	err := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE reachable(id) AS (
			SELECT depends_on_job_id FROM job_dependencies WHERE job_id = $1
			UNION
			SELECT jd.depends_on_job_id FROM job_dependencies jd JOIN reachable r ON jd.job_id = r.id
		)
		SELECT EXISTS(SELECT 1 FROM reachable WHERE id = $2)`,
		dependsOnJobID, jobID,
	).Scan(&wouldCycle)
	if err != nil {
		return fmt.Errorf("insert dependency: cycle check: %w", err)
	}
	if wouldCycle {
		return models.ErrCyclicDependency
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_dependencies (job_id, depends_on_job_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		jobID, dependsOnJobID,
	)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDependenciesOf(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on_job_id FROM job_dependencies WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies of: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

func (s *PostgresStore) ListDependents(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id FROM job_dependencies WHERE depends_on_job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}
