package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
)

func (s *PostgresStore) InsertWorkflow(ctx context.Context, wf models.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		wf.ID, wf.Name, wf.Description, nilIfEmptyJSON(wf.Config), wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "workflows_name_key") {
			return models.ErrDuplicateName
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, config, created_at, updated_at FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Workflow{}, models.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func scanWorkflow(s scanner) (models.Workflow, error) {
	var wf models.Workflow
	var config []byte
	err := s.Scan(&wf.ID, &wf.Name, &wf.Description, &config, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return wf, err
	}
	wf.Config = config
	return wf, nil
}
