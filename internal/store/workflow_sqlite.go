package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
)

func (s *SQLiteStore) InsertWorkflow(ctx context.Context, wf models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Description, nilIfEmptyJSON(wf.Config), wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintViolation(err) {
			return models.ErrDuplicateName
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, config, created_at, updated_at FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Workflow{}, models.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}
