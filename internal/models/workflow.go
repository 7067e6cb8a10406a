package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow groups jobs into a dependency graph. Its status is never stored —
// internal/workflow derives it on demand from the status of its jobs (see
// spec.md §4.9).
type Workflow struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateWorkflowInput is the submission-interface data contract for
// create-workflow (spec.md §6).
type CreateWorkflowInput struct {
	Name        string
	Description string
	Config      json.RawMessage
}

// ValidateCreateWorkflowInput validates in as a create-workflow request.
func ValidateCreateWorkflowInput(in CreateWorkflowInput) (CreateWorkflowInput, error) {
	if in.Name == "" {
		return in, ErrValidation
	}
	return in, nil
}

// NewWorkflow constructs a Workflow from a validated CreateWorkflowInput.
func NewWorkflow(in CreateWorkflowInput, now time.Time) Workflow {
	return Workflow{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Config:      in.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WorkflowStatus is the aggregated view derived by internal/workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
)
