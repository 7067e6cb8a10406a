// Package workflow derives a workflow's aggregated status from the statuses
// of its jobs. A Workflow row never stores a status column — status is
// always computed on demand (spec.md §4.9), the way a build's status is
// computed from its steps rather than tracked as its own field.
package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/store"
)

// Counts tallies a workflow's jobs by status, for observability alongside
// the aggregated Status.
type Counts struct {
	Pending   int
	Scheduled int
	Running   int
	Success   int
	Failed    int
	Retrying  int
	Dead      int
	Canceled  int
}

// Total returns the number of jobs counted.
func (c Counts) Total() int {
	return c.Pending + c.Scheduled + c.Running + c.Success + c.Failed + c.Retrying + c.Dead + c.Canceled
}

// Report is the aggregated view of a workflow returned by get-workflow-status.
type Report struct {
	WorkflowID uuid.UUID
	Status     models.WorkflowStatus
	Counts     Counts
}

// Aggregator computes Reports against a Store.
type Aggregator struct {
	store store.Store
}

// New constructs an Aggregator backed by s.
func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Status computes workflowID's aggregated Report from the current status of
// every job it owns (spec.md §4.9):
//
//   - FAILED if any job is DEAD.
//   - RUNNING if any job is SCHEDULED, RUNNING, or RETRYING.
//   - COMPLETED if every remaining job is SUCCESS or CANCELED.
//   - PENDING otherwise (a workflow with no jobs yet, or jobs still waiting
//     to be scheduled).
func (a *Aggregator) Status(ctx context.Context, workflowID uuid.UUID) (Report, error) {
	jobs, err := a.store.ListJobsForWorkflow(ctx, workflowID)
	if err != nil {
		return Report{}, fmt.Errorf("workflow: list jobs for %s: %w", workflowID, err)
	}

	var c Counts
	for _, j := range jobs {
		switch j.Status {
		case models.JobPending:
			c.Pending++
		case models.JobScheduled:
			c.Scheduled++
		case models.JobRunning:
			c.Running++
		case models.JobSuccess:
			c.Success++
		case models.JobFailed:
			c.Failed++
		case models.JobRetrying:
			c.Retrying++
		case models.JobDead:
			c.Dead++
		case models.JobCanceled:
			c.Canceled++
		}
	}

	return Report{WorkflowID: workflowID, Status: aggregate(c), Counts: c}, nil
}

func aggregate(c Counts) models.WorkflowStatus {
	if c.Dead > 0 {
		return models.WorkflowFailed
	}
	if c.Scheduled > 0 || c.Running > 0 || c.Retrying > 0 {
		return models.WorkflowRunning
	}
	if c.Total() > 0 && c.Success+c.Canceled == c.Total() {
		return models.WorkflowCompleted
	}
	return models.WorkflowPending
}
