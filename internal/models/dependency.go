package models

import "github.com/google/uuid"

// DependencyEdge is a directed (job, depends_on_job) pair. The Durable Store
// rejects any insert that would introduce a cycle into the owning workflow's
// graph (spec.md §4.1); internal/dependency assumes the graph is acyclic.
type DependencyEdge struct {
	JobID          uuid.UUID `json:"job_id"`
	DependsOnJobID uuid.UUID `json:"depends_on_job_id"`
}
