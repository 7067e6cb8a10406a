// Package dependency answers readiness questions over a job's dependency
// edges: whether a single job is ready to run, and which PENDING jobs
// currently qualify as ready candidates. Cycle prevention happens at edge
// insertion time in internal/store, so this package assumes the graph it's
// given is a DAG. Grounded on the predecessor-status-check shape of
// DependencyResolver.are_dependencies_met/get_ready_jobs in the original
// implementation, translated to this module's store interfaces.
package dependency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/store"
)

// Resolver answers dependency-readiness questions against a Store.
type Resolver struct {
	store store.Store
}

// New constructs a Resolver backed by s.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// IsReady reports whether jobID's every predecessor is in status SUCCESS. A
// job with no dependency edges is always ready.
func (r *Resolver) IsReady(ctx context.Context, jobID uuid.UUID) (bool, error) {
	deps, err := r.store.ListDependenciesOf(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("dependency: list dependencies of %s: %w", jobID, err)
	}
	if len(deps) == 0 {
		return true, nil
	}
	for _, depID := range deps {
		dep, err := r.store.GetJob(ctx, depID)
		if err != nil {
			return false, fmt.Errorf("dependency: get predecessor %s: %w", depID, err)
		}
		if dep.Status != models.JobSuccess {
			return false, nil
		}
	}
	return true, nil
}

// HasBlockedDependency reports whether any of jobID's predecessors is in
// FAILED, DEAD, or CANCELED. DEAD and CANCELED are terminal and block the
// dependent permanently; FAILED is reported too, although a FAILED job can
// still move on to RETRYING and later succeed. This never triggers automatic cancellation of the dependent — it stays PENDING
// until an operator intervenes, an explicit failure-propagation policy — it
// only tells a caller the job is worth flagging as blocked.
func (r *Resolver) HasBlockedDependency(ctx context.Context, jobID uuid.UUID) (bool, error) {
	deps, err := r.store.ListDependenciesOf(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("dependency: list dependencies of %s: %w", jobID, err)
	}
	for _, depID := range deps {
		dep, err := r.store.GetJob(ctx, depID)
		if err != nil {
			return false, fmt.Errorf("dependency: get predecessor %s: %w", depID, err)
		}
		switch dep.Status {
		case models.JobFailed, models.JobDead, models.JobCanceled:
			return true, nil
		}
	}
	return false, nil
}

// ReadyCandidates returns the IDs of up to limit PENDING jobs whose
// scheduled_at <= now and whose dependencies are all SUCCESS, ordered the
// same way the Scheduler's claim query orders them. This is an advisory,
// non-transactional view — the Scheduler's own ClaimReadyJobs is what
// actually claims jobs atomically; this exists for operators and tests that
// want to inspect readiness without mutating anything.
func (r *Resolver) ReadyCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	pending, err := r.store.ListPendingJobs(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dependency: list pending jobs: %w", err)
	}

	ready := make([]uuid.UUID, 0, len(pending))
	for _, job := range pending {
		ok, err := r.IsReady(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, job.ID)
		}
	}
	return ready, nil
}

// BlockedCandidates returns the IDs of PENDING jobs (out of up to limit
// PENDING jobs whose scheduled_at <= now) that have at least one predecessor
// HasBlockedDependency reports (FAILED, DEAD or CANCELED), for operator
// visibility into stuck work.
func (r *Resolver) BlockedCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	pending, err := r.store.ListPendingJobs(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dependency: list pending jobs: %w", err)
	}

	blocked := make([]uuid.UUID, 0)
	for _, job := range pending {
		ok, err := r.HasBlockedDependency(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			blocked = append(blocked, job.ID)
		}
	}
	return blocked, nil
}
