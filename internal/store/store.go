// Package store provides the Durable Store: the single source of truth for
// job, workflow, worker, and dependency state. All status mutation anywhere
// in this module goes through this package's compare-and-set update, never
// an in-memory object (spec.md §4.1, §9 "Job-as-state-machine").
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/models"
)

// JobRepo persists Job rows and implements the claim/reassign primitives the
// Scheduler and Heartbeat Monitor rely on.
type JobRepo interface {
	// InsertJob inserts a new job. Returns models.ErrDuplicateIdempotency if
	// job.IdempotencyKey collides with an existing job.
	InsertJob(ctx context.Context, job models.Job) error

	// GetJob retrieves a single job by ID. Returns models.ErrNotFound if absent.
	GetJob(ctx context.Context, id uuid.UUID) (models.Job, error)

	// UpdateJobStatus performs a compare-and-set transition: it only applies
	// if the row's current status equals expectedStatus, otherwise it returns
	// models.ErrConflict. mutate is applied to the in-flight copy before the
	// write so callers can set fields alongside the status (worker_id,
	// started_at, error fields, result, scheduled_at, attempt) atomically.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, expectedStatus models.JobStatus, newStatus models.JobStatus, mutate func(*models.Job)) error

	// ClaimReadyJobs atomically selects up to limit PENDING jobs whose
	// scheduled_at <= now and every dependency is satisfied, ordered by
	// (priority DESC, scheduled_at ASC, created_at ASC, id ASC), transitions
	// them PENDING -> SCHEDULED with worker_id set to the broker sentinel,
	// and returns the claimed rows. Implemented with skip-locked semantics so
	// concurrent schedulers make disjoint progress (spec.md §4.1, §4.5).
	ClaimReadyJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)

	// ListJobsForWorkflow returns every job belonging to workflowID.
	ListJobsForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]models.Job, error)

	// ListPendingJobs returns up to limit PENDING jobs whose scheduled_at <=
	// now, in ClaimReadyJobs' order (priority DESC, scheduled_at ASC,
	// created_at ASC, id ASC) and without claiming them. Used by
	// internal/dependency's non-transactional advisory readiness view; the
	// Scheduler's actual claim path is ClaimReadyJobs, not this.
	ListPendingJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)

	// ListJobsByWorker returns jobs currently owned by workerID in the given
	// statuses (used by the Heartbeat Monitor to find a STALE worker's work).
	ListJobsByWorker(ctx context.Context, workerID uuid.UUID, statuses []models.JobStatus) ([]models.Job, error)

	// ListOrphanScheduledJobs returns SCHEDULED jobs with no owning worker
	// (worker_id = the broker sentinel) whose updated_at is older than
	// olderThan (spec.md §4.5, §4.7(c)).
	ListOrphanScheduledJobs(ctx context.Context, olderThan time.Time) ([]models.Job, error)

	// ReassignJob is the atomic reclaim used by the Heartbeat Monitor: within
	// one update it sets status, clears worker_id and started_at, and sets
	// scheduled_at and attempt per the caller's computed values (spec.md
	// §4.7(b)). Like UpdateJobStatus it is a compare-and-set: the update only
	// applies if the row's current status equals expectedStatus, otherwise it
	// returns models.ErrConflict, so two Monitor instances racing to reclaim
	// the same stale job can only have one of them succeed.
	ReassignJob(ctx context.Context, id uuid.UUID, expectedStatus, newStatus models.JobStatus, scheduledAt time.Time, attempt int) error
}

// WorkflowRepo persists Workflow rows.
type WorkflowRepo interface {
	InsertWorkflow(ctx context.Context, wf models.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (models.Workflow, error)
}

// WorkerRepo persists Worker rows and the heartbeat/cleanup primitives the
// Heartbeat Monitor and Worker Runtime rely on.
type WorkerRepo interface {
	// UpsertWorker inserts or updates a worker's registration row.
	UpsertWorker(ctx context.Context, w models.Worker) error

	// TouchWorkerHeartbeat updates last_heartbeat and optional telemetry, and
	// flips status back to ACTIVE (a worker may recover from STALE).
	TouchWorkerHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, cpuPercent, memoryPercent *float64) error

	// GetWorker retrieves a single worker by ID. Returns models.ErrNotFound if absent.
	GetWorker(ctx context.Context, id uuid.UUID) (models.Worker, error)

	// ListStaleWorkers returns ACTIVE workers whose last_heartbeat is older
	// than threshold.
	ListStaleWorkers(ctx context.Context, threshold time.Time) ([]models.Worker, error)

	// MarkWorkerStatus sets a worker's status unconditionally (ACTIVE <->
	// STALE <-> STOPPED transitions are operator/monitor driven, not a job
	// state machine).
	MarkWorkerStatus(ctx context.Context, id uuid.UUID, status models.WorkerStatus) error

	// DeleteStoppedWorkersOlderThan removes STOPPED worker rows whose
	// last_heartbeat predates cutoff (spec.md §4.7(d)).
	DeleteStoppedWorkersOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// DependencyRepo persists directed job dependency edges.
type DependencyRepo interface {
	// InsertDependency adds a (jobID depends on dependsOnJobID) edge. Returns
	// models.ErrCyclicDependency if the edge would introduce a cycle into the
	// owning workflow's graph (spec.md §4.1).
	InsertDependency(ctx context.Context, jobID, dependsOnJobID uuid.UUID) error

	// ListDependenciesOf returns the jobs that jobID depends on.
	ListDependenciesOf(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)

	// ListDependents returns the jobs that depend on jobID, the inverse edge.
	ListDependents(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)
}

// Store aggregates every repository this module needs behind one handle, the
// way a caller obtains a single *PostgresStore or *SQLiteStore and uses it
// for jobs, workflows, workers, and dependencies alike.
type Store interface {
	JobRepo
	WorkflowRepo
	WorkerRepo
	DependencyRepo

	// Close releases the underlying connection pool.
	Close() error
}

// Opts holds the functional-options configuration shared by both backends.
type Opts struct {
	// DSN is the backend-specific data source name: a postgres:// URL for
	// NewPostgresStore, or a filesystem path for NewSQLiteStore.
	DSN string

	// MaxOpenConns, MaxIdleConns, ConnMaxLifetime tune the pool. Zero values
	// fall back to the package defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Option configures Opts.
type Option func(*Opts)

// WithDSN sets the data source name.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the data source name for NewPostgresStore. An alias
// of WithDSN kept distinct at the call site so main.go reads unambiguously.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithSQLiteDSN sets the database file path for NewSQLiteStore. An alias of
// WithDSN kept distinct at the call site so main.go reads unambiguously.
func WithSQLiteDSN(path string) Option {
	return WithDSN(path)
}

// WithMaxOpenConns overrides the default open-connection limit.
func WithMaxOpenConns(n int) Option {
	return func(o *Opts) { o.MaxOpenConns = n }
}

// WithMaxIdleConns overrides the default idle-connection limit.
func WithMaxIdleConns(n int) Option {
	return func(o *Opts) { o.MaxIdleConns = n }
}

// WithConnMaxLifetime overrides the default connection lifetime.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Opts) { o.ConnMaxLifetime = d }
}

// DetectDSNType classifies dsn as "postgres" or "sqlite3" by inspecting its
// shape: a postgres:// URL or a libpq keyword string (containing "host=")
// is postgres, anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// BrokerSentinelWorkerID is the worker_id written onto a job the instant it
// is claimed and handed to the Broker, before any worker has leased it.
// Distinguishing "in broker" from "no owner" lets ListOrphanScheduledJobs
// find SCHEDULED jobs the broker lost track of (spec.md §4.5).
var BrokerSentinelWorkerID = uuid.Nil
