// Package worker implements the Worker Runtime: a registered process that
// leases ready jobs from the Broker, executes them under a registered
// handler, and reports terminal status back through the Durable Store. Its
// three cooperating activities (heartbeat emitter, lease loop, execution)
// are grounded on udaykr117-QueueCTL's WorkerPool (signal-driven graceful
// stop via context cancellation + sync.WaitGroup) and PromptPipe's
// store/job_runner.go (handler registry, claim-dispatch-report loop),
// generalized to the full lease/heartbeat/concurrency-permit contract this
// module requires.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/broker"
	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/retrypolicy"
	"github.com/emadnahed/schedora/internal/store"
)

// Handler executes a job's work given its payload and returns a result blob
// or an error. Handlers run under a context that is canceled when the job's
// timeout expires.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Failure reasons recorded in a job's error_message on a FAILED transition
// the Worker itself detects, distinct from a handler's own error text.
const (
	ReasonUnknownType = "UNKNOWN_TYPE"
	ReasonTimeout     = "TIMEOUT"
)

// Defaults per spec.md §4.8.
const (
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultLeaseTimeout         = 5 * time.Second
	DefaultShutdownDeadline     = 30 * time.Second
	DefaultMaxHeartbeatFailures = 3
)

// Worker leases and executes jobs for one registered process.
type Worker struct {
	id       uuid.UUID
	store    store.Store
	broker   *broker.Broker
	handlers map[string]Handler
	mu       sync.RWMutex

	maxConcurrentJobs    int
	heartbeatInterval    time.Duration
	leaseTimeout         time.Duration
	shutdownDeadline     time.Duration
	maxHeartbeatFailures int

	sem *semaphore
	wg  sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Worker) { w.heartbeatInterval = d }
}

// WithLeaseTimeout overrides DefaultLeaseTimeout.
func WithLeaseTimeout(d time.Duration) Option { return func(w *Worker) { w.leaseTimeout = d } }

// WithShutdownDeadline overrides DefaultShutdownDeadline.
func WithShutdownDeadline(d time.Duration) Option {
	return func(w *Worker) { w.shutdownDeadline = d }
}

// WithMaxHeartbeatFailures overrides DefaultMaxHeartbeatFailures.
func WithMaxHeartbeatFailures(n int) Option {
	return func(w *Worker) { w.maxHeartbeatFailures = n }
}

// New constructs a Worker with a freshly generated ID; of in, only
// MaxConcurrentJobs is read here. Registration (the Store row) is not
// performed until Register is called.
func New(st store.Store, b *broker.Broker, in models.RegisterWorkerInput, opts ...Option) *Worker {
	w := &Worker{
		id:                   uuid.New(),
		store:                st,
		broker:               b,
		handlers:             make(map[string]Handler),
		maxConcurrentJobs:    in.MaxConcurrentJobs,
		heartbeatInterval:    DefaultHeartbeatInterval,
		leaseTimeout:         DefaultLeaseTimeout,
		shutdownDeadline:     DefaultShutdownDeadline,
		maxHeartbeatFailures: DefaultMaxHeartbeatFailures,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxConcurrentJobs <= 0 {
		w.maxConcurrentJobs = 1
	}
	w.sem = newSemaphore(w.maxConcurrentJobs)
	return w
}

// ID returns this worker's generated identifier.
func (w *Worker) ID() uuid.UUID { return w.id }

// RegisterHandler registers h for job type typ. Registering under an
// already-used type replaces the prior handler.
func (w *Worker) RegisterHandler(typ string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[typ] = h
}

func (w *Worker) handler(typ string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[typ]
	return h, ok
}

// Register writes this worker's row into the Durable Store. Call once
// before Run.
func (w *Worker) Register(ctx context.Context, in models.RegisterWorkerInput) error {
	now := time.Now().UTC()
	return w.store.UpsertWorker(ctx, models.Worker{
		ID:                w.id,
		Hostname:          in.Hostname,
		ProcessIdentity:   in.ProcessIdentity,
		Version:           in.Version,
		MaxConcurrentJobs: w.maxConcurrentJobs,
		Status:            models.WorkerActive,
		LastHeartbeat:     now,
		RegisteredAt:      now,
	})
}

// Run starts the heartbeat emitter and lease loop and blocks until ctx is
// canceled, then performs a graceful shutdown: stop leasing, wait up to the
// shutdown deadline for in-flight executions, and return. Jobs still
// running at the deadline are abandoned to the Heartbeat Monitor.
func (w *Worker) Run(ctx context.Context) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		w.runHeartbeat(ctx)
		// runHeartbeat also returns after too many consecutive failures;
		// stopping here shuts the lease loop down in that case too.
		stop()
	}()

	w.runLeaseLoop(ctx)

	slog.Info("worker.Run: lease loop stopped, waiting for in-flight jobs", "worker_id", w.id, "deadline", w.shutdownDeadline)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("worker.Run: all in-flight jobs finished", "worker_id", w.id)
	case <-time.After(w.shutdownDeadline):
		slog.Warn("worker.Run: shutdown deadline reached with jobs still running; abandoning to the heartbeat monitor", "worker_id", w.id)
	}
	hbWG.Wait()
}

// runHeartbeat sends touch-worker-heartbeat every heartbeatInterval. A send
// failure retries with exponential backoff; after maxHeartbeatFailures
// consecutive failures it gives up and returns, which Run treats as a
// signal to stop (the process supervisor is expected to restart it).
func (w *Worker) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.TouchWorkerHeartbeat(ctx, w.id, time.Now().UTC(), nil, nil); err != nil {
				consecutiveFailures++
				backoff := retrypolicy.NextDelay(models.RetryExponential, time.Second, consecutiveFailures)
				slog.Error("worker.runHeartbeat: heartbeat failed", "worker_id", w.id, "attempt", consecutiveFailures, "backoff", backoff, "error", err)
				if consecutiveFailures >= w.maxHeartbeatFailures {
					slog.Error("worker.runHeartbeat: too many consecutive failures, initiating graceful shutdown", "worker_id", w.id)
					return
				}
				time.Sleep(backoff)
				continue
			}
			consecutiveFailures = 0
		}
	}
}

// runLeaseLoop repeatedly leases a job ID from the Broker and dispatches its
// execution if a concurrency permit is free, otherwise requeues it without
// waiting. It returns when ctx is canceled.
func (w *Worker) runLeaseLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, ok := w.broker.Lease(ctx, w.leaseTimeout)
		if !ok {
			continue
		}
		if !w.sem.TryAcquire() {
			// No permit free: hand the job back immediately rather than
			// blocking the lease loop. A future lease call will pick it
			// (or another worker's) back up.
			priority := models.DefaultPriority
			if j, err := w.store.GetJob(ctx, jobID); err == nil {
				priority = j.Priority
			}
			w.broker.Requeue(jobID, priority)
			continue
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release()
			w.execute(ctx, jobID)
		}()
	}
}

// execute runs the full per-job lifecycle described in spec.md §4.8.
func (w *Worker) execute(ctx context.Context, jobID uuid.UUID) {
	now := time.Now().UTC()
	var job models.Job
	err := w.store.UpdateJobStatus(ctx, jobID, models.JobScheduled, models.JobRunning, func(j *models.Job) {
		j.WorkerID = &w.id
		j.StartedAt = &now
		job = *j
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Someone else (a reclaim) already moved this job off SCHEDULED.
			w.broker.Ack(jobID)
			return
		}
		slog.Error("worker.execute: transition to RUNNING failed", "job_id", jobID, "error", err)
		w.broker.Ack(jobID)
		return
	}
	job.Status = models.JobRunning
	job.WorkerID = &w.id
	job.StartedAt = &now

	handler, ok := w.handler(job.Type)
	if !ok {
		w.fail(ctx, job, ReasonUnknownType, nil)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	resultCh := make(chan struct {
		result json.RawMessage
		err    error
	}, 1)
	go func() {
		result, err := handler(execCtx, job.Payload)
		resultCh <- struct {
			result json.RawMessage
			err    error
		}{result, err}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			w.fail(ctx, job, ReasonTimeout, nil)
			return
		}
		// ctx itself (not the per-job timeout) was canceled: the process is
		// shutting down. Leave the job RUNNING for the Heartbeat Monitor.
		w.broker.Ack(jobID)
		return
	case outcome := <-resultCh:
		if outcome.err != nil {
			if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				// The handler returned because the job's timeout expired.
				w.fail(ctx, job, ReasonTimeout, nil)
				return
			}
			w.fail(ctx, job, outcome.err.Error(), nil)
			return
		}
		w.succeed(ctx, job, outcome.result)
	}
}

// succeed transitions job to SUCCESS and acks the Broker.
func (w *Worker) succeed(ctx context.Context, job models.Job, result json.RawMessage) {
	now := time.Now().UTC()
	err := w.store.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobSuccess, func(j *models.Job) {
		j.Result = result
		j.CompletedAt = &now
		j.WorkerID = nil
	})
	if err != nil {
		slog.Error("worker.succeed: transition failed", "job_id", job.ID, "error", err)
	}
	w.broker.Ack(job.ID)
}

// fail transitions job to FAILED with reason, then applies the retry policy
// (spec.md §4.6): either FAILED -> RETRYING -> PENDING with a backed-off
// scheduled_at and incremented attempt, or FAILED -> DEAD plus a Broker DLQ
// entry if attempts are exhausted.
func (w *Worker) fail(ctx context.Context, job models.Job, reason string, detail error) {
	errMsg := reason
	errDetail := ""
	if detail != nil {
		errDetail = detail.Error()
	}

	now := time.Now().UTC()
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, func(j *models.Job) {
		j.ErrorMessage = errMsg
		j.ErrorDetail = errDetail
		j.WorkerID = nil
	}); err != nil {
		slog.Error("worker.fail: transition to FAILED failed", "job_id", job.ID, "error", err)
		w.broker.Ack(job.ID)
		return
	}

	nextAttempt := job.Attempt + 1
	if nextAttempt >= job.MaxAttempts {
		if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, models.JobDead, func(j *models.Job) {
			j.Attempt = nextAttempt
			j.CompletedAt = &now
		}); err != nil {
			slog.Error("worker.fail: transition to DEAD failed", "job_id", job.ID, "error", err)
		}
		w.broker.SendToDLQ(job.ID, fmt.Sprintf("%s: %s", errMsg, errDetail), now)
		w.broker.Ack(job.ID)
		return
	}

	delay := retrypolicy.NextDelay(job.RetryPolicy, job.BaseDelay, nextAttempt)
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, models.JobRetrying, nil); err != nil {
		slog.Error("worker.fail: transition to RETRYING failed", "job_id", job.ID, "error", err)
		w.broker.Ack(job.ID)
		return
	}
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobRetrying, models.JobPending, func(j *models.Job) {
		j.Attempt = nextAttempt
		j.ScheduledAt = now.Add(delay)
	}); err != nil {
		slog.Error("worker.fail: transition to PENDING (retry) failed", "job_id", job.ID, "error", err)
	}
	w.broker.Ack(job.ID)
}
