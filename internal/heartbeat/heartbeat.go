// Package heartbeat implements the Heartbeat Monitor: the periodic tick that
// detects stale workers, reclaims their in-flight jobs, sweeps orphan
// SCHEDULED jobs the Scheduler lost track of, and cleans up long-stopped
// worker records. Grounded on the tick sequence of
// HeartbeatService.detect_stale_workers/handle_stale_worker/
// cleanup_old_workers in the original implementation; this module tracks
// liveness purely in the Durable Store (last_heartbeat column) rather than
// the original's Redis-TTL side channel, since nothing in the retrieval pack
// wires a Redis client.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emadnahed/schedora/internal/broker"
	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/retrypolicy"
	"github.com/emadnahed/schedora/internal/store"
)

// Defaults per spec.md §4.7.
const (
	DefaultTick              = 30 * time.Second
	DefaultStaleThreshold    = 90 * time.Second
	DefaultOrphanGracePeriod = 2 * DefaultTick
	DefaultStoppedCleanupAge = time.Hour
)

// Monitor runs the periodic liveness sweep described above.
type Monitor struct {
	store             store.Store
	broker            *broker.Broker
	cron              *cron.Cron
	tick              time.Duration
	staleThreshold    time.Duration
	orphanGracePeriod time.Duration
	stoppedCleanupAge time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTick overrides DefaultTick.
func WithTick(d time.Duration) Option { return func(m *Monitor) { m.tick = d } }

// WithStaleThreshold overrides DefaultStaleThreshold.
func WithStaleThreshold(d time.Duration) Option { return func(m *Monitor) { m.staleThreshold = d } }

// WithOrphanGracePeriod overrides DefaultOrphanGracePeriod.
func WithOrphanGracePeriod(d time.Duration) Option {
	return func(m *Monitor) { m.orphanGracePeriod = d }
}

// WithStoppedCleanupAge overrides DefaultStoppedCleanupAge.
func WithStoppedCleanupAge(d time.Duration) Option {
	return func(m *Monitor) { m.stoppedCleanupAge = d }
}

// New constructs a Monitor over st. b receives the DLQ entry for any job a
// stale-worker reclaim finds with exhausted attempts; cmd/schedora's control
// mode passes the same Broker its Scheduler enqueues onto.
func New(st store.Store, b *broker.Broker, opts ...Option) *Monitor {
	m := &Monitor{
		store:             st,
		broker:            b,
		tick:              DefaultTick,
		staleThreshold:    DefaultStaleThreshold,
		orphanGracePeriod: DefaultOrphanGracePeriod,
		stoppedCleanupAge: DefaultStoppedCleanupAge,
	}
	for _, opt := range opts {
		opt(m)
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	m.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return m
}

// Start begins the periodic tick loop.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc("@every "+m.tick.String(), func() { m.Tick(ctx) })
	if err != nil {
		return err
	}
	m.cron.Start()
	slog.Info("heartbeat.Start", "tick", m.tick, "stale_threshold", m.staleThreshold)
	return nil
}

// Stop halts the tick loop and waits for any in-flight tick to finish.
func (m *Monitor) Stop() {
	c := m.cron.Stop()
	<-c.Done()
}

// Tick runs one full sweep: stale-worker detection plus reassignment of
// their in-flight jobs, the orphan-SCHEDULED sweep, and stopped-worker
// cleanup. Each stage runs even if an earlier one partially failed, so one
// bad row never blocks the rest of the sweep.
func (m *Monitor) Tick(ctx context.Context) {
	now := time.Now().UTC()

	newlyStale, reassigned := m.detectAndReclaimStaleWorkers(ctx, now)
	orphanCount := m.sweepOrphanScheduledJobs(ctx, now)
	cleanedCount, err := m.store.DeleteStoppedWorkersOlderThan(ctx, now.Add(-m.stoppedCleanupAge))
	if err != nil {
		slog.Error("heartbeat.Tick: cleanup stopped workers failed", "error", err)
	}

	slog.Info("heartbeat.Tick",
		"stale_workers", newlyStale,
		"reassigned_jobs", reassigned,
		"orphan_jobs", orphanCount,
		"cleaned_workers", cleanedCount,
	)
}

// detectAndReclaimStaleWorkers lists every ACTIVE worker whose last_heartbeat
// predates the stale threshold (spec.md §4.7(a)), marks each STALE, and
// reclaims its SCHEDULED/RUNNING jobs (spec.md §4.7(b)). Both steps share one
// listing: ListStaleWorkers only returns ACTIVE rows, so a worker already
// marked STALE here would be invisible to a second query this same tick.
func (m *Monitor) detectAndReclaimStaleWorkers(ctx context.Context, now time.Time) (staleCount, reassignedCount int) {
	stale, err := m.store.ListStaleWorkers(ctx, now.Add(-m.staleThreshold))
	if err != nil {
		slog.Error("heartbeat.detectAndReclaimStaleWorkers: list failed", "error", err)
		return 0, 0
	}

	for _, w := range stale {
		if err := m.store.MarkWorkerStatus(ctx, w.ID, models.WorkerStale); err != nil {
			slog.Error("heartbeat.detectAndReclaimStaleWorkers: mark failed", "worker_id", w.ID, "error", err)
			continue
		}
		staleCount++

		jobs, err := m.store.ListJobsByWorker(ctx, w.ID, []models.JobStatus{models.JobScheduled, models.JobRunning})
		if err != nil {
			slog.Error("heartbeat.detectAndReclaimStaleWorkers: list jobs failed", "worker_id", w.ID, "error", err)
			continue
		}
		for _, j := range jobs {
			err := m.reclaimJob(ctx, j, now)
			if errors.Is(err, models.ErrConflict) {
				// Another Monitor instance (or the owning worker itself,
				// recovering mid-sweep) already moved this job off its
				// expected status. Nothing left for this one to reclaim.
				slog.Debug("heartbeat.detectAndReclaimStaleWorkers: job already reclaimed", "job_id", j.ID)
				continue
			}
			if err != nil {
				slog.Error("heartbeat.detectAndReclaimStaleWorkers: reclaim failed", "job_id", j.ID, "error", err)
				continue
			}
			reassignedCount++
		}
	}
	return staleCount, reassignedCount
}

// reclaimJob applies the §4.7(b) policy to a single job owned by a stale
// worker: back to PENDING with attempt+1 and a backed-off scheduled_at, or
// straight to DEAD plus a Broker DLQ entry if attempt+1 would reach
// max_attempts. No worker process observes this transition, so the DLQ push
// happens here directly, mirroring worker.fail's DEAD branch.
func (m *Monitor) reclaimJob(ctx context.Context, j models.Job, now time.Time) error {
	nextAttempt := j.Attempt + 1
	if nextAttempt >= j.MaxAttempts {
		err := m.store.UpdateJobStatus(ctx, j.ID, j.Status, models.JobDead, func(job *models.Job) {
			job.WorkerID = nil
			job.StartedAt = nil
			job.Attempt = nextAttempt
			job.ErrorMessage = "worker heartbeat expired; attempts exhausted"
			job.CompletedAt = &now
		})
		if err != nil {
			return err
		}
		m.broker.SendToDLQ(j.ID, "worker heartbeat expired; attempts exhausted", now)
		return nil
	}
	delay := retrypolicy.NextDelay(j.RetryPolicy, j.BaseDelay, nextAttempt)
	return m.store.ReassignJob(ctx, j.ID, j.Status, models.JobPending, now.Add(delay), nextAttempt)
}

// sweepOrphanScheduledJobs reverts SCHEDULED jobs with no owning worker
// (still holding the broker sentinel worker_id) whose updated_at predates
// the orphan grace period back to PENDING with no attempt increment — the
// Scheduler committed the claim but never reached the Broker (spec.md
// §4.7(c)).
func (m *Monitor) sweepOrphanScheduledJobs(ctx context.Context, now time.Time) int {
	orphans, err := m.store.ListOrphanScheduledJobs(ctx, now.Add(-m.orphanGracePeriod))
	if err != nil {
		slog.Error("heartbeat.sweepOrphanScheduledJobs: list failed", "error", err)
		return 0
	}
	swept := 0
	for _, j := range orphans {
		err := m.store.ReassignJob(ctx, j.ID, models.JobScheduled, models.JobPending, now, j.Attempt)
		if errors.Is(err, models.ErrConflict) {
			slog.Debug("heartbeat.sweepOrphanScheduledJobs: job already reclaimed", "job_id", j.ID)
			continue
		}
		if err != nil {
			slog.Error("heartbeat.sweepOrphanScheduledJobs: reassign failed", "job_id", j.ID, "error", err)
			continue
		}
		swept++
	}
	return swept
}
