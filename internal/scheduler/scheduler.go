// Package scheduler implements the Scheduler component: a periodic loop
// that atomically claims ready jobs from the Durable Store and hands their
// identifiers to the Broker. Correctness never depends on there being
// exactly one Scheduler instance running — ClaimReadyJobs' skip-locked
// semantics make concurrent instances make disjoint progress.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emadnahed/schedora/internal/broker"
	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/store"
)

// DefaultTick is how often the Scheduler polls for ready jobs when the
// caller doesn't override it.
const DefaultTick = 5 * time.Second

// DefaultClaimLimit bounds how many jobs a single tick claims.
const DefaultClaimLimit = 100

// Scheduler periodically claims ready jobs and enqueues them onto a Broker.
// It is paced by robfig/cron's "@every" descriptor rather than a wall-clock
// cron expression, since the Scheduler has no calendar semantics of its own.
type Scheduler struct {
	store      store.Store
	broker     *broker.Broker
	cron       *cron.Cron
	tick       time.Duration
	claimLimit int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick overrides DefaultTick.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithClaimLimit overrides DefaultClaimLimit.
func WithClaimLimit(n int) Option {
	return func(s *Scheduler) { s.claimLimit = n }
}

// New constructs a Scheduler over st, enqueuing claimed jobs onto b.
func New(st store.Store, b *broker.Broker, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		broker:     b,
		tick:       DefaultTick,
		claimLimit: DefaultClaimLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return s
}

// Start begins the periodic claim loop. It returns an error only if the
// "@every" spec it builds from Scheduler.tick fails to parse, which does
// not happen for any positive duration.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every "+s.tick.String(), func() { s.tick1(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler.Start", "tick", s.tick, "claim_limit", s.claimLimit)
	return nil
}

// Stop halts the claim loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	c := s.cron.Stop()
	<-c.Done()
}

// tick1 runs one claim-and-enqueue cycle: it selects up to claimLimit ready
// jobs, transitioning them PENDING -> SCHEDULED inside the Store, then
// enqueues each claimed ID onto the Broker. If enqueueing fails partway
// through (it never does for the in-process Broker, but a future networked
// broker could), the already-SCHEDULED job is left for the Heartbeat
// Monitor's orphan sweep to reclaim rather than retried here.
func (s *Scheduler) tick1(ctx context.Context) {
	now := time.Now().UTC()
	jobs, err := s.store.ClaimReadyJobs(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("scheduler.tick: claim failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	slog.Debug("scheduler.tick: claimed jobs", "count", len(jobs))
	for _, j := range jobs {
		s.broker.Enqueue(j.ID, j.Priority)
	}
}

// ClaimOnce runs a single claim-and-enqueue cycle synchronously, for tests
// and for a one-shot CLI invocation that doesn't want the cron loop.
func (s *Scheduler) ClaimOnce(ctx context.Context, now time.Time) ([]models.Job, error) {
	jobs, err := s.store.ClaimReadyJobs(ctx, now, s.claimLimit)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.broker.Enqueue(j.ID, j.Priority)
	}
	return jobs, nil
}
