package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/emadnahed/schedora/internal/broker"
	"github.com/emadnahed/schedora/internal/config"
	"github.com/emadnahed/schedora/internal/heartbeat"
	"github.com/emadnahed/schedora/internal/models"
	"github.com/emadnahed/schedora/internal/scheduler"
	"github.com/emadnahed/schedora/internal/store"
	"github.com/emadnahed/schedora/internal/util"
	"github.com/emadnahed/schedora/internal/worker"
)

func main() {
	initializeLogger()

	env := config.LoadEnv()
	flags := config.ParseFlags(env)

	st, err := openStore(*flags.DBDSN)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch config.Mode(*flags.Mode) {
	case config.ModeControl:
		err = runControl(ctx, st, flags)
	case config.ModeWorker:
		err = runWorker(ctx, st, flags)
	case config.ModeSubmit:
		err = runSubmit(ctx, st, flags)
	default:
		err = fmt.Errorf("unknown -mode %q: want control, worker, or submit", *flags.Mode)
	}

	if err != nil {
		slog.Error("schedora exited with error", "mode", *flags.Mode, "error", err)
		os.Exit(1)
	}
	slog.Info("schedora exited successfully", "mode", *flags.Mode)
}

// initializeLogger sets up structured logging, mirroring the teacher's
// single slog.SetDefault call at process start.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
}

// openStore picks Postgres or SQLite by inspecting dsn's shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("opening postgres store", "dsn_set", dsn != "")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Info("opening sqlite store", "path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// runControl starts the Scheduler and Heartbeat Monitor and blocks until ctx
// is canceled (SIGINT/SIGTERM). The Broker is in-process only, so control
// mode and worker mode share one only when run in the same process; in
// separate processes each worker gets its own in-memory ready queue fed by
// its own Scheduler loop running alongside it — see DESIGN.md.
func runControl(ctx context.Context, st store.Store, flags config.Flags) error {
	b := broker.New()

	sched := scheduler.New(st, b,
		scheduler.WithTick(*flags.SchedulerTick),
		scheduler.WithClaimLimit(*flags.ClaimLimit),
	)
	mon := heartbeat.New(st, b,
		heartbeat.WithTick(*flags.HeartbeatTick),
		heartbeat.WithStaleThreshold(*flags.StaleThreshold),
		heartbeat.WithOrphanGracePeriod(*flags.OrphanGrace),
	)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat monitor: %w", err)
	}
	defer mon.Stop()

	slog.Info("control plane running", "scheduler_tick", *flags.SchedulerTick, "heartbeat_tick", *flags.HeartbeatTick)
	<-ctx.Done()
	slog.Info("control plane shutting down")
	return nil
}

// runWorker runs the Scheduler locally (so the in-process Broker has
// something to lease) alongside a Worker Runtime with the built-in echo
// handler registered, the handler spec.md's worked examples exercise.
func runWorker(ctx context.Context, st store.Store, flags config.Flags) error {
	b := broker.New()

	sched := scheduler.New(st, b,
		scheduler.WithTick(*flags.SchedulerTick),
		scheduler.WithClaimLimit(*flags.ClaimLimit),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	registerInput := models.RegisterWorkerInput{
		Hostname:          *flags.WorkerHostname,
		ProcessIdentity:   util.GenerateProcessIdentity(),
		Version:           "schedora-dev",
		MaxConcurrentJobs: *flags.MaxConcurrency,
	}

	w := worker.New(st, b, registerInput, worker.WithShutdownDeadline(*flags.ShutdownTimeout))
	w.RegisterHandler("echo", echoHandler)

	if err := w.Register(ctx, registerInput); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	slog.Info("worker running", "worker_id", w.ID(), "max_concurrency", *flags.MaxConcurrency)
	w.Run(ctx)
	return nil
}

// echoHandler is the built-in handler exercised by spec.md's worked example
// 1: a job of type "echo" returns its own payload as its result.
func echoHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}

// runSubmit inserts one job directly into the Durable Store (there is no
// HTTP submission surface in this core — see spec.md §1 Non-goals), then
// prints its ID and idempotency key so a caller can poll status externally.
func runSubmit(ctx context.Context, st store.Store, flags config.Flags) error {
	if *flags.JobType == "" {
		return fmt.Errorf("submit mode requires -job-type")
	}

	payload := json.RawMessage(*flags.JobPayload)
	if !json.Valid(payload) {
		return fmt.Errorf("submit mode: -job-payload is not valid JSON: %s", *flags.JobPayload)
	}

	now := time.Now().UTC()
	in, err := models.ValidateCreateJobInput(models.CreateJobInput{
		Type:           *flags.JobType,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
	}, now)
	if err != nil {
		return fmt.Errorf("validate job input: %w", err)
	}
	job := models.NewJob(in, now)

	if *flags.WorkflowName != "" {
		wf, err := findOrCreateWorkflow(ctx, st, *flags.WorkflowName, now)
		if err != nil {
			return fmt.Errorf("resolve workflow %q: %w", *flags.WorkflowName, err)
		}
		job.WorkflowID = &wf.ID
	}

	if err := st.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	slog.Info("job submitted", "job_id", job.ID, "type", job.Type, "idempotency_key", job.IdempotencyKey)
	fmt.Println(job.ID)
	return nil
}

// findOrCreateWorkflow always creates a fresh workflow, since this Store's
// minimal WorkflowRepo has no list-by-name primitive to look one up by;
// attaching a job to an existing workflow is done by passing its ID directly
// through a future submission surface (out of scope here).
func findOrCreateWorkflow(ctx context.Context, st store.Store, name string, now time.Time) (models.Workflow, error) {
	in, err := models.ValidateCreateWorkflowInput(models.CreateWorkflowInput{Name: name})
	if err != nil {
		return models.Workflow{}, err
	}
	wf := models.NewWorkflow(in, now)
	if err := st.InsertWorkflow(ctx, wf); err != nil {
		return models.Workflow{}, err
	}
	return wf, nil
}
