// Package config resolves Schedora's runtime configuration from environment
// variables (optionally loaded from a .env file) and command-line flags,
// following the two-phase loadEnvironmentConfig/parseCommandLineFlags shape
// cmd/PromptPipe/main.go uses: environment variables set the flag defaults,
// flags can still override them at invocation time.
package config

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/emadnahed/schedora/internal/util"
)

// Mode selects which of the three subcommands cmd/schedora runs.
type Mode string

const (
	ModeControl Mode = "control"
	ModeWorker  Mode = "worker"
	ModeSubmit  Mode = "submit"
)

// Default tunables applied when the corresponding environment variable and
// flag are both left unset.
const (
	DefaultDBDSN           = "schedora.db"
	DefaultSchedulerTick   = 5 * time.Second
	DefaultHeartbeatTick   = 30 * time.Second
	DefaultStaleThreshold  = 90 * time.Second
	DefaultOrphanGrace     = 2 * DefaultSchedulerTick
	DefaultClaimLimit      = 100
	DefaultMaxConcurrency  = 10
	DefaultJobType         = ""
	DefaultJobPayload      = "{}"
	DefaultWorkerHostname  = "localhost"
	DefaultShutdownTimeout = 30 * time.Second
)

// Env holds configuration loaded from environment variables, before flags
// are parsed. Mirrors the teacher's Config struct.
type Env struct {
	DBDSN           string
	SchedulerTick   time.Duration
	HeartbeatTick   time.Duration
	StaleThreshold  time.Duration
	OrphanGrace     time.Duration
	ClaimLimit      int
	MaxConcurrency  int
	WorkerHostname  string
	ShutdownTimeout time.Duration
}

// LoadEnv loads an optional .env file via godotenv, then reads environment
// variables into an Env, falling back to package defaults for anything unset.
func LoadEnv() Env {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file loaded", "error", err)
	} else {
		slog.Debug("config: loaded .env file")
	}

	env := Env{
		DBDSN:           envOrDefault("SCHEDORA_DB_DSN", DefaultDBDSN),
		SchedulerTick:   util.ParseDurationEnv("SCHEDORA_SCHEDULER_TICK", DefaultSchedulerTick),
		HeartbeatTick:   util.ParseDurationEnv("SCHEDORA_HEARTBEAT_TICK", DefaultHeartbeatTick),
		StaleThreshold:  util.ParseDurationEnv("SCHEDORA_STALE_THRESHOLD", DefaultStaleThreshold),
		OrphanGrace:     util.ParseDurationEnv("SCHEDORA_ORPHAN_GRACE_PERIOD", DefaultOrphanGrace),
		ClaimLimit:      util.ParseIntEnv("SCHEDORA_CLAIM_LIMIT", DefaultClaimLimit),
		MaxConcurrency:  util.ParseIntEnv("SCHEDORA_MAX_CONCURRENCY", DefaultMaxConcurrency),
		WorkerHostname:  envOrDefault("SCHEDORA_WORKER_HOSTNAME", DefaultWorkerHostname),
		ShutdownTimeout: util.ParseDurationEnv("SCHEDORA_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}

	slog.Debug("config: environment loaded",
		"db_dsn_set", env.DBDSN != "",
		"scheduler_tick", env.SchedulerTick,
		"heartbeat_tick", env.HeartbeatTick,
		"stale_threshold", env.StaleThreshold,
		"claim_limit", env.ClaimLimit,
		"max_concurrency", env.MaxConcurrency,
		"worker_hostname", env.WorkerHostname,
		"shutdown_timeout", env.ShutdownTimeout)

	return env
}

// Flags holds the parsed command-line flag values, defaulted from Env.
type Flags struct {
	Mode            *string
	DBDSN           *string
	SchedulerTick   *time.Duration
	HeartbeatTick   *time.Duration
	StaleThreshold  *time.Duration
	OrphanGrace     *time.Duration
	ClaimLimit      *int
	MaxConcurrency  *int
	WorkerHostname  *string
	ShutdownTimeout *time.Duration
	JobType         *string
	JobPayload      *string
	WorkflowName    *string
}

// ParseFlags registers flag.CommandLine flags defaulted from env and parses
// os.Args[1:]. Must be called at most once per process, like the teacher's
// parseCommandLineFlags.
func ParseFlags(env Env) Flags {
	f := Flags{
		Mode:            flag.String("mode", string(ModeControl), "run mode: control, worker, or submit"),
		DBDSN:           flag.String("db-dsn", env.DBDSN, "database DSN (overrides $SCHEDORA_DB_DSN); a postgres:// URL or a SQLite file path"),
		SchedulerTick:   flag.Duration("scheduler-tick", env.SchedulerTick, "scheduler poll interval (overrides $SCHEDORA_SCHEDULER_TICK)"),
		HeartbeatTick:   flag.Duration("heartbeat-tick", env.HeartbeatTick, "heartbeat monitor poll interval (overrides $SCHEDORA_HEARTBEAT_TICK)"),
		StaleThreshold:  flag.Duration("stale-threshold", env.StaleThreshold, "worker staleness threshold (overrides $SCHEDORA_STALE_THRESHOLD)"),
		OrphanGrace:     flag.Duration("orphan-grace-period", env.OrphanGrace, "grace period before an orphaned SCHEDULED job is reverted to PENDING (overrides $SCHEDORA_ORPHAN_GRACE_PERIOD)"),
		ClaimLimit:      flag.Int("claim-limit", env.ClaimLimit, "max jobs claimed per scheduler tick (overrides $SCHEDORA_CLAIM_LIMIT)"),
		MaxConcurrency:  flag.Int("max-concurrency", env.MaxConcurrency, "max concurrent jobs per worker process (overrides $SCHEDORA_MAX_CONCURRENCY)"),
		WorkerHostname:  flag.String("worker-hostname", env.WorkerHostname, "hostname reported on worker registration (overrides $SCHEDORA_WORKER_HOSTNAME)"),
		ShutdownTimeout: flag.Duration("shutdown-timeout", env.ShutdownTimeout, "graceful shutdown deadline for in-flight jobs (overrides $SCHEDORA_SHUTDOWN_TIMEOUT)"),
		JobType:         flag.String("job-type", DefaultJobType, "job type to submit (submit mode only)"),
		JobPayload:      flag.String("job-payload", DefaultJobPayload, "JSON payload for the submitted job (submit mode only)"),
		WorkflowName:    flag.String("workflow-name", "", "attach the submitted job to this workflow by name (submit mode only)"),
	}

	flag.Parse()

	slog.Debug("config: flags parsed",
		"mode", *f.Mode,
		"db_dsn_set", *f.DBDSN != "",
		"scheduler_tick", *f.SchedulerTick,
		"heartbeat_tick", *f.HeartbeatTick,
		"claim_limit", *f.ClaimLimit,
		"max_concurrency", *f.MaxConcurrency)

	return f
}

// envOrDefault returns the named environment variable, or def if unset.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
