package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SCHEDORA_DB_DSN",
		"SCHEDORA_SCHEDULER_TICK",
		"SCHEDORA_HEARTBEAT_TICK",
		"SCHEDORA_STALE_THRESHOLD",
		"SCHEDORA_ORPHAN_GRACE_PERIOD",
		"SCHEDORA_CLAIM_LIMIT",
		"SCHEDORA_MAX_CONCURRENCY",
		"SCHEDORA_WORKER_HOSTNAME",
		"SCHEDORA_SHUTDOWN_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	clearEnv(t)

	env := LoadEnv()

	if env.DBDSN != DefaultDBDSN {
		t.Errorf("DBDSN = %q, want default %q", env.DBDSN, DefaultDBDSN)
	}
	if env.SchedulerTick != DefaultSchedulerTick {
		t.Errorf("SchedulerTick = %v, want default %v", env.SchedulerTick, DefaultSchedulerTick)
	}
	if env.OrphanGrace != DefaultOrphanGrace {
		t.Errorf("OrphanGrace = %v, want default %v", env.OrphanGrace, DefaultOrphanGrace)
	}
	if env.ClaimLimit != DefaultClaimLimit {
		t.Errorf("ClaimLimit = %d, want default %d", env.ClaimLimit, DefaultClaimLimit)
	}
	if env.MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want default %d", env.MaxConcurrency, DefaultMaxConcurrency)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Cleanup(func() { clearEnv(t) })

	os.Setenv("SCHEDORA_DB_DSN", "postgres://localhost/schedora")
	os.Setenv("SCHEDORA_SCHEDULER_TICK", "10s")
	os.Setenv("SCHEDORA_CLAIM_LIMIT", "50")
	os.Setenv("SCHEDORA_MAX_CONCURRENCY", "4")

	env := LoadEnv()

	if env.DBDSN != "postgres://localhost/schedora" {
		t.Errorf("DBDSN = %q, want the overridden value", env.DBDSN)
	}
	if env.SchedulerTick != 10*time.Second {
		t.Errorf("SchedulerTick = %v, want 10s", env.SchedulerTick)
	}
	if env.ClaimLimit != 50 {
		t.Errorf("ClaimLimit = %d, want 50", env.ClaimLimit)
	}
	if env.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", env.MaxConcurrency)
	}
}

func TestLoadEnvInvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Cleanup(func() { clearEnv(t) })

	os.Setenv("SCHEDORA_SCHEDULER_TICK", "not-a-duration")

	env := LoadEnv()
	if env.SchedulerTick != DefaultSchedulerTick {
		t.Errorf("SchedulerTick = %v, want fallback to default %v", env.SchedulerTick, DefaultSchedulerTick)
	}
}
