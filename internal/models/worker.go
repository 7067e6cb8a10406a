package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkerStatus is the liveness state of a registered Worker.
type WorkerStatus string

const (
	WorkerActive  WorkerStatus = "ACTIVE"
	WorkerStale   WorkerStatus = "STALE"
	WorkerStopped WorkerStatus = "STOPPED"
)

// Worker is a registered, stateless execution process. Telemetry is stored
// for observability only and never influences a scheduling decision (spec.md
// §6: "does not affect control decisions").
type Worker struct {
	ID                uuid.UUID    `json:"id"`
	Hostname          string       `json:"hostname"`
	ProcessIdentity   string       `json:"process_identity"`
	Version           string       `json:"version"`
	MaxConcurrentJobs int          `json:"max_concurrent_jobs"`
	Status            WorkerStatus `json:"status"`
	LastHeartbeat     time.Time    `json:"last_heartbeat"`
	CPUPercent        *float64     `json:"cpu_percent,omitempty"`
	MemoryPercent     *float64     `json:"memory_percent,omitempty"`
	RegisteredAt      time.Time    `json:"registered_at"`
}

// RegisterWorkerInput is the worker-facing register-worker data contract.
type RegisterWorkerInput struct {
	Hostname          string
	ProcessIdentity   string
	Version           string
	MaxConcurrentJobs int
}

// HeartbeatInput carries optional telemetry, stored but inert per spec.md §6.
type HeartbeatInput struct {
	WorkerID      uuid.UUID
	CPUPercent    *float64
	MemoryPercent *float64
}
