package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a Job. The legal transitions between
// these are enforced by internal/statemachine, never by this package.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobScheduled JobStatus = "SCHEDULED"
	JobRunning   JobStatus = "RUNNING"
	JobSuccess   JobStatus = "SUCCESS"
	JobFailed    JobStatus = "FAILED"
	JobRetrying  JobStatus = "RETRYING"
	JobDead      JobStatus = "DEAD"
	JobCanceled  JobStatus = "CANCELED"
)

// IsTerminal reports whether status is one of the three terminal states:
// SUCCESS, DEAD or CANCELED.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccess, JobDead, JobCanceled:
		return true
	default:
		return false
	}
}

// RetryPolicy selects how internal/retrypolicy computes the delay before the
// next attempt.
type RetryPolicy string

const (
	RetryFixed       RetryPolicy = "FIXED"
	RetryExponential RetryPolicy = "EXPONENTIAL"
	RetryJitter      RetryPolicy = "JITTER"
)

// IsValid reports whether p is one of the known retry policies.
func (p RetryPolicy) IsValid() bool {
	switch p {
	case RetryFixed, RetryExponential, RetryJitter:
		return true
	default:
		return false
	}
}

// Default tunables applied by ValidateCreateJobInput when the caller leaves
// a field at its zero value (spec.md §6).
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = time.Hour
)

// Job is a durable unit of work. See spec.md §3 for the full invariant list;
// the important ones are: WorkerID is non-nil iff Status is SCHEDULED or
// RUNNING, StartedAt is set on first entry to RUNNING, and CompletedAt is set
// exactly when Status enters a terminal state.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	Status         JobStatus       `json:"status"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	RetryPolicy    RetryPolicy     `json:"retry_policy"`
	BaseDelay      time.Duration   `json:"base_delay"`
	Timeout        time.Duration   `json:"timeout"`
	WorkerID       *uuid.UUID      `json:"worker_id,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	WorkflowID     *uuid.UUID      `json:"workflow_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateJobInput is the submission-interface data contract from spec.md §6.
// Priority is a pointer so a caller can distinguish "leave this field unset,
// default it" from an explicit, legal Priority of 0 (spec.md §3: the range is
// 0-10 inclusive, and 0 must be expressible).
type CreateJobInput struct {
	Type           string
	Payload        json.RawMessage
	IdempotencyKey string
	Priority       *int
	MaxAttempts    int
	Timeout        time.Duration
	RetryPolicy    RetryPolicy
	BaseDelay      time.Duration
	ScheduledAt    time.Time
	WorkflowID     *uuid.UUID
}

// DefaultBaseDelay is used when CreateJobInput.BaseDelay is left at zero.
const DefaultBaseDelay = time.Second

// ValidateCreateJobInput validates in as a create-job request and fills in
// the documented defaults (priority 5, max_attempts 3, timeout 1h, retry
// policy EXPONENTIAL, scheduled_at now). It mutates a copy and returns it, so
// callers should use the returned value rather than the original.
func ValidateCreateJobInput(in CreateJobInput, now time.Time) (CreateJobInput, error) {
	if in.Type == "" {
		return in, ErrValidation
	}
	if in.IdempotencyKey == "" {
		return in, ErrValidation
	}
	if in.Priority == nil {
		p := DefaultPriority
		in.Priority = &p
	}
	if *in.Priority < MinPriority || *in.Priority > MaxPriority {
		return in, ErrValidation
	}
	if in.MaxAttempts == 0 {
		in.MaxAttempts = DefaultMaxAttempts
	}
	if in.MaxAttempts < 1 {
		return in, ErrValidation
	}
	if in.Timeout == 0 {
		in.Timeout = DefaultTimeout
	}
	if in.Timeout < 0 {
		return in, ErrValidation
	}
	if in.RetryPolicy == "" {
		in.RetryPolicy = RetryExponential
	}
	if !in.RetryPolicy.IsValid() {
		return in, ErrValidation
	}
	if in.ScheduledAt.IsZero() {
		in.ScheduledAt = now
	}
	if in.ScheduledAt.Before(now) {
		return in, ErrValidation
	}
	if in.BaseDelay == 0 {
		in.BaseDelay = DefaultBaseDelay
	}
	if in.BaseDelay < 0 {
		return in, ErrValidation
	}
	return in, nil
}

// NewJob constructs a Job from a validated CreateJobInput.
func NewJob(in CreateJobInput, now time.Time) Job {
	return Job{
		ID:             uuid.New(),
		Type:           in.Type,
		Payload:        in.Payload,
		Priority:       *in.Priority,
		IdempotencyKey: in.IdempotencyKey,
		ScheduledAt:    in.ScheduledAt,
		Status:         JobPending,
		Attempt:        0,
		MaxAttempts:    in.MaxAttempts,
		RetryPolicy:    in.RetryPolicy,
		BaseDelay:      in.BaseDelay,
		Timeout:        in.Timeout,
		WorkflowID:     in.WorkflowID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
