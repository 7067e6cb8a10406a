// Package models defines the core data structures shared across Schedora's
// orchestration components: jobs, dependency edges, workflows and workers.
package models

import "errors"

// Error variables surfaced at component boundaries. Callers should use
// errors.Is against these rather than matching on message text.
var (
	// ErrNotFound indicates the requested job, workflow or worker does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateIdempotency indicates a job with the given idempotency key
	// already exists.
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	// ErrDuplicateName indicates a workflow with the given name already exists.
	ErrDuplicateName = errors.New("duplicate workflow name")
	// ErrInvalidTransition indicates an attempted status transition is not
	// legal per the state machine in statemachine.CanTransition.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable indicates the Durable Store or Broker could not be
	// reached within the retry deadline.
	ErrUnavailable = errors.New("store or broker unavailable")
	// ErrConflict indicates a compare-and-set update did not match the
	// expected prior status; the caller lost a race and should re-read.
	ErrConflict = errors.New("compare-and-set conflict")
	// ErrCyclicDependency indicates an edge insertion would introduce a
	// cycle into a workflow's dependency graph.
	ErrCyclicDependency = errors.New("dependency edge would introduce a cycle")
)

// MinPriority and MaxPriority bound the job priority range (spec.md §3: 0-10,
// higher first).
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)
