// Package statemachine validates job status transitions. It is the single
// source of truth for legality (spec.md §4.3); every mutation elsewhere goes
// through a compare-and-set update at internal/store that consults this
// package, never an in-memory check.
package statemachine

import "github.com/emadnahed/schedora/internal/models"

// transitions is the legal-transition table from spec.md §4.3. Note the
// reclaim edges (SCHEDULED/RUNNING → PENDING, and SCHEDULED/RUNNING → DEAD)
// the original Python state machine omitted; those are required here because
// the Heartbeat Monitor reclaims a stale worker's jobs directly, without
// routing through FAILED/RETRYING, and its orphan sweep reclaims SCHEDULED
// jobs straight back to PENDING.
var transitions = map[models.JobStatus]map[models.JobStatus]bool{
	models.JobPending: {
		models.JobScheduled: true,
		models.JobCanceled:  true,
	},
	models.JobScheduled: {
		models.JobRunning:  true,
		models.JobCanceled: true,
		models.JobPending:  true, // reclaim
		models.JobDead:     true, // reclaim, attempts exhausted
	},
	models.JobRunning: {
		models.JobSuccess:  true,
		models.JobFailed:   true,
		models.JobCanceled: true,
		models.JobPending:  true, // reclaim
		models.JobDead:     true, // reclaim, attempts exhausted
	},
	models.JobFailed: {
		models.JobRetrying: true,
		models.JobDead:     true,
	},
	models.JobRetrying: {
		models.JobPending: true,
	},
	models.JobSuccess:  {},
	models.JobDead:     {},
	models.JobCanceled: {},
}

// CanTransition reports whether moving a job from `from` to `to` is legal.
func CanTransition(from, to models.JobStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Validate returns models.ErrInvalidTransition if the transition is not
// legal, nil otherwise.
func Validate(from, to models.JobStatus) error {
	if !CanTransition(from, to) {
		return models.ErrInvalidTransition
	}
	return nil
}

// ValidTransitions returns the set of statuses a job in `from` may legally
// move to, for diagnostics and tests.
func ValidTransitions(from models.JobStatus) []models.JobStatus {
	next, ok := transitions[from]
	if !ok {
		return nil
	}
	out := make([]models.JobStatus, 0, len(next))
	for s := range next {
		out = append(out, s)
	}
	return out
}
