package statemachine

import (
	"errors"
	"testing"

	"github.com/emadnahed/schedora/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.JobStatus
		to   models.JobStatus
		want bool
	}{
		{"pending to scheduled", models.JobPending, models.JobScheduled, true},
		{"pending to canceled", models.JobPending, models.JobCanceled, true},
		{"pending to running", models.JobPending, models.JobRunning, false},
		{"scheduled to running", models.JobScheduled, models.JobRunning, true},
		{"scheduled reclaim to pending", models.JobScheduled, models.JobPending, true},
		{"scheduled reclaim to dead (attempts exhausted)", models.JobScheduled, models.JobDead, true},
		{"running reclaim to dead (attempts exhausted)", models.JobRunning, models.JobDead, true},
		{"running to success", models.JobRunning, models.JobSuccess, true},
		{"running to failed", models.JobRunning, models.JobFailed, true},
		{"running reclaim to pending", models.JobRunning, models.JobPending, true},
		{"failed to retrying", models.JobFailed, models.JobRetrying, true},
		{"failed to dead", models.JobFailed, models.JobDead, true},
		{"retrying to pending", models.JobRetrying, models.JobPending, true},
		{"retrying to scheduled directly", models.JobRetrying, models.JobScheduled, false},
		{"success is terminal", models.JobSuccess, models.JobPending, false},
		{"dead is terminal", models.JobDead, models.JobRetrying, false},
		{"canceled is terminal", models.JobCanceled, models.JobPending, false},
		{"canceled from terminal never legal", models.JobSuccess, models.JobCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(models.JobPending, models.JobScheduled); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	err := Validate(models.JobSuccess, models.JobPending)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Validate() = %v, want ErrInvalidTransition", err)
	}
}

func TestCancellationFromAnyNonTerminalState(t *testing.T) {
	nonTerminal := []models.JobStatus{models.JobPending, models.JobScheduled, models.JobRunning}
	for _, s := range nonTerminal {
		if !CanTransition(s, models.JobCanceled) {
			t.Errorf("expected %s -> CANCELED to be legal", s)
		}
	}
	terminal := []models.JobStatus{models.JobSuccess, models.JobDead, models.JobCanceled}
	for _, s := range terminal {
		if CanTransition(s, models.JobCanceled) {
			t.Errorf("expected %s -> CANCELED to be illegal (already terminal)", s)
		}
	}
}
