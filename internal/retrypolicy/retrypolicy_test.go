package retrypolicy

import (
	"testing"
	"time"

	"github.com/emadnahed/schedora/internal/models"
)

func TestNextDelayFixed(t *testing.T) {
	base := 5 * time.Second
	for attempt := 1; attempt <= 4; attempt++ {
		if got := NextDelay(models.RetryFixed, base, attempt); got != base {
			t.Errorf("attempt %d: NextDelay(FIXED) = %v, want %v", attempt, got, base)
		}
	}
}

func TestNextDelayExponential(t *testing.T) {
	base := time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := NextDelay(models.RetryExponential, base, tt.attempt); got != tt.want {
			t.Errorf("attempt %d: NextDelay(EXPONENTIAL) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextDelayExponentialCapsAtMaxDelay(t *testing.T) {
	got := NextDelay(models.RetryExponential, time.Second, 30)
	if got != MaxDelay {
		t.Errorf("NextDelay(EXPONENTIAL) at high attempt = %v, want cap %v", got, MaxDelay)
	}
}

func TestNextDelayJitterWithinExpectedRange(t *testing.T) {
	base := time.Second
	exp := exponential(base, 3) // 8s
	for i := 0; i < 50; i++ {
		got := NextDelay(models.RetryJitter, base, 3)
		if got < exp || got > exp+time.Duration(0.5*float64(exp)) {
			t.Errorf("NextDelay(JITTER) = %v, want in [%v, %v]", got, exp, exp+time.Duration(0.5*float64(exp)))
		}
	}
}

func TestNextDelayJitterCapsAtMaxDelay(t *testing.T) {
	got := NextDelay(models.RetryJitter, time.Second, 30)
	if got != MaxDelay {
		t.Errorf("NextDelay(JITTER) at high attempt = %v, want cap %v", got, MaxDelay)
	}
}

func TestNextDelayAttemptBelowOneTreatedAsOne(t *testing.T) {
	base := 2 * time.Second
	want := 4 * time.Second // attempt clamped to 1, factor 2^1
	if got := NextDelay(models.RetryExponential, base, 0); got != want {
		t.Errorf("NextDelay(attempt=0) = %v, want %v", got, want)
	}
	if got := NextDelay(models.RetryExponential, base, -5); got != want {
		t.Errorf("NextDelay(attempt=-5) = %v, want %v", got, want)
	}
}
