// Package retrypolicy computes the delay before a failed job's next attempt.
// It implements spec.md §4.6's three policies and is pure and deterministic
// apart from the JITTER policy's random component, which uses math/rand
// the same way internal/util's ID generators do.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"

	"github.com/emadnahed/schedora/internal/models"
)

// MaxDelay caps the exponential growth of EXPONENTIAL and JITTER so a job
// stuck retrying for a long time doesn't end up scheduled years out.
const MaxDelay = time.Hour

// NextDelay returns the delay to wait before attempt number `attempt` (the
// attempt that is about to run, 1-indexed: attempt is the count of failures
// observed so far) given the job's base delay and retry policy. EXPONENTIAL
// and JITTER scale as baseDelay * 2^attempt, so the first retry (attempt 1)
// already backs off to 2x baseDelay, matching retry_service.py's
// `base_delay * 2**retry_count`.
func NextDelay(policy models.RetryPolicy, baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch policy {
	case models.RetryFixed:
		return baseDelay

	case models.RetryExponential:
		return exponential(baseDelay, attempt)

	case models.RetryJitter:
		exp := exponential(baseDelay, attempt)
		jitter := time.Duration(rand.Float64() * 0.5 * float64(exp))
		return capDelay(exp + jitter)

	default:
		return baseDelay
	}
}

func exponential(baseDelay time.Duration, attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt))
	return capDelay(time.Duration(float64(baseDelay) * factor))
}

func capDelay(d time.Duration) time.Duration {
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}
