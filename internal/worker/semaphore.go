package worker

// semaphore is a counted, non-blocking concurrency permit. It is strictly
// local to one process — it never guards correctness, only bounds resource
// use; correctness is enforced by the Store's compare-and-set updates
// (spec.md §4.8).
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	return &semaphore{slots: make(chan struct{}, n)}
}

// TryAcquire reports whether a permit was available and, if so, holds it.
func (s *semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously acquired permit.
func (s *semaphore) Release() {
	<-s.slots
}
