package orchestrator

import "sync"

// circuitBreaker opens after maxFailures consecutive failed health checks.
// There is no half-open state: an open breaker means the instance is torn down.
type circuitBreaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	open        bool
}

func newCircuitBreaker(maxFailures int) *circuitBreaker {
	if maxFailures <= 0 {
		maxFailures = defaultHealthFailureThreshold
	}
	return &circuitBreaker{maxFailures: maxFailures}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.open = false
}

// RecordFailure returns true when this failure trips the breaker.
func (cb *circuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.maxFailures && !cb.open {
		cb.open = true
		return true
	}
	return false
}

func (cb *circuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *circuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}
