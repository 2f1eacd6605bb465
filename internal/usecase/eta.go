package usecase

import (
	"sync"
	"time"
)

// ETAEstimator keeps a rolling window of completed run durations.
// Its output is advisory and never feeds admission.
type ETAEstimator struct {
	mu       sync.Mutex
	window   []time.Duration
	next     int
	full     bool
	fallback time.Duration
}

func NewETAEstimator(size int, fallback time.Duration) *ETAEstimator {
	if size <= 0 {
		size = 10
	}
	if fallback <= 0 {
		fallback = 60 * time.Second
	}
	return &ETAEstimator{window: make([]time.Duration, size), fallback: fallback}
}

// Observe records the duration of a completed job.
func (e *ETAEstimator) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window[e.next] = d
	e.next = (e.next + 1) % len(e.window)
	if e.next == 0 {
		e.full = true
	}
}

// Seed primes the window, oldest first.
func (e *ETAEstimator) Seed(durations []time.Duration) {
	for _, d := range durations {
		e.Observe(d)
	}
}

// Estimate returns the mean of the window, or the fallback when empty.
func (e *ETAEstimator) Estimate() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.next
	if e.full {
		n = len(e.window)
	}
	if n == 0 {
		return e.fallback
	}
	var sum time.Duration
	for _, d := range e.window[:n] {
		sum += d
	}
	return sum / time.Duration(n)
}

// Wait projects the wait of a job at the given queue position.
func (e *ETAEstimator) Wait(position int) time.Duration {
	if position < 0 {
		return 0
	}
	return time.Duration(position) * e.Estimate()
}
