// Package ratelimit holds the in-process pacer shared by every running job.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/infra/metrics"
)

var _ adapter.RateLimiter = (*Pacer)(nil)

// Pacer spaces grants at least delay apart. Callers reserve the next free
// slot under the lock and sleep outside it, so grants follow call order.
type Pacer struct {
	delay time.Duration
	now   func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay, now: time.Now}
}

func (p *Pacer) Delay() time.Duration { return p.delay }

// Acquire blocks until the caller's slot arrives. It only returns an error
// when ctx is done before that.
func (p *Pacer) Acquire(ctx context.Context) error {
	start := p.now()
	slot := p.reserve(start)
	wait := slot.Sub(start)
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	metrics.ObserveLimiterWait("local", wait.Milliseconds())
	return nil
}

func (p *Pacer) reserve(now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := now
	if !p.last.IsZero() {
		if next := p.last.Add(p.delay); next.After(slot) {
			slot = next
		}
	}
	p.last = slot
	return slot
}
