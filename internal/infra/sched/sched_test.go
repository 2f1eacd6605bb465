//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"

	"github.com/rs/zerolog"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type mockReaper struct {
	mu    sync.Mutex
	calls []time.Time
	ids   []string
}

func (m *mockReaper) Reap(ctx context.Context, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	return m.ids
}

func (m *mockReaper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockEnqueuer struct {
	EnqueueFunc func(job *model.Job) error
	jobs        []*model.Job
}

func (m *mockEnqueuer) Enqueue(job *model.Job) error {
	if m.EnqueueFunc != nil {
		if err := m.EnqueueFunc(job); err != nil {
			return err
		}
	}
	m.jobs = append(m.jobs, job)
	return nil
}

type mockCandidateSource struct {
	ListRetryCandidatesFunc func(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error)
}

func (m *mockCandidateSource) ListRetryCandidates(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
	return m.ListRetryCandidatesFunc(ctx, maxAttempts, since)
}

func failedJob(t *testing.T, attempt int, cause error) model.Job {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	j, err := model.NewJob(model.SourceManual, model.PriorityInteractive, model.JobParams{Keyword: "go", Limit: 10}, now)
	if err != nil {
		t.Fatal(err)
	}
	j.Attempt = attempt
	_ = j.Start(now)
	_ = j.Fail(now, cause, 0)
	return j.Snapshot()
}

func TestReaperWorker(t *testing.T) {
	t.Run("should sweep on every tick until cancelled", func(t *testing.T) {
		r := &mockReaper{ids: []string{"a"}}
		w := NewReaperWorker(5*time.Millisecond, r, nopLogger())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		deadline := time.Now().Add(time.Second)
		for r.count() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context canceled, got %v", err)
		}
		if r.count() < 2 {
			t.Errorf("expected at least 2 sweeps, got %d", r.count())
		}
	})

	t.Run("should pass the current time to the reaper", func(t *testing.T) {
		r := &mockReaper{}
		w := NewReaperWorker(time.Minute, r, nopLogger())
		fixed := time.Unix(1_700_000_000, 0)
		w.now = func() time.Time { return fixed }
		w.sweep(context.Background())
		if !r.calls[0].Equal(fixed) {
			t.Errorf("unexpected reap time %v", r.calls[0])
		}
	})
}

func TestRetryCoordinator(t *testing.T) {
	transient := domain.Transient(503, errors.New("unavailable"))
	opts := RetryOptions{MaxAttempts: 3, Cooldown: 10 * time.Minute}

	newCoordinator := func(enq JobEnqueuer, now *time.Time) *RetryCoordinator {
		c := NewRetryCoordinator(enq, opts, nopLogger())
		c.now = func() time.Time { return *now }
		return c
	}

	t.Run("should resubmit after the cooldown at retry priority", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		enq := &mockEnqueuer{}
		c := newCoordinator(enq, &now)
		failed := failedJob(t, 0, transient)

		c.OnFailure(failed)
		if c.Pending() != 1 {
			t.Fatalf("expected a pending retry")
		}
		now = now.Add(9 * time.Minute)
		if n := c.tick(); n != 0 {
			t.Fatalf("retry submitted before cooldown")
		}
		now = now.Add(time.Minute)
		if n := c.tick(); n != 1 {
			t.Fatalf("expected retry submission, got %d", n)
		}
		job := enq.jobs[0]
		if job.Priority != model.PriorityRetry || job.Attempt != 1 || job.RetriedFrom != failed.ID || job.Source != model.SourceRetry {
			t.Errorf("unexpected retry job: %+v", job)
		}
		if failed.State != model.JobStateFailed {
			t.Error("original job mutated")
		}
		if c.Pending() != 0 {
			t.Error("retry still pending after submission")
		}
	})

	t.Run("should never exceed max attempts", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		enq := &mockEnqueuer{}
		c := newCoordinator(enq, &now)

		c.OnFailure(failedJob(t, 2, transient))
		c.OnFailure(failedJob(t, 3, transient))
		now = now.Add(time.Hour)
		c.tick()
		if len(enq.jobs) != 1 || enq.jobs[0].Attempt != 3 {
			t.Fatalf("expected a single attempt-3 retry, got %d jobs", len(enq.jobs))
		}
	})

	t.Run("should ignore non retryable failures", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		c := newCoordinator(&mockEnqueuer{}, &now)
		c.OnFailure(failedJob(t, 0, domain.Fatal(401, errors.New("auth"))))
		c.OnFailure(failedJob(t, 0, domain.ErrInvalidArgument))
		if c.Pending() != 0 {
			t.Errorf("expected nothing pending, got %d", c.Pending())
		}
	})

	t.Run("should schedule a reaped job for retry", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		c := newCoordinator(&mockEnqueuer{}, &now)
		c.OnFailure(failedJob(t, 0, domain.ErrJobTimeout))
		if c.Pending() != 1 {
			t.Error("timeout failure should be retried")
		}
	})

	t.Run("should not schedule the same failure twice", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		c := newCoordinator(&mockEnqueuer{}, &now)
		j := failedJob(t, 0, transient)
		c.OnFailure(j)
		c.OnFailure(j)
		if c.Pending() != 1 {
			t.Errorf("expected 1 pending, got %d", c.Pending())
		}
	})

	t.Run("should drop a retry the scheduler rejects", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		enq := &mockEnqueuer{EnqueueFunc: func(job *model.Job) error { return domain.ErrSchedulerClosed }}
		c := newCoordinator(enq, &now)
		c.OnFailure(failedJob(t, 0, transient))
		now = now.Add(time.Hour)
		if n := c.tick(); n != 0 || c.Pending() != 0 {
			t.Errorf("unexpected state: submitted=%d pending=%d", n, c.Pending())
		}
	})

	t.Run("should restore pending retries from the store after a restart", func(t *testing.T) {
		failedAt := time.Unix(1_700_000_000, 0)
		recent := failedJob(t, 0, transient)
		old := failedJob(t, 1, transient)
		older := failedAt.Add(-time.Hour)
		old.CompletedAt = &older

		now := failedAt.Add(4 * time.Minute)
		var gotMax int
		var gotSince time.Time
		src := &mockCandidateSource{ListRetryCandidatesFunc: func(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
			gotMax, gotSince = maxAttempts, since
			return []*model.Job{&old, &recent}, nil
		}}
		enq := &mockEnqueuer{}
		c := newCoordinator(enq, &now)

		n, err := c.Restore(context.Background(), src)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 || c.Pending() != 2 {
			t.Fatalf("expected 2 restored, got %d (pending %d)", n, c.Pending())
		}
		if gotMax != 3 || !gotSince.Equal(now.Add(-24*time.Hour)) {
			t.Errorf("unexpected query: max=%d since=%s", gotMax, gotSince)
		}

		// The overdue one fires at once, the recent one keeps its cooldown.
		if n := c.tick(); n != 1 || enq.jobs[0].RetriedFrom != old.ID || enq.jobs[0].Attempt != 2 {
			t.Fatalf("expected only the overdue retry, got %d", n)
		}
		now = failedAt.Add(10 * time.Minute)
		if n := c.tick(); n != 1 || enq.jobs[1].RetriedFrom != recent.ID {
			t.Fatalf("expected the recent retry after its cooldown, got %d", n)
		}
	})

	t.Run("should not double schedule a failure seen live and in the store", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		j := failedJob(t, 0, transient)
		c := newCoordinator(&mockEnqueuer{}, &now)
		c.OnFailure(j)

		src := &mockCandidateSource{ListRetryCandidatesFunc: func(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
			return []*model.Job{&j}, nil
		}}
		if n, _ := c.Restore(context.Background(), src); n != 0 || c.Pending() != 1 {
			t.Errorf("expected a single pending retry, restored=%d pending=%d", n, c.Pending())
		}
	})

	t.Run("should surface store errors on restore", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		c := newCoordinator(&mockEnqueuer{}, &now)
		src := &mockCandidateSource{ListRetryCandidatesFunc: func(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
			return nil, domain.ErrReadDatabaseRow
		}}
		if _, err := c.Restore(context.Background(), src); !errors.Is(err, domain.ErrReadDatabaseRow) {
			t.Errorf("expected read error, got %v", err)
		}
	})
}
