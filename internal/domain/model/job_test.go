//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"subsearch-pipeline/internal/domain"
)

func TestJob_Transitions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := JobParams{Keyword: " cats ", Limit: 10}

	t.Run("should create a queued job with trimmed keyword", func(t *testing.T) {
		j, err := NewJob("", PriorityInteractive, p, now)
		if err != nil {
			t.Fatal(err)
		}
		if j.State != JobStateQueued || j.Source != SourceManual || j.Params.Keyword != "cats" || j.ID == "" {
			t.Errorf("unexpected job: %+v", j)
		}
	})

	t.Run("should reject negative priority and invalid params", func(t *testing.T) {
		if _, err := NewJob(SourceManual, -1, p, now); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
		if _, err := NewJob(SourceManual, 0, JobParams{Limit: 0}, now); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("should walk queued running completed", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		if err := j.Start(now.Add(time.Second)); err != nil {
			t.Fatal(err)
		}
		if j.Progress.Phase != PhaseCacheScan {
			t.Errorf("expected cache_scan phase, got %s", j.Progress.Phase)
		}
		if err := j.Complete(now.Add(11*time.Second), 42); err != nil {
			t.Fatal(err)
		}
		d, ok := j.Duration()
		if !ok || d != 10*time.Second {
			t.Errorf("expected 10s duration, got %v", d)
		}
		if j.ResultCount != 42 || j.Progress.Phase != PhaseDone {
			t.Errorf("unexpected completed job: %+v", j)
		}
	})

	t.Run("should refuse any transition out of a terminal state", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		_ = j.Start(now)
		_ = j.Fail(now, domain.ErrJobTimeout, 3)
		for name, err := range map[string]error{
			"complete": j.Complete(now, 1),
			"stop":     j.Stop(now, 1),
			"start":    j.Start(now),
			"fail":     j.Fail(now, errors.New("x"), 0),
		} {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("%s: expected invalid transition, got %v", name, err)
			}
		}
		if j.State != JobStateFailed || j.ResultCount != 3 {
			t.Errorf("terminal job was modified: %+v", j)
		}
	})

	t.Run("should not complete a queued job", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		if err := j.Complete(now, 1); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected invalid transition, got %v", err)
		}
	})

	t.Run("should stop a queued job without a result count", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		if err := j.Stop(now, 99); err != nil {
			t.Fatal(err)
		}
		if j.ResultCount != 0 || j.Error != domain.ErrJobStopped.Error() {
			t.Errorf("unexpected stopped job: %+v", j)
		}
	})

	t.Run("should mark transient failures retryable", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		_ = j.Start(now)
		_ = j.Fail(now, domain.Transient(429, errors.New("slow down")), 0)
		if !j.Retryable {
			t.Error("expected retryable")
		}

		k, _ := NewJob(SourceManual, 0, p, now)
		_ = k.Start(now)
		_ = k.Fail(now, domain.Fatal(404, errors.New("gone")), 0)
		if k.Retryable {
			t.Error("fatal failure must not be retryable")
		}
	})

	t.Run("should ignore progress after the job finished", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		if j.UpdateProgress(Progress{Checked: 1}, now) {
			t.Error("queued job accepted progress")
		}
		_ = j.Start(now)
		if !j.UpdateProgress(Progress{Checked: 5, Found: 2}, now) || j.Progress.Phase != PhaseCacheScan {
			t.Errorf("unexpected progress: %+v", j.Progress)
		}
		_ = j.Complete(now, 2)
		if j.UpdateProgress(Progress{Checked: 9}, now) || j.Progress.Checked != 5 {
			t.Error("terminal job accepted progress")
		}
	})

	t.Run("should clamp timestamps under clock skew", func(t *testing.T) {
		j, _ := NewJob(SourceManual, 0, p, now)
		_ = j.Start(now.Add(-time.Minute))
		_ = j.Complete(now.Add(-2*time.Minute), 0)
		if j.StartedAt.Before(j.SubmittedAt) || j.CompletedAt.Before(*j.StartedAt) {
			t.Errorf("timestamps out of order: %v %v %v", j.SubmittedAt, j.StartedAt, j.CompletedAt)
		}
	})
}

func TestNewRetryJob(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	j, _ := NewJob(SourceAutoIngest, PriorityBackground, JobParams{Keyword: "go", Limit: 5}, now)

	t.Run("should refuse jobs that did not fail", func(t *testing.T) {
		if _, err := NewRetryJob(j, now); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("should derive the next attempt at retry priority", func(t *testing.T) {
		_ = j.Start(now)
		_ = j.Fail(now, domain.ErrJobTimeout, 0)
		r, err := NewRetryJob(j, now.Add(time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if r.ID == j.ID || r.Priority != PriorityRetry || r.Source != SourceRetry || r.Attempt != 1 || r.RetriedFrom != j.ID {
			t.Errorf("unexpected retry job: %+v", r)
		}
		if r.Params.Keyword != "go" || r.State != JobStateQueued {
			t.Errorf("retry lost params: %+v", r)
		}
	})
}

func TestJob_Snapshot(t *testing.T) {
	t.Run("should not share time pointers", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		j, _ := NewJob(SourceManual, 0, JobParams{Keyword: "x", Limit: 1}, now)
		_ = j.Start(now)
		s := j.Snapshot()
		*s.StartedAt = now.Add(time.Hour)
		if !j.StartedAt.Equal(now) {
			t.Error("snapshot mutation leaked into job")
		}
	})
}
