//go:build !integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/infra/adapters/provider"
)

func newTestJob(t *testing.T, params model.JobParams) model.Job {
	t.Helper()
	j, err := model.NewJob(model.SourceManual, model.PriorityInteractive, params, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return j.Snapshot()
}

func TestJobExecutor_Run(t *testing.T) {
	ctx := context.Background()
	bufOpts := BufferOptions{BatchSize: 8, FlushInterval: time.Hour}

	t.Run("should persist every evaluated record from the mock provider", func(t *testing.T) {
		repo := newMockRecordRepo()
		mock := provider.NewMockAdapter(provider.MockAdapterOptions{Pages: 3})
		f := NewFetcher(mock, &countingLimiter{}, FetcherOptions{PageSize: 10}, nopLogger())
		exec := NewJobExecutor(repo, f, bufOpts, 5000, nopLogger())
		rep := &fakeReporter{}

		out := exec.Run(ctx, newTestJob(t, model.JobParams{Keyword: "golang", Limit: 25}), rep)
		if out.Err != nil || out.Stopped {
			t.Fatalf("unexpected outcome: %+v", out)
		}
		if out.ResultCount != 25 || repo.count() != 25 {
			t.Errorf("expected 25 persisted, got %d/%d", out.ResultCount, repo.count())
		}
		if p := rep.last(); p.Checked != 25 || p.Phase != model.PhaseExternalFetch {
			t.Errorf("unexpected final progress: %+v", p)
		}
	})

	t.Run("should seed found from the cache scan and skip cached keys", func(t *testing.T) {
		repo := newMockRecordRepo()
		repo.FindByKeywordFunc = func(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
			if limit != 5000 {
				t.Errorf("expected cache scan limit 5000, got %d", limit)
			}
			return []model.Record{rec("cat_0_0"), rec("cat_0_1"), rec("other")}, nil
		}
		prov := pagedProvider("cat", 1)
		f := NewFetcher(prov, &countingLimiter{}, FetcherOptions{PageSize: 5}, nopLogger())
		exec := NewJobExecutor(repo, f, bufOpts, 5000, nopLogger())
		rep := &fakeReporter{}

		out := exec.Run(ctx, newTestJob(t, model.JobParams{Keyword: "cat", Limit: 100}), rep)
		if out.ResultCount != 3 {
			t.Errorf("expected 3 new records persisted, got %d", out.ResultCount)
		}
		if first := rep.progress[0]; first.Found != 3 || first.Checked != 0 {
			t.Errorf("unexpected cache scan progress: %+v", first)
		}
		if p := rep.last(); p.Found != 6 || p.Checked != 3 {
			t.Errorf("unexpected final progress: %+v", p)
		}
	})

	t.Run("should survive a failing cache scan", func(t *testing.T) {
		repo := newMockRecordRepo()
		repo.FindByKeywordFunc = func(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
			return nil, errors.New("db down")
		}
		f := NewFetcher(pagedProvider("dog", 1), &countingLimiter{}, FetcherOptions{PageSize: 4}, nopLogger())
		out := NewJobExecutor(repo, f, bufOpts, 5000, nopLogger()).Run(ctx, newTestJob(t, model.JobParams{Keyword: "dog", Limit: 10}), &fakeReporter{})
		if out.Err != nil || out.ResultCount != 4 {
			t.Errorf("unexpected outcome: %+v", out)
		}
	})

	t.Run("should keep partial results when stopped", func(t *testing.T) {
		repo := newMockRecordRepo()
		prov := pagedProvider("stop", 10)
		f := NewFetcher(prov, &countingLimiter{}, FetcherOptions{PageSize: 5}, nopLogger())
		rep := &fakeReporter{stopped: func() bool { return prov.callCount() >= 2 }}

		out := NewJobExecutor(repo, f, bufOpts, 0, nopLogger()).Run(ctx, newTestJob(t, model.JobParams{Keyword: "stop", Limit: 100}), rep)
		if !out.Stopped || out.Err != nil {
			t.Fatalf("expected stopped outcome, got %+v", out)
		}
		if out.ResultCount != 10 {
			t.Errorf("expected 10 persisted before stop, got %d", out.ResultCount)
		}
	})

	t.Run("should report a fatal provider failure with partial count", func(t *testing.T) {
		repo := newMockRecordRepo()
		calls := 0
		prov := &mockProvider{FetchPageFunc: func(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
			calls++
			if calls > 1 {
				return adapter.Page{}, domain.Fatal(401, errors.New("unauthorized"))
			}
			items := make([]model.Record, 3)
			for i := range items {
				items[i] = rec(fmt.Sprintf("f%d", i))
			}
			return adapter.Page{Items: items, NextCursor: "p1"}, nil
		}}
		f := NewFetcher(prov, &countingLimiter{}, FetcherOptions{PageSize: 3}, nopLogger())
		out := NewJobExecutor(repo, f, bufOpts, 0, nopLogger()).Run(ctx, newTestJob(t, model.JobParams{Limit: 10}), &fakeReporter{})
		if out.Err == nil || domain.IsRetryable(out.Err) {
			t.Errorf("expected fatal error, got %v", out.Err)
		}
		if out.ResultCount != 3 {
			t.Errorf("expected 3 persisted, got %d", out.ResultCount)
		}
	})
}
