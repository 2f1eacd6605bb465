//go:build !integration

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"
)

func drain(s *Stream) ([]PageEvent, FetchResult) {
	var evs []PageEvent
	for ev := range s.Events() {
		evs = append(evs, ev)
	}
	return evs, s.Result()
}

func TestFetcher_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("should stop at the limit and acquire once per page", func(t *testing.T) {
		prov := pagedProvider("go", 10)
		lim := &countingLimiter{}
		f := NewFetcher(prov, lim, FetcherOptions{PageSize: 10}, nopLogger())

		evs, res := drain(f.Fetch(ctx, FetchRequest{JobID: "j1", Params: model.JobParams{Keyword: "go", Limit: 25}}))
		if res.Err != nil || res.Checked != 25 || res.Pages != 3 {
			t.Fatalf("unexpected result: %+v", res)
		}
		if lim.count() != 3 || prov.callCount() != 3 {
			t.Errorf("expected 3 acquires and calls, got %d/%d", lim.count(), prov.callCount())
		}
		if len(evs) != 3 || len(evs[2].Records) != 5 {
			t.Fatalf("unexpected events: %d", len(evs))
		}
		if evs[0].Records[0].JobID != "j1" || evs[0].Records[0].Keyword != "go" {
			t.Errorf("records not tagged: %+v", evs[0].Records[0])
		}
		if evs[2].Progress.Checked != 25 || evs[2].Progress.Phase != model.PhaseExternalFetch {
			t.Errorf("unexpected progress: %+v", evs[2].Progress)
		}
	})

	t.Run("should end on the last page", func(t *testing.T) {
		f := NewFetcher(pagedProvider("x", 2), &countingLimiter{}, FetcherOptions{PageSize: 5}, nopLogger())
		_, res := drain(f.Fetch(ctx, FetchRequest{Params: model.JobParams{Keyword: "x", Limit: 100}}))
		if res.Checked != 10 || res.Pages != 2 || res.Err != nil {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("should cap the limit", func(t *testing.T) {
		f := NewFetcher(pagedProvider("c", 100), &countingLimiter{}, FetcherOptions{PageSize: 10, LimitCap: 20}, nopLogger())
		_, res := drain(f.Fetch(ctx, FetchRequest{Params: model.JobParams{Keyword: "c", Limit: 5000}}))
		if res.Checked != 20 {
			t.Errorf("expected 20 checked, got %d", res.Checked)
		}
	})

	t.Run("should skip excluded keys and count filter matches", func(t *testing.T) {
		f := NewFetcher(pagedProvider("k", 1), &countingLimiter{}, FetcherOptions{PageSize: 10}, nopLogger())
		req := FetchRequest{
			Params:    model.JobParams{Keyword: "k", Limit: 100, MinSubscribers: 50},
			Exclude:   map[string]struct{}{"k_0_0": {}, "k_0_9": {}},
			FoundSeed: 4,
		}
		evs, res := drain(f.Fetch(ctx, req))
		if res.Checked != 8 {
			t.Errorf("expected 8 checked, got %d", res.Checked)
		}
		// subscribers 50..80 on i=5..8
		if res.Found != 4+4 {
			t.Errorf("expected 8 found, got %d", res.Found)
		}
		for _, r := range evs[0].Records {
			if r.Key == "k_0_0" || r.Key == "k_0_9" {
				t.Errorf("excluded key %s emitted", r.Key)
			}
		}
	})

	t.Run("should retry transient errors then succeed", func(t *testing.T) {
		fails := 2
		prov := &mockProvider{FetchPageFunc: func(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
			if fails > 0 {
				fails--
				return adapter.Page{}, domain.Transient(503, errors.New("busy"))
			}
			return adapter.Page{Items: []model.Record{{Key: "a"}}}, nil
		}}
		lim := &countingLimiter{}
		f := NewFetcher(prov, lim, FetcherOptions{PageRetries: 2, RetryBackoff: time.Millisecond}, nopLogger())
		_, res := drain(f.Fetch(ctx, FetchRequest{Params: model.JobParams{Limit: 10}}))
		if res.Err != nil || res.Checked != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
		if lim.count() != 3 {
			t.Errorf("expected an acquire per attempt, got %d", lim.count())
		}
	})

	t.Run("should give up after bounded retries", func(t *testing.T) {
		prov := &mockProvider{FetchPageFunc: func(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
			return adapter.Page{}, domain.Transient(429, errors.New("slow"))
		}}
		f := NewFetcher(prov, &countingLimiter{}, FetcherOptions{PageRetries: 1, RetryBackoff: time.Millisecond}, nopLogger())
		_, res := drain(f.Fetch(ctx, FetchRequest{Params: model.JobParams{Limit: 10}}))
		if !domain.IsTransientProvider(res.Err) || prov.callCount() != 2 {
			t.Errorf("expected transient error after 2 calls, got %v after %d", res.Err, prov.callCount())
		}
	})

	t.Run("should not retry fatal errors", func(t *testing.T) {
		prov := &mockProvider{FetchPageFunc: func(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
			return adapter.Page{}, domain.Fatal(403, errors.New("forbidden"))
		}}
		f := NewFetcher(prov, &countingLimiter{}, FetcherOptions{PageRetries: 3}, nopLogger())
		_, res := drain(f.Fetch(ctx, FetchRequest{Params: model.JobParams{Limit: 10}}))
		var pe *domain.ProviderError
		if !errors.As(res.Err, &pe) || pe.Kind != domain.ProviderFatal || prov.callCount() != 1 {
			t.Errorf("expected one fatal call, got %v after %d", res.Err, prov.callCount())
		}
	})

	t.Run("should stop at a page boundary when asked", func(t *testing.T) {
		prov := pagedProvider("s", 10)
		f := NewFetcher(prov, &countingLimiter{}, FetcherOptions{PageSize: 5}, nopLogger())
		_, res := drain(f.Fetch(ctx, FetchRequest{
			Params:  model.JobParams{Keyword: "s", Limit: 100},
			Stopped: func() bool { return prov.callCount() >= 2 },
		}))
		if !res.Stopped || res.Checked != 10 || res.Err != nil {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("should end with the context error when cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		f := NewFetcher(pagedProvider("z", 10), &countingLimiter{}, FetcherOptions{PageSize: 5}, nopLogger())
		stream := f.Fetch(cctx, FetchRequest{Params: model.JobParams{Keyword: "z", Limit: 100}})
		<-stream.Events()
		cancel()
		for range stream.Events() {
		}
		if res := stream.Result(); !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected context canceled, got %v", res.Err)
		}
	})
}
