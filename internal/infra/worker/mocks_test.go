//go:build !integration

package worker

import (
	"context"
	"fmt"
	"sync"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type mockProvider struct {
	FetchPageFunc func(ctx context.Context, q adapter.PageQuery) (adapter.Page, error)

	mu    sync.Mutex
	calls []adapter.PageQuery
}

func (m *mockProvider) Name() string { return "test" }

func (m *mockProvider) FetchPage(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	m.mu.Unlock()
	return m.FetchPageFunc(ctx, q)
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// pagedProvider serves pages of size records named prefix_<page>_<i>.
func pagedProvider(prefix string, pages int) *mockProvider {
	return &mockProvider{FetchPageFunc: func(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
		n := 0
		if q.Cursor != "" {
			fmt.Sscanf(q.Cursor, "p%d", &n)
		}
		items := make([]model.Record, 0, q.PageSize)
		for i := 0; i < q.PageSize; i++ {
			name := fmt.Sprintf("%s_%d_%d", prefix, n, i)
			items = append(items, model.Record{Key: name, Name: name, Subscribers: int64(i * 10)})
		}
		next := ""
		if n+1 < pages {
			next = fmt.Sprintf("p%d", n+1)
		}
		return adapter.Page{Items: items, NextCursor: next}, nil
	}}
}

type countingLimiter struct {
	mu sync.Mutex
	n  int
}

func (c *countingLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *countingLimiter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type mockRecordRepo struct {
	UpsertFunc        func(ctx context.Context, batch []model.Record) (model.UpsertResult, error)
	FindByKeywordFunc func(ctx context.Context, keyword string, limit int) ([]model.Record, error)

	mu      sync.Mutex
	stored  map[string]model.Record
	batches [][]model.Record
}

var _ repository.RecordRepository = (*mockRecordRepo)(nil)

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{stored: make(map[string]model.Record)}
}

func (m *mockRecordRepo) Upsert(ctx context.Context, tx repository.Tx, batch []model.Record) (model.UpsertResult, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]model.Record(nil), batch...))
	m.mu.Unlock()
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, batch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res model.UpsertResult
	for _, r := range batch {
		if _, ok := m.stored[r.Key]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		m.stored[r.Key] = r
	}
	return res, nil
}

func (m *mockRecordRepo) Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error) {
	return model.RecordPage{}, nil
}

func (m *mockRecordRepo) FindByKeyword(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
	if m.FindByKeywordFunc != nil {
		return m.FindByKeywordFunc(ctx, keyword, limit)
	}
	return nil, nil
}

func (m *mockRecordRepo) Stats(ctx context.Context) (model.StoreStats, error) {
	return model.StoreStats{}, nil
}

func (m *mockRecordRepo) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, len(b))
	}
	return out
}

func (m *mockRecordRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

type fakeReporter struct {
	mu       sync.Mutex
	progress []model.Progress
	stopped  func() bool
}

func (f *fakeReporter) Progress(p model.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
}

func (f *fakeReporter) Stopped() bool {
	return f.stopped != nil && f.stopped()
}

func (f *fakeReporter) last() model.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return model.Progress{}
	}
	return f.progress[len(f.progress)-1]
}
