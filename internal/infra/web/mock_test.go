//go:build !integration

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subsearch-pipeline/internal/config"
	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	ports "subsearch-pipeline/internal/domain/ports/usecase"

	"github.com/rs/zerolog"
)

type mockScheduler struct {
	SubmitFunc func(ctx context.Context, source model.JobSource, priority int, params model.JobParams) (string, error)
	CancelFunc func(ctx context.Context, id string) bool
	StatusFunc func(ctx context.Context, id string) (model.JobView, error)
	queue      []model.QueueItem
	stats      model.QueueStats
	estimate   time.Duration
}

var _ ports.JobScheduler = (*mockScheduler)(nil)

func (m *mockScheduler) Submit(ctx context.Context, source model.JobSource, priority int, params model.JobParams) (string, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, source, priority, params)
	}
	return "job-1", nil
}

func (m *mockScheduler) Cancel(ctx context.Context, id string) bool {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return false
}

func (m *mockScheduler) Status(ctx context.Context, id string) (model.JobView, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, id)
	}
	return model.JobView{}, domain.ErrNotFound
}

func (m *mockScheduler) QueuePosition(id string) (int, bool) { return 0, false }
func (m *mockScheduler) ListQueue() []model.QueueItem { return m.queue }
func (m *mockScheduler) Stats() model.QueueStats { return m.stats }
func (m *mockScheduler) Estimate() time.Duration { return m.estimate }
func (m *mockScheduler) Idle() bool { return len(m.queue) == 0 }
func (m *mockScheduler) LastFinishedAt() time.Time { return time.Time{} }

type mockRecords struct {
	QueryFunc func(ctx context.Context, q model.RecordQuery) (model.RecordPage, error)
	StatsFunc func(ctx context.Context) (model.StoreStats, error)
}

var _ ports.RecordBrowser = (*mockRecords)(nil)

func (m *mockRecords) Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, q)
	}
	return model.RecordPage{Rows: []model.Record{}, Page: q.Page, PageSize: q.PageSize}, nil
}

func (m *mockRecords) Stats(ctx context.Context) (model.StoreStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return model.StoreStats{}, nil
}

type mockReaper struct {
	ReapFunc func(ctx context.Context, now time.Time) []string
}

func (m *mockReaper) Reap(ctx context.Context, now time.Time) []string {
	if m.ReapFunc != nil {
		return m.ReapFunc(ctx, now)
	}
	return nil
}

const (
	testSecret = "test-secret"
	testAPIKey = "test-admin-key"
)

type testEnv struct {
	sched   *mockScheduler
	records *mockRecords
	reaper  *mockReaper
	auth    *AuthManager
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	env := &testEnv{
		sched:   &mockScheduler{},
		records: &mockRecords{},
		reaper:  &mockReaper{},
		auth:    NewAuthManager(testSecret, testAPIKey, false, time.Minute),
	}
	cfg := config.HTTPConfig{Port: 0, ReadTimeout: time.Second, WriteTimeout: 5 * time.Second}
	srv := NewServer(cfg, env.sched, env.records, env.reaper, env.auth, &logger)
	env.handler = srv.Routes()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
