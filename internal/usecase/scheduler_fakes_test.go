//go:build !integration

package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	ports "subsearch-pipeline/internal/domain/ports/usecase"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeExecutor blocks every run until the test releases it.
type fakeExecutor struct {
	mu       sync.Mutex
	started  []string
	release  map[string]chan ports.RunOutcome
	current  int
	maxSeen  int
	progress func(job model.Job, rep ports.ProgressReporter)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{release: make(map[string]chan ports.RunOutcome)}
}

func (f *fakeExecutor) ch(id string) chan ports.RunOutcome {
	c, ok := f.release[id]
	if !ok {
		c = make(chan ports.RunOutcome, 1)
		f.release[id] = c
	}
	return c
}

func (f *fakeExecutor) Run(ctx context.Context, job model.Job, rep ports.ProgressReporter) ports.RunOutcome {
	f.mu.Lock()
	f.started = append(f.started, job.ID)
	f.current++
	if f.current > f.maxSeen {
		f.maxSeen = f.current
	}
	c := f.ch(job.ID)
	progress := f.progress
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.current--
		f.mu.Unlock()
	}()

	if progress != nil {
		progress(job, rep)
	}
	select {
	case out := <-c:
		return out
	case <-ctx.Done():
		return ports.RunOutcome{Err: ctx.Err()}
	}
}

func (f *fakeExecutor) finish(id string, out ports.RunOutcome) {
	f.mu.Lock()
	c := f.ch(id)
	f.mu.Unlock()
	c <- out
}

func (f *fakeExecutor) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeExecutor) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// memJobRepo is a small in-memory JobRepository.
type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]model.Job
	durations []time.Duration
	deleted   []string
	// deleteDelay makes Delete slow to expose reads that race the writer.
	deleteDelay time.Duration
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]model.Job)}
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Snapshot()
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (m *memJobRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	if m.deleteDelay > 0 {
		time.Sleep(m.deleteDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memJobRepo) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.State == state {
			c := j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.Before(out[k].SubmittedAt) })
	return out, nil
}

func (m *memJobRepo) RecentDurations(ctx context.Context, limit int) ([]time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) > limit {
		return m.durations[:limit], nil
	}
	return m.durations, nil
}

func (m *memJobRepo) LastFinishedAt(ctx context.Context) (*time.Time, error) {
	return nil, nil
}

func (m *memJobRepo) ListRetryCandidates(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	retried := make(map[string]bool)
	for _, j := range m.jobs {
		if j.RetriedFrom != "" {
			retried[j.RetriedFrom] = true
		}
	}
	var out []*model.Job
	for _, j := range m.jobs {
		if j.State != model.JobStateFailed || !j.Retryable || j.Attempt >= maxAttempts || retried[j.ID] {
			continue
		}
		if j.CompletedAt == nil || j.CompletedAt.Before(since) {
			continue
		}
		c := j
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CompletedAt.Before(*out[k].CompletedAt) })
	return out, nil
}

func (m *memJobRepo) get(id string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

func (m *memJobRepo) wasDeleted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deleted {
		if d == id {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func params(kw string) model.JobParams {
	return model.JobParams{Keyword: kw, Limit: 50}
}
