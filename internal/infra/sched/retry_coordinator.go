package sched

import (
	"context"
	"sort"
	"sync"
	"time"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// JobEnqueuer accepts an already built job.
type JobEnqueuer interface {
	Enqueue(job *model.Job) error
}

// RetryCandidateSource lists failed jobs that still await a retry attempt.
type RetryCandidateSource interface {
	ListRetryCandidates(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error)
}

type RetryOptions struct {
	MaxAttempts  int
	Cooldown     time.Duration
	ScanInterval time.Duration
	// Lookback bounds how old a failure Restore will still retry.
	Lookback time.Duration
}

type pendingRetry struct {
	failed model.Job
	due    time.Time
}

// RetryCoordinator observes failed jobs and re-submits retryable ones as
// fresh attempts once their cooldown has elapsed. The failed job itself is
// never touched.
type RetryCoordinator struct {
	enq  JobEnqueuer
	opts RetryOptions
	now  func() time.Time
	log  *zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingRetry
}

func NewRetryCoordinator(enq JobEnqueuer, opts RetryOptions, logger *zerolog.Logger) *RetryCoordinator {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 30 * time.Second
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	compLog := logger.With().Str("component", "RetryCoordinator").Logger()
	return &RetryCoordinator{
		enq:     enq,
		opts:    opts,
		now:     time.Now,
		log:     &compLog,
		pending: make(map[string]pendingRetry),
	}
}

// OnFailure is registered as a scheduler failure observer.
func (c *RetryCoordinator) OnFailure(job model.Job) {
	c.schedule(job, c.now().Add(c.opts.Cooldown))
}

// Restore rebuilds the pending set from the job store after a restart.
// Retries come due at the failure's completion time plus the cooldown, so
// a failure whose cooldown ran out while the process was down is retried on
// the next tick. Call it before Run.
func (c *RetryCoordinator) Restore(ctx context.Context, src RetryCandidateSource) (int, error) {
	if c.opts.MaxAttempts == 0 {
		return 0, nil
	}
	now := c.now()
	jobs, err := src.ListRetryCandidates(ctx, c.opts.MaxAttempts, now.Add(-c.opts.Lookback))
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, j := range jobs {
		due := now
		if j.CompletedAt != nil {
			due = j.CompletedAt.Add(c.opts.Cooldown)
		}
		if c.schedule(*j, due) {
			restored++
		}
	}
	c.log.Info().Int("restored", restored).Int("candidates", len(jobs)).Msg("pending retries restored")
	return restored, nil
}

func (c *RetryCoordinator) schedule(job model.Job, due time.Time) bool {
	if job.State != model.JobStateFailed {
		return false
	}
	if !job.Retryable {
		metrics.IncRetry("not_retryable")
		c.log.Debug().Str("job_id", job.ID).Str("error", job.Error).Msg("failure not retryable")
		return false
	}
	if job.Attempt >= c.opts.MaxAttempts {
		metrics.IncRetry("exhausted")
		c.log.Warn().Str("job_id", job.ID).Int("attempt", job.Attempt).Msg("retry budget exhausted")
		return false
	}

	c.mu.Lock()
	if _, dup := c.pending[job.ID]; dup {
		c.mu.Unlock()
		return false
	}
	c.pending[job.ID] = pendingRetry{failed: job, due: due}
	c.mu.Unlock()

	metrics.IncRetry("scheduled")
	c.log.Info().Str("job_id", job.ID).Int("attempt", job.Attempt).Time("due", due).Msg("retry scheduled")
	return true
}

// Pending returns the number of retries waiting for their cooldown.
func (c *RetryCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *RetryCoordinator) Run(ctx context.Context) error {
	c.log.Info().Dur("cooldown", c.opts.Cooldown).Int("max_attempts", c.opts.MaxAttempts).Msg("Starting retry coordinator")
	ticker := time.NewTicker(c.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Int("pending", c.Pending()).Msg("Stopping retry coordinator")
			return ctx.Err()
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick re-submits every retry whose cooldown has elapsed, oldest due first.
func (c *RetryCoordinator) tick() int {
	now := c.now()
	c.mu.Lock()
	var due []pendingRetry
	for id, p := range c.pending {
		if !p.due.After(now) {
			due = append(due, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	submitted := 0
	for _, p := range due {
		failed := p.failed
		job, err := model.NewRetryJob(&failed, now)
		if err != nil {
			c.log.Error().Err(err).Str("job_id", failed.ID).Msg("cannot build retry job")
			continue
		}
		if err := c.enq.Enqueue(job); err != nil {
			metrics.IncRetry("rejected")
			c.log.Warn().Err(err).Str("job_id", failed.ID).Msg("retry rejected by scheduler")
			continue
		}
		submitted++
		metrics.IncRetry("submitted")
		c.log.Info().Str("job_id", job.ID).Str("retried_from", failed.ID).Int("attempt", job.Attempt).Msg("retry submitted")
	}
	return submitted
}
