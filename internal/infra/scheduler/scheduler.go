// Package scheduler wires the cron jobs that keep the store warm: periodic
// keyword ingestion and a random-keyword search while the pipeline is idle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Submitter is the slice of the job scheduler the cron jobs need.
type Submitter interface {
	Submit(ctx context.Context, source model.JobSource, priority int, params model.JobParams) (string, error)
	Idle() bool
	LastFinishedAt() time.Time
}

// Locker keeps cron jobs single-flight across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type Options struct {
	IngestSpec     string   // e.g. "@every 3h"
	Keywords       []string // one background job per keyword per tick
	Limit          int
	MinSubscribers int64
	IdleSpec       string
	IdleAfter      time.Duration
	RunOnStart     bool
}

const (
	ingestLockKey = "autoingest:keywords"
	idleLockKey   = "autoingest:idle"
)

// Scheduler wraps robfig/cron and owns the auto-ingest jobs.
type Scheduler struct {
	cron   *cron.Cron
	sub    Submitter
	words  adapter.WordSource
	locker Locker
	opts   Options
	now    func() time.Time
	log    zerolog.Logger

	mu       sync.Mutex
	lastIdle time.Time
}

func New(sub Submitter, words adapter.WordSource, locker Locker, opts Options, logger *zerolog.Logger) *Scheduler {
	if opts.IngestSpec == "" {
		opts.IngestSpec = "@every 3h"
	}
	if opts.IdleSpec == "" {
		opts.IdleSpec = "@every 1m"
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 7 * time.Minute
	}
	if opts.Limit <= 0 {
		opts.Limit = 1000
	}
	l := logger.With().Str("component", "AutoIngest").Logger()
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{l: l})),
		sub:    sub,
		words:  words,
		locker: locker,
		opts:   opts,
		now:    time.Now,
		log:    l,
	}
}

// Start registers the jobs and starts the cron loop. Process start counts as
// activity for the idle check.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.opts.Keywords) > 0 {
		if _, err := s.cron.AddFunc(s.opts.IngestSpec, func() { s.IngestKeywords(ctx) }); err != nil {
			return fmt.Errorf("cron.AddFunc ingest: %w", err)
		}
	}
	if s.words != nil {
		if _, err := s.cron.AddFunc(s.opts.IdleSpec, func() { s.IdleSearch(ctx) }); err != nil {
			return fmt.Errorf("cron.AddFunc idle: %w", err)
		}
	}
	s.mu.Lock()
	s.lastIdle = s.now()
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info().
		Str("ingest_spec", s.opts.IngestSpec).
		Int("keywords", len(s.opts.Keywords)).
		Str("idle_spec", s.opts.IdleSpec).
		Dur("idle_after", s.opts.IdleAfter).
		Msg("cron started")

	if s.opts.RunOnStart && len(s.opts.Keywords) > 0 {
		go s.IngestKeywords(ctx)
	}
	return nil
}

// Stop waits for running cron jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("cron stopped")
}

// IngestKeywords submits one background job per configured keyword.
func (s *Scheduler) IngestKeywords(ctx context.Context) int {
	unlock, ok := s.lock(ctx, ingestLockKey, time.Minute)
	if !ok {
		return 0
	}
	defer unlock()

	n := 0
	for _, kw := range s.opts.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		id, err := s.sub.Submit(ctx, model.SourceAutoIngest, model.PriorityBackground, s.params(kw))
		if err != nil {
			s.log.Warn().Err(err).Str("keyword", kw).Msg("auto-ingest submit failed")
			if errors.Is(err, domain.ErrSchedulerClosed) {
				break
			}
			continue
		}
		n++
		s.log.Debug().Str("job_id", id).Str("keyword", kw).Msg("auto-ingest job submitted")
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("auto-ingest cycle submitted")
	}
	return n
}

// IdleSearch submits a random-keyword job when nothing is queued or running
// and nothing has finished for IdleAfter. It returns the job id, if any.
func (s *Scheduler) IdleSearch(ctx context.Context) string {
	if !s.sub.Idle() {
		return ""
	}
	now := s.now()
	last := s.sub.LastFinishedAt()
	s.mu.Lock()
	if s.lastIdle.After(last) {
		last = s.lastIdle
	}
	s.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < s.opts.IdleAfter {
		return ""
	}

	unlock, ok := s.lock(ctx, idleLockKey, s.opts.IdleAfter)
	if !ok {
		return ""
	}
	defer unlock()

	word, err := s.words.RandomWord(ctx)
	if err != nil || strings.TrimSpace(word) == "" {
		s.log.Warn().Err(err).Msg("no random keyword available")
		return ""
	}
	id, err := s.sub.Submit(ctx, model.SourceAutoRandom, model.PriorityBackground, s.params(word))
	if err != nil {
		s.log.Warn().Err(err).Str("keyword", word).Msg("idle search submit failed")
		return ""
	}
	s.mu.Lock()
	s.lastIdle = now
	s.mu.Unlock()
	s.log.Info().Str("job_id", id).Str("keyword", word).Msg("idle random search submitted")
	return id
}

func (s *Scheduler) params(kw string) model.JobParams {
	return model.JobParams{Keyword: kw, Limit: s.opts.Limit, MinSubscribers: s.opts.MinSubscribers}
}

// lock takes the distributed lock when one is configured. Without a locker
// every call proceeds.
func (s *Scheduler) lock(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	token, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.log.Debug().Str("key", key).Msg("another instance holds the cron lock")
		} else {
			s.log.Warn().Err(err).Str("key", key).Msg("cron lock failed")
		}
		return nil, false
	}
	return func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cron unlock failed")
		}
	}, true
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
