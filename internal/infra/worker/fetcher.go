package worker

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/infra/logging"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// PageEvent is emitted once per fetched page. Records holds every record
// evaluated on that page; Progress is the cumulative snapshot after it.
type PageEvent struct {
	Records  []model.Record
	Progress model.Progress
}

type FetchRequest struct {
	JobID  string
	Params model.JobParams
	// Exclude holds keys already accounted for by the cache scan.
	Exclude map[string]struct{}
	// FoundSeed is the match count carried over from the cache scan.
	FoundSeed int
	Stopped   func() bool
}

type FetchResult struct {
	Checked int
	Found   int
	Pages   int
	Stopped bool
	Err     error
}

// Stream is a lazy, finite sequence of page events. Result is valid once
// Events has been drained.
type Stream struct {
	events chan PageEvent
	done   chan struct{}
	res    FetchResult
}

func (s *Stream) Events() <-chan PageEvent { return s.events }

// Result blocks until the producer has finished.
func (s *Stream) Result() FetchResult {
	<-s.done
	return s.res
}

type FetcherOptions struct {
	PageSize     int
	PageRetries  int
	RetryBackoff time.Duration
	LimitCap     int
}

// Fetcher walks provider pages through the shared rate limiter.
type Fetcher struct {
	provider adapter.Provider
	limiter  adapter.RateLimiter
	opts     FetcherOptions
	log      zerolog.Logger
}

func NewFetcher(provider adapter.Provider, limiter adapter.RateLimiter, opts FetcherOptions, logger *zerolog.Logger) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.PageRetries < 0 {
		opts.PageRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	return &Fetcher{
		provider: provider,
		limiter:  limiter,
		opts:     opts,
		log:      logger.With().Str("component", "Fetcher").Logger(),
	}
}

// Fetch starts the producer and returns its stream. The producer stops at
// the first of: limit reached, last page, stop requested, error, ctx done.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) *Stream {
	s := &Stream{events: make(chan PageEvent), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer close(s.events)
		s.res = f.run(ctx, req, s.events)
	}()
	return s
}

func (f *Fetcher) run(ctx context.Context, req FetchRequest, out chan<- PageEvent) FetchResult {
	res := FetchResult{Found: req.FoundSeed}
	limit := req.Params.Limit
	if f.opts.LimitCap > 0 && limit > f.opts.LimitCap {
		limit = f.opts.LimitCap
	}
	seen := make(map[string]struct{}, len(req.Exclude))
	for k := range req.Exclude {
		seen[k] = struct{}{}
	}
	match := req.Params.Filter()
	log := f.log.With().Str("job_id", req.JobID).Logger()

	cursor := ""
	for res.Checked < limit {
		if req.Stopped != nil && req.Stopped() {
			res.Stopped = true
			return res
		}
		page, err := f.fetchPage(ctx, adapter.PageQuery{
			Keyword:  req.Params.Keyword,
			Cursor:   cursor,
			PageSize: f.opts.PageSize,
		})
		if err != nil {
			res.Err = err
			return res
		}
		res.Pages++

		batch := make([]model.Record, 0, len(page.Items))
		for _, r := range page.Items {
			if res.Checked >= limit {
				break
			}
			if _, dup := seen[r.Key]; dup {
				continue
			}
			seen[r.Key] = struct{}{}
			res.Checked++
			r.Keyword = req.Params.Keyword
			r.JobID = req.JobID
			if match(r) {
				res.Found++
			}
			batch = append(batch, r)
		}

		ev := PageEvent{
			Records:  batch,
			Progress: model.Progress{Checked: res.Checked, Found: res.Found, Phase: model.PhaseExternalFetch},
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
		log.Debug().Int("page", res.Pages).Int("checked", res.Checked).Int("found", res.Found).Msg("page processed")

		if page.NextCursor == "" || len(page.Items) == 0 {
			return res
		}
		cursor = page.NextCursor
	}
	return res
}

// fetchPage acquires the limiter before every attempt and retries transient
// failures a bounded number of times.
func (f *Fetcher) fetchPage(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
	defer logging.TraceDuration(&f.log, "Fetcher.fetchPage")()
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return adapter.Page{}, err
		}
		page, err := f.provider.FetchPage(ctx, q)
		if err == nil {
			metrics.IncProviderPage(f.provider.Name(), "ok")
			return page, nil
		}
		if !domain.IsTransientProvider(err) {
			metrics.IncProviderPage(f.provider.Name(), "fatal")
			return adapter.Page{}, err
		}
		metrics.IncProviderPage(f.provider.Name(), "transient")
		if attempt >= f.opts.PageRetries {
			return adapter.Page{}, err
		}
		wait := f.opts.RetryBackoff * time.Duration(attempt+1)
		f.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", wait).Msg("transient provider error; retrying page")
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return adapter.Page{}, ctx.Err()
		case <-t.C:
		}
	}
}
