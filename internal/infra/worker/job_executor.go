package worker

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/domain/ports/usecase"
	"subsearch-pipeline/internal/infra/logging"

	"github.com/rs/zerolog"
)

var _ usecase.JobExecutor = (*JobExecutor)(nil)

// JobExecutor runs one admitted job: cache scan, then the fetch producer
// feeding a persistence buffer.
type JobExecutor struct {
	records        repository.RecordRepository
	fetcher        *Fetcher
	bufOpts        BufferOptions
	cacheScanLimit int
	log            *zerolog.Logger
}

func NewJobExecutor(
	records repository.RecordRepository,
	fetcher *Fetcher,
	bufOpts BufferOptions,
	cacheScanLimit int,
	logger *zerolog.Logger,
) *JobExecutor {
	l := logger.With().Str("component", "JobExecutor").Logger()
	return &JobExecutor{
		records:        records,
		fetcher:        fetcher,
		bufOpts:        bufOpts,
		cacheScanLimit: cacheScanLimit,
		log:            &l,
	}
}

func (e *JobExecutor) Run(ctx context.Context, job model.Job, rep usecase.ProgressReporter) usecase.RunOutcome {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, e.log)
	start := time.Now()
	log.Info().Str("keyword", job.Params.Keyword).Int("limit", job.Params.Limit).Int("priority", job.Priority).Msg("job started")

	exclude, found := e.cacheScan(ctx, job, log)
	rep.Progress(model.Progress{Found: found, Phase: model.PhaseExternalFetch})

	buf := NewBuffer(e.records, e.bufOpts, log)
	buf.Start(ctx)

	stream := e.fetcher.Fetch(ctx, FetchRequest{
		JobID:     job.ID,
		Params:    job.Params,
		Exclude:   exclude,
		FoundSeed: found,
		Stopped:   rep.Stopped,
	})
	appendOK := true
	for ev := range stream.Events() {
		for _, r := range ev.Records {
			if !appendOK {
				break
			}
			if err := buf.Append(ctx, r); err != nil {
				appendOK = false
			}
		}
		rep.Progress(ev.Progress)
	}
	res := stream.Result()
	stats := buf.Close()

	out := usecase.RunOutcome{ResultCount: stats.Persisted, Stopped: res.Stopped, Err: res.Err}
	if out.Err == nil && !appendOK {
		out.Err = ctx.Err()
	}
	log.Info().
		Int("checked", res.Checked).
		Int("found", res.Found).
		Int("persisted", stats.Persisted).
		Int("dropped", stats.Dropped).
		Bool("stopped", res.Stopped).
		Err(out.Err).
		Dur("duration", time.Since(start)).
		Msg("job pipeline drained")
	return out
}

// cacheScan counts stored records already matching the keyword so the fetch
// can skip them. Failure only costs the optimisation.
func (e *JobExecutor) cacheScan(ctx context.Context, job model.Job, log *zerolog.Logger) (map[string]struct{}, int) {
	exclude := map[string]struct{}{}
	if job.Params.Keyword == "" || e.cacheScanLimit <= 0 {
		return exclude, 0
	}
	recs, err := e.records.FindByKeyword(ctx, job.Params.Keyword, e.cacheScanLimit)
	if err != nil {
		log.Warn().Err(err).Msg("cache scan failed; fetching everything")
		return exclude, 0
	}
	match := job.Params.Filter()
	found := 0
	for _, r := range recs {
		exclude[r.Key] = struct{}{}
		if match(r) {
			found++
		}
	}
	log.Debug().Int("cached", len(recs)).Int("found", found).Msg("cache scan done")
	return exclude, found
}
