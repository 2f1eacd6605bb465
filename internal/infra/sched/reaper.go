package sched

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain/ports/usecase"

	"github.com/rs/zerolog"
)

// ReaperWorker periodically fails running jobs that outlived the job timeout.
type ReaperWorker struct {
	interval time.Duration
	reaper   usecase.Reaper
	now      func() time.Time
	log      *zerolog.Logger
}

func NewReaperWorker(interval time.Duration, reaper usecase.Reaper, logger *zerolog.Logger) *ReaperWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	compLog := logger.With().Str("component", "ReaperWorker").Logger()
	return &ReaperWorker{
		interval: interval,
		reaper:   reaper,
		now:      time.Now,
		log:      &compLog,
	}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting reaper worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reaper worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReaperWorker) sweep(ctx context.Context) []string {
	ids := w.reaper.Reap(ctx, w.now())
	if len(ids) > 0 {
		w.log.Info().Int("count", len(ids)).Msg("timed out jobs reaped")
	}
	return ids
}
