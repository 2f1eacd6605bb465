package worker

import (
	"context"
	"sync"
	"time"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/infra/logging"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

type BufferOptions struct {
	BatchSize     int
	Capacity      int
	FlushInterval time.Duration
	// WriteTimeout bounds a single upsert call.
	WriteTimeout time.Duration
}

type BufferStats struct {
	Persisted int
	Dropped   int
	Flushes   int
}

// Buffer batches records for one job and flushes them from a dedicated
// goroutine. Append blocks only while the bounded channel is full.
type Buffer struct {
	repo repository.RecordRepository
	opts BufferOptions
	log  zerolog.Logger

	in        chan model.Record
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	stats BufferStats
}

func NewBuffer(repo repository.RecordRepository, opts BufferOptions, logger *zerolog.Logger) *Buffer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Capacity < opts.BatchSize {
		opts.Capacity = opts.BatchSize * 4
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &Buffer{
		repo: repo,
		opts: opts,
		log:  logger.With().Str("component", "PersistenceBuffer").Logger(),
		in:   make(chan model.Record, opts.Capacity),
		done: make(chan struct{}),
	}
}

// Start launches the consumer. Writes are detached from ctx cancellation so
// a stopped or reaped job still keeps what it already discovered.
func (b *Buffer) Start(ctx context.Context) {
	go b.consume(context.WithoutCancel(ctx))
}

func (b *Buffer) Append(ctx context.Context, r model.Record) error {
	select {
	case b.in <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes what is left and waits for the consumer to exit.
func (b *Buffer) Close() BufferStats {
	b.closeOnce.Do(func() { close(b.in) })
	<-b.done
	return b.Stats()
}

func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Buffer) consume(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Record, 0, b.opts.BatchSize)
	for {
		select {
		case r, ok := <-b.in:
			if !ok {
				if len(batch) > 0 {
					b.flush(ctx, batch)
				}
				return
			}
			batch = append(batch, r)
			if len(batch) >= b.opts.BatchSize {
				b.flush(ctx, batch)
				batch = make([]model.Record, 0, b.opts.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]model.Record, 0, b.opts.BatchSize)
			}
		}
	}
}

// flush writes one batch, retrying once before dropping it.
func (b *Buffer) flush(ctx context.Context, batch []model.Record) {
	start := time.Now()
	batch = model.DedupeRecords(batch)
	var (
		res model.UpsertResult
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		res, err = b.write(ctx, batch)
		if err == nil {
			break
		}
		b.log.Warn().Err(err).Int("attempt", attempt+1).Int("batch", len(batch)).Msg("batch upsert failed")
	}

	b.mu.Lock()
	b.stats.Flushes++
	if err != nil {
		b.stats.Dropped += len(batch)
	} else {
		b.stats.Persisted += res.Total()
	}
	b.mu.Unlock()

	if err != nil {
		metrics.AddRecordsDropped(len(batch))
		b.log.Error().Err(err).Int("dropped", len(batch)).Msg("dropping batch after retry")
		return
	}
	metrics.AddRecordsFlushed(res.Total())
	metrics.AddUpsertRows(res.Inserted, res.Updated)
	metrics.ObserveFlushDuration(time.Since(start).Milliseconds())
}

func (b *Buffer) write(ctx context.Context, batch []model.Record) (model.UpsertResult, error) {
	defer logging.TraceDuration(&b.log, "RecordRepo.Upsert")()
	ctx, cancel := context.WithTimeout(ctx, b.opts.WriteTimeout)
	defer cancel()
	return b.repo.Upsert(ctx, repository.NoTX, batch)
}
