package redis

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ adapter.RateLimiter = (*Pacer)(nil)

const defaultPacerKey = "ratelimit:provider"

// Pacer shares one provider budget between processes. A grant is the
// successful SET NX PX of the pacer key; the key's remaining TTL is the time
// left until the next grant. Local callers queue on a single-slot semaphore so
// only one of them polls Redis at a time.
type Pacer struct {
	client   RedisClient
	key      string
	delay    time.Duration
	fallback adapter.RateLimiter
	log      zerolog.Logger
	sem      chan struct{}
}

// NewPacer builds a distributed pacer. fallback serves grants while Redis is
// unreachable.
func NewPacer(client RedisClient, delay time.Duration, fallback adapter.RateLimiter, logger *zerolog.Logger) *Pacer {
	return &Pacer{
		client:   client,
		key:      defaultPacerKey,
		delay:    delay,
		fallback: fallback,
		log:      logger.With().Str("component", "RedisPacer").Logger(),
		sem:      make(chan struct{}, 1),
	}
}

func (p *Pacer) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	token := uuid.NewString()
	for {
		ok, err := p.client.SetNX(ctx, p.key, token, p.delay)
		if err != nil {
			return p.degrade(ctx, err)
		}
		if ok {
			metrics.ObserveLimiterWait("redis", time.Since(start).Milliseconds())
			return nil
		}
		wait, err := p.client.PTTL(ctx, p.key)
		if err != nil {
			return p.degrade(ctx, err)
		}
		if wait <= 0 || wait > p.delay {
			// key without TTL or clock trouble; never sleep longer than one delay
			wait = p.delay
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Pacer) degrade(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.log.Warn().Err(err).Msg("redis unavailable; using local pacer")
	return p.fallback.Acquire(ctx)
}
