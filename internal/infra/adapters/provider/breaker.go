package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var _ adapter.Provider = (*breakerProvider)(nil)

type BreakerOptions struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// breakerProvider trips after a burst of transient failures and then rejects
// pages fast until the provider recovers. Fatal errors do not count against
// the breaker: they describe the request, not the provider's health.
type breakerProvider struct {
	inner adapter.Provider
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerProvider(inner adapter.Provider, opts BreakerOptions, logger *zerolog.Logger) adapter.Provider {
	log := logger.With().Str("component", "ProviderBreaker").Logger()
	name := "provider_" + inner.Name()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransientProvider(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &breakerProvider{inner: inner, cb: cb}
}

func (b *breakerProvider) Name() string { return b.inner.Name() }

func (b *breakerProvider) FetchPage(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FetchPage(ctx, q)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return adapter.Page{}, domain.Transient(0, fmt.Errorf("provider unavailable: %w", err))
		}
		return adapter.Page{}, err
	}
	return res.(adapter.Page), nil
}
