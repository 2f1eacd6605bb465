package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ repository.RecordRepository = (*recordRepoCacheDecorator)(nil)

const recordsVersionKey = "records:version"

// recordRepoCacheDecorator caches browse reads. Every successful upsert bumps
// a version counter that is part of each cache key, so stale pages are never
// served after a write and simply expire.
type recordRepoCacheDecorator struct {
	inner repository.RecordRepository
	cache RedisClient
	ttl   time.Duration
	log   zerolog.Logger
}

func NewRecordRepoCacheDecorator(inner repository.RecordRepository, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.RecordRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &recordRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "RecordCache").Logger(),
	}
}

func (d *recordRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, batch []model.Record) (model.UpsertResult, error) {
	res, err := d.inner.Upsert(ctx, tx, batch)
	if err != nil {
		return res, err
	}
	if _, ierr := d.cache.Incr(ctx, recordsVersionKey); ierr != nil {
		d.log.Warn().Err(ierr).Msg("failed to bump records cache version")
	}
	return res, nil
}

func (d *recordRepoCacheDecorator) Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error) {
	q.Normalize()
	key, ok := d.key(ctx, "q", q)
	if ok {
		if val, err := d.cache.Get(ctx, key); err == nil {
			var page model.RecordPage
			if json.Unmarshal([]byte(val), &page) == nil {
				metrics.IncCacheRequest("records_query", "hit")
				return page, nil
			}
		} else if !IsNil(err) {
			d.log.Debug().Err(err).Msg("cache read failed")
		}
	}

	metrics.IncCacheRequest("records_query", "miss")
	page, err := d.inner.Query(ctx, q)
	if err != nil {
		return page, err
	}
	if ok {
		if b, err := json.Marshal(page); err == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
	}
	return page, nil
}

func (d *recordRepoCacheDecorator) Stats(ctx context.Context) (model.StoreStats, error) {
	key, ok := d.key(ctx, "stats", nil)
	if ok {
		if val, err := d.cache.Get(ctx, key); err == nil {
			var st model.StoreStats
			if json.Unmarshal([]byte(val), &st) == nil {
				metrics.IncCacheRequest("records_stats", "hit")
				return st, nil
			}
		}
	}
	metrics.IncCacheRequest("records_stats", "miss")
	st, err := d.inner.Stats(ctx)
	if err != nil {
		return st, err
	}
	if ok {
		if b, err := json.Marshal(st); err == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
	}
	return st, nil
}

// FindByKeyword feeds the cache scan of a running job and must see fresh data.
func (d *recordRepoCacheDecorator) FindByKeyword(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
	return d.inner.FindByKeyword(ctx, keyword, limit)
}

func (d *recordRepoCacheDecorator) key(ctx context.Context, kind string, v any) (string, bool) {
	ver, err := d.cache.Get(ctx, recordsVersionKey)
	if err != nil {
		if !IsNil(err) {
			return "", false
		}
		ver = "0"
	}
	if v == nil {
		return fmt.Sprintf("records:%s:%s", kind, ver), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("records:%s:%s:%x", kind, ver, h.Sum64()), true
}
