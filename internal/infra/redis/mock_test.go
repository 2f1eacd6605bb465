//go:build !integration

package redis

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

// mockRedisClient mocks our Redis client wrapper. Unset funcs behave like an
// empty server.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	IncrFunc  func(ctx context.Context, key string) (int64, error)
	PTTLFunc  func(ctx context.Context, key string) (time.Duration, error)
	DelFunc   func(ctx context.Context, keys ...string) error
}

var _ RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", redis.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return m.SetNXFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	if m.IncrFunc == nil {
		return 1, nil
	}
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) PTTL(ctx context.Context, key string) (time.Duration, error) {
	return m.PTTLFunc(ctx, key)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Close() error { return nil }

type mockInnerRecordRepo struct {
	UpsertFunc        func(ctx context.Context, tx repository.Tx, batch []model.Record) (model.UpsertResult, error)
	QueryFunc         func(ctx context.Context, q model.RecordQuery) (model.RecordPage, error)
	FindByKeywordFunc func(ctx context.Context, keyword string, limit int) ([]model.Record, error)
	StatsFunc         func(ctx context.Context) (model.StoreStats, error)
}

func (m *mockInnerRecordRepo) Upsert(ctx context.Context, tx repository.Tx, batch []model.Record) (model.UpsertResult, error) {
	return m.UpsertFunc(ctx, tx, batch)
}
func (m *mockInnerRecordRepo) Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error) {
	return m.QueryFunc(ctx, q)
}
func (m *mockInnerRecordRepo) FindByKeyword(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
	return m.FindByKeywordFunc(ctx, keyword, limit)
}
func (m *mockInnerRecordRepo) Stats(ctx context.Context) (model.StoreStats, error) {
	return m.StatsFunc(ctx)
}

type countingLimiter struct{ calls int }

func (c *countingLimiter) Acquire(ctx context.Context) error {
	c.calls++
	return nil
}
