package repository

import (
	"context"

	"subsearch-pipeline/internal/domain/model"
)

// RecordRepository is the deduplicating store of discovered records.
//
// Upsert merges by natural key: absent keys are inserted with first_seen_at =
// now, present keys have mutable fields overwritten and updated_at advanced.
// Implementations must be safe under concurrent calls.
type RecordRepository interface {
	Upsert(ctx context.Context, tx Tx, batch []model.Record) (model.UpsertResult, error)
	Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error)
	// FindByKeyword returns stored records whose name contains keyword,
	// most popular first.
	FindByKeyword(ctx context.Context, keyword string, limit int) ([]model.Record, error)
	Stats(ctx context.Context) (model.StoreStats, error)
}
