package postgres

import (
	"context"
	"fmt"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/infra/db/sqlq"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.RecordRepository = (*recordRepo)(nil)

type recordRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewRecordRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *recordRepo {
	return &recordRepo{pool: pool, tm: tm}
}

// Latest observation wins, except that an unmoderated flag is sticky and an
// empty title never overwrites a known one. xmax = 0 identifies fresh rows.
const upsertRecordSQL = `
INSERT INTO records (key, name, title, description, url, subscribers, nsfw, unmoderated, mod_count,
  last_activity_at, source, keyword, job_id, first_seen_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
ON CONFLICT (key) DO UPDATE SET
  name = EXCLUDED.name,
  title = COALESCE(NULLIF(EXCLUDED.title, ''), records.title),
  description = COALESCE(NULLIF(EXCLUDED.description, ''), records.description),
  url = COALESCE(NULLIF(EXCLUDED.url, ''), records.url),
  subscribers = EXCLUDED.subscribers,
  nsfw = EXCLUDED.nsfw,
  unmoderated = records.unmoderated OR EXCLUDED.unmoderated,
  mod_count = COALESCE(EXCLUDED.mod_count, records.mod_count),
  last_activity_at = COALESCE(EXCLUDED.last_activity_at, records.last_activity_at),
  source = EXCLUDED.source,
  keyword = EXCLUDED.keyword,
  job_id = EXCLUDED.job_id,
  updated_at = GREATEST(records.updated_at, EXCLUDED.updated_at)
RETURNING (xmax = 0) AS inserted;`

// Upsert writes the batch in one transaction using a pgx batch. When tx is
// nil a transaction is opened for the call.
func (r *recordRepo) Upsert(ctx context.Context, tx repository.Tx, batch []model.Record) (model.UpsertResult, error) {
	var res model.UpsertResult
	rows := make([]model.Record, 0, len(batch))
	for _, rec := range batch {
		if rec.Normalize() {
			rows = append(rows, rec)
		}
	}
	rows = model.DedupeRecords(rows)
	if len(rows) == 0 {
		return res, nil
	}

	now := time.Now().UTC()
	run := func(ctx context.Context, tx repository.Tx) error {
		ptx, ok := tx.(pgx.Tx)
		if !ok {
			return domain.ErrInvalidExecContext
		}
		b := &pgx.Batch{}
		for _, rec := range rows {
			b.Queue(upsertRecordSQL,
				rec.Key, rec.Name, rec.Title, rec.Description, rec.URL, rec.Subscribers, rec.NSFW,
				rec.Unmoderated, rec.ModCount, rec.LastActivityAt, rec.Source, rec.Keyword, rec.JobID, now)
		}
		br := ptx.SendBatch(ctx, b)
		defer br.Close()
		for range rows {
			var inserted bool
			if err := br.QueryRow().Scan(&inserted); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		return br.Close()
	}

	if tx != nil {
		if err := run(ctx, tx); err != nil {
			return model.UpsertResult{}, err
		}
		return res, nil
	}
	if err := r.tm.WithTx(ctx, pgx.TxOptions{}, run); err != nil {
		return model.UpsertResult{}, err
	}
	return res, nil
}

func (r *recordRepo) Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error) {
	q.Normalize()
	b := sqlq.New(sqlq.Postgres).Keyword(q.Q).Filters(q)
	page := model.RecordPage{Page: q.Page, PageSize: q.PageSize, Rows: []model.Record{}}

	row, err := pickRow(ctx, r.pool, nil, b.Count(), b.Args()...)
	if err != nil {
		return page, err
	}
	if err := row.Scan(&page.Total); err != nil {
		return page, scanErr(err)
	}

	sql, args := b.Page(q)
	recs, err := r.list(ctx, sql, args...)
	if err != nil {
		return page, err
	}
	if recs != nil {
		page.Rows = recs
	}
	return page, nil
}

func (r *recordRepo) FindByKeyword(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
	if keyword == "" || limit <= 0 {
		return nil, nil
	}
	b := sqlq.New(sqlq.Postgres).Keyword(keyword)
	q := model.RecordQuery{Sort: model.SortSubscribers, Desc: true, Page: 1, PageSize: limit}
	sql, args := b.Page(q)
	return r.list(ctx, sql, args...)
}

func (r *recordRepo) Stats(ctx context.Context) (model.StoreStats, error) {
	var st model.StoreStats
	row, err := pickRow(ctx, r.pool, nil, `SELECT count(*), max(updated_at) FROM records`)
	if err != nil {
		return st, err
	}
	if err := row.Scan(&st.TotalRecords, &st.LastUpdated); err != nil {
		return st, scanErr(err)
	}
	return st, nil
}

func (r *recordRepo) list(ctx context.Context, sql string, args ...interface{}) ([]model.Record, error) {
	rows, err := queryRows(ctx, r.pool, nil, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(
			&rec.Key, &rec.Name, &rec.Title, &rec.Description, &rec.URL, &rec.Subscribers,
			&rec.NSFW, &rec.Unmoderated, &rec.ModCount, &rec.LastActivityAt,
			&rec.Source, &rec.Keyword, &rec.JobID, &rec.FirstSeenAt, &rec.UpdatedAt,
		); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
