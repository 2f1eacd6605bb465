package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	"subsearch-pipeline/internal/infra/db/sqlq"

	"github.com/jackc/pgx/v4"
)

var _ repository.RecordRepository = (*RecordRepo)(nil)

type RecordRepo struct {
	db *sql.DB
	tm *TxManager
}

func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{db: db, tm: NewTxManager(db)}
}

const upsertRecordSQL = `
INSERT INTO records (key, name, title, description, url, subscribers, nsfw, unmoderated, mod_count,
  last_activity_at, source, keyword, job_id, first_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
  name = excluded.name,
  title = COALESCE(NULLIF(excluded.title, ''), records.title),
  description = COALESCE(NULLIF(excluded.description, ''), records.description),
  url = COALESCE(NULLIF(excluded.url, ''), records.url),
  subscribers = excluded.subscribers,
  nsfw = excluded.nsfw,
  unmoderated = (records.unmoderated OR excluded.unmoderated),
  mod_count = COALESCE(excluded.mod_count, records.mod_count),
  last_activity_at = COALESCE(excluded.last_activity_at, records.last_activity_at),
  source = excluded.source,
  keyword = excluded.keyword,
  job_id = excluded.job_id,
  updated_at = max(records.updated_at, excluded.updated_at)`

func (r *RecordRepo) Upsert(ctx context.Context, tx repository.Tx, batch []model.Record) (model.UpsertResult, error) {
	rows := make([]model.Record, 0, len(batch))
	for _, rec := range batch {
		if rec.Normalize() {
			rows = append(rows, rec)
		}
	}
	rows = model.DedupeRecords(rows)
	if len(rows) == 0 {
		return model.UpsertResult{}, nil
	}

	var res model.UpsertResult
	now := time.Now().UTC()
	run := func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.db, tx)
		if err != nil {
			return err
		}
		for _, rec := range rows {
			var one int
			err := ex.QueryRowContext(ctx, `SELECT 1 FROM records WHERE key = ?`, rec.Key).Scan(&one)
			exists := err == nil
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
			}
			if _, err := ex.ExecContext(ctx, upsertRecordSQL,
				rec.Key, rec.Name, rec.Title, rec.Description, rec.URL, rec.Subscribers, rec.NSFW,
				rec.Unmoderated, rec.ModCount, utcPtr(rec.LastActivityAt), rec.Source, rec.Keyword, rec.JobID, now, now,
			); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
			}
			if exists {
				res.Updated++
			} else {
				res.Inserted++
			}
		}
		return nil
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

func (r *RecordRepo) Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error) {
	q.Normalize()
	b := sqlq.New(sqlq.SQLite).Keyword(q.Q).Filters(q)
	page := model.RecordPage{Page: q.Page, PageSize: q.PageSize, Rows: []model.Record{}}

	if err := r.db.QueryRowContext(ctx, b.Count(), b.Args()...).Scan(&page.Total); err != nil {
		return page, domain.ErrReadDatabaseRow
	}
	query, args := b.Page(q)
	recs, err := r.list(ctx, query, args...)
	if err != nil {
		return page, err
	}
	if recs != nil {
		page.Rows = recs
	}
	return page, nil
}

func (r *RecordRepo) FindByKeyword(ctx context.Context, keyword string, limit int) ([]model.Record, error) {
	if keyword == "" || limit <= 0 {
		return nil, nil
	}
	q := model.RecordQuery{Sort: model.SortSubscribers, Desc: true, Page: 1, PageSize: limit}
	query, args := sqlq.New(sqlq.SQLite).Keyword(keyword).Page(q)
	return r.list(ctx, query, args...)
}

func (r *RecordRepo) Stats(ctx context.Context) (model.StoreStats, error) {
	var st model.StoreStats
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&st.TotalRecords); err != nil {
		return st, domain.ErrReadDatabaseRow
	}
	var last time.Time
	err := r.db.QueryRowContext(ctx, `SELECT updated_at FROM records ORDER BY updated_at DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return st, domain.ErrReadDatabaseRow
	default:
		st.LastUpdated = &last
	}
	return st, nil
}

func (r *RecordRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
			return nil, errors.Join(domain.ErrReadDatabaseRow, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
