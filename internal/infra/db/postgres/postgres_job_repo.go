package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.JobRepository = (*jobRepo)(nil)

// jobRepo stores job history in the query_runs table.
type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, source, priority, state, params, checked, found, phase, result_count, error,
retryable, attempt, retried_from, submitted_at, started_at, completed_at, last_progress_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return err
	}
	var durationMS *int64
	if d, ok := job.Duration(); ok {
		ms := d.Milliseconds()
		durationMS = &ms
	}

	const q = `
INSERT INTO query_runs (id, source, priority, state, params, checked, found, phase, result_count, error,
  retryable, attempt, retried_from, submitted_at, started_at, completed_at, last_progress_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  checked = EXCLUDED.checked,
  found = EXCLUDED.found,
  phase = EXCLUDED.phase,
  result_count = EXCLUDED.result_count,
  error = EXCLUDED.error,
  retryable = EXCLUDED.retryable,
  started_at = EXCLUDED.started_at,
  completed_at = EXCLUDED.completed_at,
  last_progress_at = EXCLUDED.last_progress_at,
  duration_ms = EXCLUDED.duration_ms;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.Source, job.Priority, job.State, params, job.Progress.Checked, job.Progress.Found,
		job.Progress.Phase, job.ResultCount, job.Error, job.Retryable, job.Attempt, job.RetriedFrom,
		job.SubmittedAt, job.StartedAt, job.CompletedAt, job.LastProgressAt, durationMS)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+jobColumns+` FROM query_runs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM query_runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, nil,
		`SELECT `+jobColumns+` FROM query_runs WHERE state = $1 ORDER BY submitted_at, id`, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobRepo) RecentDurations(ctx context.Context, limit int) ([]time.Duration, error) {
	rows, err := queryRows(ctx, r.pool, nil, `
SELECT duration_ms FROM query_runs
WHERE state = 'completed' AND duration_ms IS NOT NULL
ORDER BY completed_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Duration
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out, rows.Err()
}

func (r *jobRepo) LastFinishedAt(ctx context.Context) (*time.Time, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT max(completed_at) FROM query_runs`)
	if err != nil {
		return nil, err
	}
	var t *time.Time
	if err := row.Scan(&t); err != nil {
		return nil, scanErr(err)
	}
	return t, nil
}

func (r *jobRepo) ListRetryCandidates(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, nil, `
SELECT `+jobColumns+` FROM query_runs f
WHERE f.state = 'failed' AND f.retryable AND f.attempt < $1 AND f.completed_at >= $2
  AND NOT EXISTS (SELECT 1 FROM query_runs c WHERE c.retried_from = f.id)
ORDER BY f.completed_at, f.id`, maxAttempts, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j      model.Job
		params []byte
	)
	err := row.Scan(
		&j.ID, &j.Source, &j.Priority, &j.State, &params, &j.Progress.Checked, &j.Progress.Found,
		&j.Progress.Phase, &j.ResultCount, &j.Error, &j.Retryable, &j.Attempt, &j.RetriedFrom,
		&j.SubmittedAt, &j.StartedAt, &j.CompletedAt, &j.LastProgressAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	if err := json.Unmarshal(params, &j.Params); err != nil {
		return nil, errors.Join(domain.ErrReadDatabaseRow, err)
	}
	return &j, nil
}
