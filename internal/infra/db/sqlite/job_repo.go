package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

// JobRepo stores job history in the query_runs table.
type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `id, source, priority, state, params, checked, found, phase, result_count, error,
retryable, attempt, retried_from, submitted_at, started_at, completed_at, last_progress_at`

func (r *JobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  state = excluded.state,
  checked = excluded.checked,
  found = excluded.found,
  phase = excluded.phase,
  result_count = excluded.result_count,
  error = excluded.error,
  retryable = excluded.retryable,
  started_at = excluded.started_at,
  completed_at = excluded.completed_at,
  last_progress_at = excluded.last_progress_at,
  duration_ms = excluded.duration_ms`

	_, err = ex.ExecContext(ctx, q,
		job.ID, job.Source, job.Priority, job.State, string(params), job.Progress.Checked, job.Progress.Found,
		job.Progress.Phase, job.ResultCount, job.Error, job.Retryable, job.Attempt, job.RetriedFrom,
		job.SubmittedAt.UTC(), utcPtr(job.StartedAt), utcPtr(job.CompletedAt), utcPtr(job.LastProgressAt), durationMS)
	return err
}

func (r *JobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM query_runs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *JobRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `DELETE FROM query_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepo) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM query_runs WHERE state = ? ORDER BY submitted_at, id`, state)
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

func (r *JobRepo) RecentDurations(ctx context.Context, limit int) ([]time.Duration, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT duration_ms FROM query_runs
WHERE state = 'completed' AND duration_ms IS NOT NULL
ORDER BY completed_at DESC
LIMIT ?`, limit)
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

func (r *JobRepo) LastFinishedAt(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT completed_at FROM query_runs WHERE completed_at IS NOT NULL ORDER BY completed_at DESC LIMIT 1`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &t, nil
}

func (r *JobRepo) ListRetryCandidates(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+` FROM query_runs f
WHERE f.state = 'failed' AND f.retryable = 1 AND f.attempt < ? AND f.completed_at >= ?
  AND NOT EXISTS (SELECT 1 FROM query_runs c WHERE c.retried_from = f.id)
ORDER BY f.completed_at, f.id`, maxAttempts, since.UTC())
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
		params string
	)
	err := row.Scan(
		&j.ID, &j.Source, &j.Priority, &j.State, &params, &j.Progress.Checked, &j.Progress.Found,
		&j.Progress.Phase, &j.ResultCount, &j.Error, &j.Retryable, &j.Attempt, &j.RetriedFrom,
		&j.SubmittedAt, &j.StartedAt, &j.CompletedAt, &j.LastProgressAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(domain.ErrReadDatabaseRow, err)
	}
	if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
		return nil, errors.Join(domain.ErrReadDatabaseRow, err)
	}
	return &j, nil
}
