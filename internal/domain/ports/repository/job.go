package repository

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain/model"
)

// JobRepository keeps the run history of jobs. Writes from the scheduler are
// best-effort; the in-memory scheduler state stays authoritative.
type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, id string) (*model.Job, error)
	// Delete forgets a job, used when a queued job is cancelled.
	Delete(ctx context.Context, tx Tx, id string) error
	// ListByState returns jobs in the given state ordered by submitted_at.
	ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error)
	// RecentDurations returns run durations of the latest completed jobs, newest first.
	RecentDurations(ctx context.Context, limit int) ([]time.Duration, error)
	// LastFinishedAt returns the completion time of the most recent terminal job.
	LastFinishedAt(ctx context.Context) (*time.Time, error)
	// ListRetryCandidates returns retryable failed jobs completed at or after
	// since with attempt below maxAttempts and no job retried from them yet,
	// oldest completion first.
	ListRetryCandidates(ctx context.Context, maxAttempts int, since time.Time) ([]*model.Job, error)
}
