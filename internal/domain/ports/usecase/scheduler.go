package usecase

import (
	"context"
	"time"

	"subsearch-pipeline/internal/domain/model"
)

// JobScheduler is what outer layers (HTTP API, background submitters) need
// from the priority scheduler.
type JobScheduler interface {
	Submit(ctx context.Context, source model.JobSource, priority int, params model.JobParams) (string, error)
	Cancel(ctx context.Context, id string) bool
	Status(ctx context.Context, id string) (model.JobView, error)
	QueuePosition(id string) (int, bool)
	ListQueue() []model.QueueItem
	Stats() model.QueueStats
	Estimate() time.Duration
	// Idle reports whether nothing is queued or running.
	Idle() bool
	// LastFinishedAt is the completion time of the latest terminal job.
	LastFinishedAt() time.Time
}

// Reaper forces stale running jobs into Failed.
type Reaper interface {
	Reap(ctx context.Context, now time.Time) []string
}

// RecordBrowser exposes store reads to the API.
type RecordBrowser interface {
	Query(ctx context.Context, q model.RecordQuery) (model.RecordPage, error)
	Stats(ctx context.Context) (model.StoreStats, error)
}

// ProgressReporter is handed to a running job's executor.
type ProgressReporter interface {
	Progress(p model.Progress)
	// Stopped reports whether a stop was requested for the job.
	Stopped() bool
}

// RunOutcome is what an executor reports when a job's pipeline has drained.
type RunOutcome struct {
	ResultCount int
	Stopped     bool
	Err         error
}

// JobExecutor runs the fetch-then-persist pipeline of a single job. It must
// return promptly once ctx is cancelled.
type JobExecutor interface {
	Run(ctx context.Context, job model.Job, rep ProgressReporter) RunOutcome
}
