package model

import (
	"fmt"
	"strings"
	"time"

	"subsearch-pipeline/internal/domain"

	"github.com/oklog/ulid/v2"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateStopped   JobState = "stopped"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateStopped
}

type JobPhase string

const (
	PhaseQueued        JobPhase = "queued"
	PhaseCacheScan     JobPhase = "cache_scan"
	PhaseExternalFetch JobPhase = "external_fetch"
	PhaseDone          JobPhase = "done"
)

type JobSource string

const (
	SourceManual     JobSource = "manual"
	SourceAutoIngest JobSource = "auto_ingest"
	SourceAutoRandom JobSource = "auto_random"
	SourceRetry      JobSource = "retry"
)

// Priority tiers. Lower value is admitted first.
const (
	PriorityInteractive = 0
	PriorityRetry       = 5
	PriorityBackground  = 9
)

type Progress struct {
	Checked int      `json:"checked"`
	Found   int      `json:"found"`
	Phase   JobPhase `json:"phase"`
}

// Job is one unit of discovery work. The scheduler owns every Job instance;
// callers only ever see copies (see Snapshot).
type Job struct {
	ID          string
	Source      JobSource
	Priority    int
	Params      JobParams
	State       JobState
	Progress    Progress
	ResultCount int
	Error       string
	Retryable   bool
	Attempt     int
	RetriedFrom string

	SubmittedAt    time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastProgressAt *time.Time
}

// NewJob validates params and returns a Queued job with a fresh id.
func NewJob(source JobSource, priority int, params JobParams, now time.Time) (*Job, error) {
	if priority < 0 {
		return nil, fmt.Errorf("%w: priority must be >= 0", domain.ErrInvalidArgument)
	}
	if source == "" {
		source = SourceManual
	}
	params.Keyword = strings.TrimSpace(params.Keyword)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Job{
		ID:          ulid.Make().String(),
		Source:      source,
		Priority:    priority,
		Params:      params,
		State:       JobStateQueued,
		Progress:    Progress{Phase: PhaseQueued},
		SubmittedAt: now,
	}, nil
}

// NewRetryJob derives the next attempt of a failed job. The original job is
// left untouched.
func NewRetryJob(failed *Job, now time.Time) (*Job, error) {
	if failed == nil || failed.State != JobStateFailed {
		return nil, domain.ErrInvalidArgument
	}
	j, err := NewJob(SourceRetry, PriorityRetry, failed.Params, now)
	if err != nil {
		return nil, err
	}
	j.Attempt = failed.Attempt + 1
	j.RetriedFrom = failed.ID
	return j, nil
}

func (j *Job) transition(to JobState) error {
	ok := false
	switch j.State {
	case JobStateQueued:
		ok = to == JobStateRunning || to == JobStateStopped
	case JobStateRunning:
		ok = to == JobStateCompleted || to == JobStateFailed || to == JobStateStopped
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.State, to)
	}
	j.State = to
	return nil
}

// clamp keeps completed_at >= started_at >= submitted_at under clock skew.
func clamp(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}

func (j *Job) Start(now time.Time) error {
	if err := j.transition(JobStateRunning); err != nil {
		return err
	}
	now = clamp(now, j.SubmittedAt)
	j.StartedAt = &now
	j.LastProgressAt = &now
	j.Progress.Phase = PhaseCacheScan
	return nil
}

func (j *Job) finish(to JobState, now time.Time) error {
	if err := j.transition(to); err != nil {
		return err
	}
	floor := j.SubmittedAt
	if j.StartedAt != nil {
		floor = *j.StartedAt
	}
	now = clamp(now, floor)
	j.CompletedAt = &now
	j.Progress.Phase = PhaseDone
	return nil
}

func (j *Job) Complete(now time.Time, resultCount int) error {
	if err := j.finish(JobStateCompleted, now); err != nil {
		return err
	}
	j.ResultCount = resultCount
	j.Error = ""
	return nil
}

// Fail records cause on the job. resultCount keeps whatever was persisted
// before the failure.
func (j *Job) Fail(now time.Time, cause error, resultCount int) error {
	if err := j.finish(JobStateFailed, now); err != nil {
		return err
	}
	j.ResultCount = resultCount
	if cause == nil {
		cause = domain.ErrOperationFailed
	}
	j.Error = cause.Error()
	j.Retryable = domain.IsRetryable(cause)
	return nil
}

func (j *Job) Stop(now time.Time, resultCount int) error {
	wasQueued := j.State == JobStateQueued
	if err := j.finish(JobStateStopped, now); err != nil {
		return err
	}
	if !wasQueued {
		j.ResultCount = resultCount
	}
	j.Error = domain.ErrJobStopped.Error()
	return nil
}

// UpdateProgress applies a snapshot from the fetch pipeline. Snapshots for a
// job that is no longer running are ignored.
func (j *Job) UpdateProgress(p Progress, now time.Time) bool {
	if j.State != JobStateRunning {
		return false
	}
	if p.Phase == "" {
		p.Phase = j.Progress.Phase
	}
	j.Progress = p
	j.LastProgressAt = &now
	return true
}

// Duration returns completed_at - started_at for finished jobs that ran.
func (j *Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

// Snapshot returns a deep copy that is safe to hand out of the owning lock.
func (j *Job) Snapshot() Job {
	c := *j
	c.StartedAt = copyTime(j.StartedAt)
	c.CompletedAt = copyTime(j.CompletedAt)
	c.LastProgressAt = copyTime(j.LastProgressAt)
	c.Params.ActivityThreshold = copyTime(j.Params.ActivityThreshold)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
