package model

import "time"

// JobView is the immutable status snapshot handed to callers.
type JobView struct {
	ID            string     `json:"job_id"`
	Source        JobSource  `json:"source"`
	Priority      int        `json:"priority"`
	State         JobState   `json:"state"`
	Params        JobParams  `json:"params"`
	Progress      Progress   `json:"progress"`
	ResultCount   int        `json:"result_count"`
	Error         string     `json:"error,omitempty"`
	Attempt       int        `json:"attempt"`
	RetriedFrom   string     `json:"retried_from,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	ETASeconds    *int64     `json:"eta_seconds,omitempty"`
	Done          bool       `json:"done"`
}

func (j *Job) View() JobView {
	s := j.Snapshot()
	return JobView{
		ID:          s.ID,
		Source:      s.Source,
		Priority:    s.Priority,
		State:       s.State,
		Params:      s.Params,
		Progress:    s.Progress,
		ResultCount: s.ResultCount,
		Error:       s.Error,
		Attempt:     s.Attempt,
		RetriedFrom: s.RetriedFrom,
		SubmittedAt: s.SubmittedAt,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		Done:        s.State.Terminal(),
	}
}

// QueueItem is one row of the queue listing.
type QueueItem struct {
	JobID           string    `json:"job_id"`
	Keyword         string    `json:"keyword"`
	Limit           int       `json:"limit"`
	Source          JobSource `json:"source"`
	Priority        int       `json:"priority"`
	Position        int       `json:"position"`
	ETAStartSeconds int64     `json:"eta_start_seconds"`
	ETADoneSeconds  int64     `json:"eta_completion_seconds"`
	Interactive     bool      `json:"is_manual"`
}

// QueueStats mirrors the counters kept by the scheduler.
type QueueStats struct {
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalAdmitted  int64 `json:"total_dequeued"`
	TotalCompleted int64 `json:"total_completed"`
	TotalFailed    int64 `json:"total_failed"`
	TotalStopped   int64 `json:"total_stopped"`
	QueueSize      int   `json:"current_queue_size"`
	Running        int   `json:"current_running"`
}
