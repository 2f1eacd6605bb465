package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsSubmittedTotal,
		jobsFinishedTotal,
		jobDurationSeconds,
		queueDepth,
		jobsRunning,
		jobsReapedTotal,
		retriesScheduledTotal,
	)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_submitted_total",
			Help: "Jobs accepted by the scheduler, labeled by source.",
		},
		[]string{"source"}, // manual, auto_ingest, auto_random, retry
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Jobs that reached a terminal state.",
		},
		[]string{"state"}, // completed, failed, stopped
	)

	jobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall-clock duration of completed jobs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Jobs currently waiting for admission.",
		},
	)

	jobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_jobs_running",
			Help: "Jobs currently holding a concurrency slot.",
		},
	)

	jobsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_reaped_total",
			Help: "Running jobs forced to failed by the reaper.",
		},
	)

	retriesScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Retry decisions taken for failed jobs.",
		},
		[]string{"outcome"}, // scheduled, submitted, exhausted, skipped
	)
)

func IncJobSubmitted(source string) {
	jobsSubmittedTotal.WithLabelValues(norm(source)).Inc()
}

func IncJobFinished(state string) {
	jobsFinishedTotal.WithLabelValues(norm(state)).Inc()
}

func ObserveJobDuration(seconds float64) {
	jobDurationSeconds.Observe(seconds)
}

func SetQueueState(queued, running int) {
	queueDepth.Set(float64(queued))
	jobsRunning.Set(float64(running))
}

func IncJobsReaped(n int) {
	jobsReapedTotal.Add(float64(n))
}

func IncRetry(outcome string) {
	retriesScheduledTotal.WithLabelValues(norm(outcome)).Inc()
}
