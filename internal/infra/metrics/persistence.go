package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		recordsFlushedTotal,
		recordsDroppedTotal,
		upsertRowsTotal,
		flushDurationMs,
	)
}

var (
	recordsFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_records_flushed_total",
			Help: "Records written to the store by persistence buffers.",
		},
	)

	recordsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_records_dropped_total",
			Help: "Records dropped after a failed batch retry.",
		},
	)

	upsertRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_upsert_rows_total",
			Help: "Rows touched by record upserts.",
		},
		[]string{"result"}, // inserted, updated
	)

	flushDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buffer_flush_duration_ms",
			Help:    "Duration of a single batch flush in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)
)

func AddRecordsFlushed(n int) {
	recordsFlushedTotal.Add(float64(n))
}

func AddRecordsDropped(n int) {
	recordsDroppedTotal.Add(float64(n))
}

func AddUpsertRows(inserted, updated int) {
	upsertRowsTotal.WithLabelValues("inserted").Add(float64(inserted))
	upsertRowsTotal.WithLabelValues("updated").Add(float64(updated))
}

func ObserveFlushDuration(ms int64) {
	flushDurationMs.Observe(float64(ms))
}
