package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycraft_queries_total",
			Help: "Total number of query executions by backend and outcome.",
		},
		[]string{"backend", "status"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querycraft_query_duration_seconds",
			Help:    "Query execution latency by backend.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)
	graphFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querycraft_graph_http_fallback_total",
			Help: "Total number of graph queries retried over the HTTP transactional endpoint.",
		},
	)
	uploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querycraft_file_uploads_total",
			Help: "Total number of registered file uploads.",
		},
	)
	importedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querycraft_imported_rows_total",
			Help: "Total number of rows loaded into ephemeral import stores.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		graphFallbackTotal,
		uploadsTotal,
		importedRowsTotal,
	)
}

func ObserveQuery(backend, status string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(backend, status).Inc()
	queryDurationSeconds.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func ObserveGraphFallback() {
	graphFallbackTotal.Inc()
}

func ObserveUpload() {
	uploadsTotal.Inc()
}

func ObserveImportedRows(count int) {
	importedRowsTotal.Add(float64(count))
}
