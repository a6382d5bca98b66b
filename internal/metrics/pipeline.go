package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector store and pipeline metrics.
var (
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Vector store operation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "operation", "status"},
	)

	StoreSkippedVectorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_skipped_vectors_total",
			Help:      "Vectors dropped because the store was unavailable",
		},
		[]string{"backend"},
	)

	IngestChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Chunks processed by ingestion",
		},
		[]string{"status"}, // "stored" / "skipped" / "failed"
	)

	RetrievalResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_results_total",
			Help:      "Results returned by retrieval",
		},
		[]string{"matched_via"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers store, ingest and retrieval metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(StoreOperationDuration)
	prometheus.MustRegister(StoreSkippedVectorsTotal)
	prometheus.MustRegister(IngestChunksTotal)
	prometheus.MustRegister(RetrievalResultsTotal)
	pipelineMetricsRegistered = true
}
