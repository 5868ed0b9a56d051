package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	ingestChunksTotal   *prometheus.CounterVec
	ingestDuration      *prometheus.HistogramVec
	searchDuration      *prometheus.HistogramVec
	searchFailuresTotal *prometheus.CounterVec
	indexInconsistency  *prometheus.CounterVec
	memoryChunks        *prometheus.GaugeVec

	embeddingRequestsTotal *prometheus.CounterVec
	embeddingCacheHits     prometheus.Counter
	embeddingCacheMisses   prometheus.Counter

	workflowNodeDuration *prometheus.HistogramVec
	workflowRunsTotal    *prometheus.CounterVec
	modelCallsTotal      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			ingestChunksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_ingest_chunks_total",
					Help: "Total chunks ingested by collection kind.",
				},
				[]string{"collection"},
			),
			ingestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memory_ingest_duration_seconds",
					Help:    "Ingest duration in seconds by collection kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"collection"},
			),
			searchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Collection search duration in seconds by collection kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"collection"},
			),
			searchFailuresTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_search_failures_total",
					Help: "Total failed collection searches by collection kind.",
				},
				[]string{"collection"},
			),
			indexInconsistency: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_index_inconsistency_total",
					Help: "Index hits that did not resolve to a stored chunk.",
				},
				[]string{"collection"},
			),
			memoryChunks: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "memory_chunks",
					Help: "Chunks held in memory by collection kind.",
				},
				[]string{"collection"},
			),
			embeddingRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_requests_total",
					Help: "Total embedding provider calls by status.",
				},
				[]string{"status"},
			),
			embeddingCacheHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "embedding_cache_hits_total",
					Help: "Embedding cache hits.",
				},
			),
			embeddingCacheMisses: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "embedding_cache_misses_total",
					Help: "Embedding cache misses.",
				},
			),
			workflowNodeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "workflow_node_duration_seconds",
					Help:    "Workflow node duration in seconds by node.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"node"},
			),
			workflowRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workflow_runs_total",
					Help: "Total workflow runs by status.",
				},
				[]string{"status"},
			),
			modelCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_calls_total",
					Help: "Total generation model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
		}

		prometheus.MustRegister(
			m.ingestChunksTotal,
			m.ingestDuration,
			m.searchDuration,
			m.searchFailuresTotal,
			m.indexInconsistency,
			m.memoryChunks,
			m.embeddingRequestsTotal,
			m.embeddingCacheHits,
			m.embeddingCacheMisses,
			m.workflowNodeDuration,
			m.workflowRunsTotal,
			m.modelCallsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordIngest(collection string, chunks int, duration time.Duration) {
	m := getMetrics()
	m.ingestChunksTotal.WithLabelValues(collection).Add(float64(chunks))
	m.ingestDuration.WithLabelValues(collection).Observe(duration.Seconds())
	m.memoryChunks.WithLabelValues(collection).Add(float64(chunks))
}

func RecordCollectionDropped(collection string, chunks int) {
	m := getMetrics()
	m.memoryChunks.WithLabelValues(collection).Sub(float64(chunks))
}

func RecordSearch(collection string, duration time.Duration, success bool) {
	m := getMetrics()
	m.searchDuration.WithLabelValues(collection).Observe(duration.Seconds())
	if !success {
		m.searchFailuresTotal.WithLabelValues(collection).Inc()
	}
}

func RecordIndexInconsistency(collection string) {
	getMetrics().indexInconsistency.WithLabelValues(collection).Inc()
}

func RecordEmbeddingRequest(success bool) {
	getMetrics().embeddingRequestsTotal.WithLabelValues(status(success)).Inc()
}

func RecordEmbeddingCache(hits, misses int) {
	m := getMetrics()
	m.embeddingCacheHits.Add(float64(hits))
	m.embeddingCacheMisses.Add(float64(misses))
}

func RecordWorkflowNode(node string, duration time.Duration) {
	getMetrics().workflowNodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

func RecordWorkflowRun(success bool) {
	getMetrics().workflowRunsTotal.WithLabelValues(status(success)).Inc()
}

func RecordModelCall(provider string, success bool) {
	getMetrics().modelCallsTotal.WithLabelValues(provider, status(success)).Inc()
}
