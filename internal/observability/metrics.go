package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whetstone"

// Outcome labels shared by the counters below.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics holds the Prometheus collectors for the pipeline. Each instance owns
// its own registry so tests and multiple workers never collide. All Record*
// methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	ExtractionsTotal   *prometheus.CounterVec
	EmbedRequestsTotal *prometheus.CounterVec
	EmbedDuration      *prometheus.HistogramVec
	EmbedCacheTotal    *prometheus.CounterVec
	HunksTotal         *prometheus.CounterVec
	CandidatesTotal    *prometheus.CounterVec
	VectorOpsTotal     *prometheus.CounterVec
	VectorOpDuration   *prometheus.HistogramVec
	IndexedFilesTotal  *prometheus.CounterVec
	IndexedUnitsTotal  prometheus.Counter
	ActiveWorkflows    prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		Registry: r,
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Files passed through code-unit extraction, by language and strategy used.",
		}, []string{"language", "strategy"}),
		EmbedRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_requests_total",
			Help:      "Embedding requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		EmbedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_request_duration_seconds",
			Help:      "Embedding request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		EmbedCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
		HunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_hunks_total",
			Help:      "Hunks considered for similarity retrieval, by outcome.",
		}, []string{"outcome"}),
		CandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates_total",
			Help:      "Index neighbours seen during retrieval, by disposition.",
		}, []string{"disposition"}),
		VectorOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_operations_total",
			Help:      "Vector index operations by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		VectorOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vector_operation_duration_seconds",
			Help:      "Vector index operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		IndexedFilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_files_total",
			Help:      "Files visited by the indexer, by outcome.",
		}, []string{"outcome"}),
		IndexedUnitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_units_total",
			Help:      "Code units written to the vector index.",
		}),
		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workflows",
			Help:      "Workflow activities currently executing in this worker.",
		}),
	}

	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ExtractionsTotal,
		m.EmbedRequestsTotal,
		m.EmbedDuration,
		m.EmbedCacheTotal,
		m.HunksTotal,
		m.CandidatesTotal,
		m.VectorOpsTotal,
		m.VectorOpDuration,
		m.IndexedFilesTotal,
		m.IndexedUnitsTotal,
		m.ActiveWorkflows,
	)
	return m
}

// Handler returns an HTTP handler serving the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordExtraction counts one extracted file.
func (m *Metrics) RecordExtraction(language, strategy string) {
	if m == nil {
		return
	}
	if language == "" {
		language = "unknown"
	}
	m.ExtractionsTotal.WithLabelValues(language, strategy).Inc()
}

// RecordEmbed records one embedding request.
func (m *Metrics) RecordEmbed(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbedRequestsTotal.WithLabelValues(provider, outcome(err)).Inc()
	m.EmbedDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordEmbedCache records an embedding cache lookup.
func (m *Metrics) RecordEmbedCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbedCacheTotal.WithLabelValues(result).Inc()
}

// RecordHunk records how a hunk was handled during retrieval.
func (m *Metrics) RecordHunk(outcome string) {
	if m == nil {
		return
	}
	m.HunksTotal.WithLabelValues(outcome).Inc()
}

// RecordCandidate records the disposition of one index neighbour.
func (m *Metrics) RecordCandidate(disposition string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(disposition).Inc()
}

// RecordVectorOp records one vector index call.
func (m *Metrics) RecordVectorOp(backend, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.VectorOpsTotal.WithLabelValues(backend, op, outcome(err)).Inc()
	m.VectorOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
}

// RecordIndexedFile records one file visited by the indexer and the number of
// units it contributed.
func (m *Metrics) RecordIndexedFile(outcome string, units int) {
	if m == nil {
		return
	}
	m.IndexedFilesTotal.WithLabelValues(outcome).Inc()
	if units > 0 {
		m.IndexedUnitsTotal.Add(float64(units))
	}
}

// TrackWorkflow increments the active gauge and returns a func that
// decrements it.
func (m *Metrics) TrackWorkflow() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveWorkflows.Inc()
	return m.ActiveWorkflows.Dec
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
