// Package metrics defines the Prometheus collectors exported by the
// counselor. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "counselor"

// Ask outcomes.
const (
	OutcomeAnswered    = "answered"
	OutcomeBusy        = "busy"
	OutcomeUnavailable = "backend_unavailable"
	OutcomeFailed      = "generation_failed"
)

// Ingestion record statuses.
const (
	RecordIngested  = "ingested"
	RecordMalformed = "malformed"
)

type Metrics struct {
	asks        *prometheus.CounterVec
	askDuration prometheus.Histogram
	records     *prometheus.CounterVec
	chunks      prometheus.Counter
	generations *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		asks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Questions handled by the responder, by outcome.",
		}, []string{"outcome"}),
		askDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Time spent answering a question, retrieval included.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_records_total",
			Help:      "Job posting rows read during ingestion, by status.",
		}, []string{"status"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_chunks_total",
			Help:      "Chunks handed to the index backend.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "One-shot generations (polish, dbt tests), by tool and result.",
		}, []string{"tool", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.asks, m.askDuration, m.records, m.chunks, m.generations)
	}
	return m
}

func (m *Metrics) ObserveAsk(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.asks.WithLabelValues(outcome).Inc()
	if outcome != OutcomeBusy {
		m.askDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) AddRecords(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunks.Add(float64(n))
}

func (m *Metrics) ObserveGeneration(tool string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.generations.WithLabelValues(tool, result).Inc()
}
