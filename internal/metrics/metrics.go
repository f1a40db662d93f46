// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "embedsync"

// Chunk results
const (
	ChunkEmbedded = "embedded"
	ChunkReused   = "reused"
	ChunkFailed   = "failed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	chunks        *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	embedDuration *prometheus.HistogramVec
}

// New registers collectors on reg. A nil reg gets a fresh registry with Go
// runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks processed by result.",
		}, []string{"kind", "result"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Parent sync runs by status.",
		}, []string{"kind", "status"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of one parent sync, pacing included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		embedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_request_duration_seconds",
			Help:      "Latency of embedding API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
	}
	reg.MustRegister(m.chunks, m.syncs, m.syncDuration, m.embedDuration)
	return m
}

// Chunk counts one processed chunk
func (m *Metrics) Chunk(kind, result string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(kind, result).Inc()
}

// Sync records a finished parent sync
func (m *Metrics) Sync(kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(kind, status).Inc()
	m.syncDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// Embed records one embedding call
func (m *Metrics) Embed(intent string, took time.Duration) {
	if m == nil {
		return
	}
	m.embedDuration.WithLabelValues(intent).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
