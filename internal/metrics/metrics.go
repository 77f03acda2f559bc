// Package metrics instruments ingestion stages with Prometheus collectors
// registered on a per-service registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meshvault"

// Job outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	Registry *prometheus.Registry

	// stageDuration measures each pipeline stage
	stageDuration *prometheus.HistogramVec

	jobsTotal       *prometheus.CounterVec
	duplicatesTotal *prometheus.CounterVec

	compressionFallbacks prometheus.Counter
	trianglesEmbedded    prometheus.Counter

	compressionRatio prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of ingestion pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"stage"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of ingestion jobs by outcome",
		}, []string{"outcome"}),
		duplicatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Total number of rejected duplicate uploads by match kind",
		}, []string{"kind"}),
		compressionFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_fallbacks_total",
			Help:      "Total number of jobs that fell back to an uncompressed container",
		}),
		trianglesEmbedded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watermark_triangles_total",
			Help:      "Total number of triangles perturbed by the geometry watermark",
		}),
		compressionRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_ratio",
			Help:      "Container size relative to the source STL",
			Buckets:   prometheus.LinearBuckets(0.05, 0.1, 10),
		}),
	}
}

// ObserveStage records the time since start for stage
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) JobFinished(outcome string) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Duplicate(kind string) {
	m.duplicatesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) CompressionFallback() {
	m.compressionFallbacks.Inc()
}

func (m *Metrics) TrianglesEmbedded(n int) {
	m.trianglesEmbedded.Add(float64(n))
}

// CompressionRatio records container bytes over source bytes
func (m *Metrics) CompressionRatio(containerBytes, sourceBytes int) {
	if sourceBytes <= 0 {
		return
	}
	m.compressionRatio.Observe(float64(containerBytes) / float64(sourceBytes))
}

// WriteTextfile dumps the registry for the node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
