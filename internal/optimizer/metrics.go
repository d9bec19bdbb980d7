package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes optimizer activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Artifacts       *prometheus.CounterVec
	ArtifactSeconds *prometheus.HistogramVec
	ArtifactBytes   *prometheus.CounterVec
	SkippedDirs     prometheus.Counter
	Sources         prometheus.Counter
	Runs            prometheus.Counter
}

// NewMetrics registers the optimizer collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Artifacts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagepipe_artifacts_total",
				Help: "Artifacts processed, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		ArtifactSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imagepipe_artifact_duration_seconds",
				Help:    "Time spent producing one artifact.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		ArtifactBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagepipe_artifact_bytes_total",
				Help: "Bytes written, by kind.",
			},
			[]string{"kind"},
		),
		SkippedDirs: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagepipe_skipped_directories_total",
			Help: "Configured directories skipped because they were missing or unreadable.",
		}),
		Sources: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagepipe_sources_total",
			Help: "Source images discovered.",
		}),
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagepipe_runs_total",
			Help: "Optimizer runs started.",
		}),
	}
}

func (m *Metrics) observeArtifact(res ArtifactResult) {
	if m == nil {
		return
	}
	kind := string(res.Artifact.Kind)
	status := "success"
	if res.Err != nil {
		status = "failure"
	}
	m.Artifacts.WithLabelValues(kind, status).Inc()
	m.ArtifactSeconds.WithLabelValues(kind).Observe(res.Duration.Seconds())
	if res.Err == nil {
		m.ArtifactBytes.WithLabelValues(kind).Add(float64(res.Output.Bytes))
	}
}

func (m *Metrics) observeSkippedDir() {
	if m == nil {
		return
	}
	m.SkippedDirs.Inc()
}

func (m *Metrics) observeSources(n int) {
	if m == nil {
		return
	}
	m.Sources.Add(float64(n))
}

func (m *Metrics) observeRun() {
	if m == nil {
		return
	}
	m.Runs.Inc()
}
