package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/villaretreat/imagepipe/internal/optimizer"
)

// metricsFile collects optimizer metrics for commands without a /metrics
// endpoint and writes them in the node_exporter textfile format. A nil
// *metricsFile records and writes nothing.
type metricsFile struct {
	path     string
	registry *prometheus.Registry
	metrics  *optimizer.Metrics
}

func newMetricsFile(path string) *metricsFile {
	if path == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	return &metricsFile{path: path, registry: reg, metrics: optimizer.NewMetrics(reg)}
}

func (m *metricsFile) optimizerMetrics() *optimizer.Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// write replaces the file atomically with the current values.
func (m *metricsFile) write() error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}
