// Package metrics counts the work of a reduction run on a private
// Prometheus registry. Batch runs have no scrape endpoint, so the
// counters are written once to a text file for the node exporter.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hesxrd"

// Metrics holds the counters of one run.
type Metrics struct {
	registry *prometheus.Registry

	ImagesProcessed  prometheus.Counter
	RowsFitted       prometheus.Counter
	RowsSkipped      *prometheus.CounterVec
	ProjectionsBuilt prometheus.Counter
	RunSeconds       prometheus.Gauge
}

// New registers a fresh set of counters.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ImagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_processed_total",
			Help:      "Detector images read by the extractors.",
		}),
		RowsFitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rod_rows_fitted_total",
			Help:      "Rocking curves accepted into a rod.",
		}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rod_rows_skipped_total",
			Help:      "Rocking curves skipped, by reason.",
		}, []string{"reason"}),
		ProjectionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projections_built_total",
			Help:      "In-plane projections produced.",
		}),
		RunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	m.registry.MustRegister(m.ImagesProcessed, m.RowsFitted, m.RowsSkipped, m.ProjectionsBuilt, m.RunSeconds)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteFile writes all counters to path in the Prometheus text format.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
