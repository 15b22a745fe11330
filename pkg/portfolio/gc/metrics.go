package gc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts collector runs and per-entry outcomes.
type Metrics struct {
	runs     *prometheus.CounterVec
	entries  *prometheus.CounterVec
	lastSeen prometheus.Gauge
}

// NewMetrics creates the collector metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_asset_gc_runs_total",
			Help: "Total number of asset garbage collection runs by result.",
		}, []string{"result"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_asset_gc_entries_total",
			Help: "Total number of deletion queue entries processed by outcome.",
		}, []string{"outcome"}),
		lastSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_asset_gc_last_run_processed",
			Help: "Number of entries processed by the most recent run.",
		}),
	}
	reg.MustRegister(m.runs, m.entries, m.lastSeen)
	return m
}

func (m *Metrics) observeRun(r Result, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.entries.WithLabelValues("deleted").Add(float64(r.Deleted))
	m.entries.WithLabelValues("skipped_referenced").Add(float64(r.SkippedReferenced))
	m.entries.WithLabelValues("failed").Add(float64(r.Failed))
	m.lastSeen.Set(float64(r.Processed))
}
