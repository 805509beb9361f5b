// Package metrics exposes the library service's Prometheus collectors.
// Every method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	imports          *prometheus.CounterVec
	skippedRelations *prometheus.CounterVec
	rosterItems      *prometheus.CounterVec
	driftMedia       *prometheus.GaugeVec
	jobs             *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_imports_total",
			Help: "Media imports by kind and outcome",
		}, []string{"kind", "outcome"}),
		skippedRelations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_relations_skipped_total",
			Help: "Relation edges dropped during import, by reason",
		}, []string{"reason"}),
		rosterItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_roster_characters_total",
			Help: "Roster characters processed, by terminal state",
		}, []string{"state"}),
		driftMedia: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "library_drift_media",
			Help: "Imported media per comparison status in the last drift scan",
		}, []string{"status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_jobs_total",
			Help: "Async import jobs by outcome",
		}, []string{"outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(m.imports, m.skippedRelations, m.rosterItems, m.driftMedia, m.jobs)
	return m
}

func (m *Metrics) Import(kind, outcome string) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SkippedRelation(reason string) {
	if m == nil {
		return
	}
	m.skippedRelations.WithLabelValues(reason).Inc()
}

func (m *Metrics) RosterItem(state string) {
	if m == nil {
		return
	}
	m.rosterItems.WithLabelValues(state).Inc()
}

// DriftScan replaces the gauge values with the counts from one scan.
func (m *Metrics) DriftScan(counts map[string]int) {
	if m == nil {
		return
	}
	m.driftMedia.Reset()
	for status, n := range counts {
		m.driftMedia.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) Job(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
