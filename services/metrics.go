package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the graph writers did. A nil *Metrics records nothing.
type Metrics struct {
	Records            *prometheus.CounterVec
	Journals           *prometheus.CounterVec
	Articles           *prometheus.CounterVec
	Identifiers        *prometheus.CounterVec
	Citations          *prometheus.CounterVec
	DanglingReferences *prometheus.CounterVec
	Flushes            prometheus.Counter
	FailedSources      prometheus.Counter
}

// NewMetrics registers the ingestion counters on reg. Counters carry a "mode"
// label: "bulk" or "incremental".
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	vec := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"mode"})
	}
	return &Metrics{
		Records:            vec("citenet_records_processed_total", "Records read from record sources."),
		Journals:           vec("citenet_journals_created_total", "Journals added to the store."),
		Articles:           vec("citenet_articles_created_total", "Articles added to the store."),
		Identifiers:        vec("citenet_identifiers_created_total", "Identifier mapping entries added to the store."),
		Citations:          vec("citenet_citations_created_total", "Citation edges added to the store."),
		DanglingReferences: vec("citenet_dangling_references_total", "References dropped because their target is unknown."),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Name: "citenet_batch_flushes_total",
			Help: "Bulk batches committed to the store.",
		}),
		FailedSources: f.NewCounter(prometheus.CounterOpts{
			Name: "citenet_failed_sources_total",
			Help: "Inbox sources whose incremental ingestion failed.",
		}),
	}
}

// observe adds the counts of a finished run.
func (m *Metrics) observe(mode string, s *Stats) {
	if m == nil || s == nil {
		return
	}
	m.Records.WithLabelValues(mode).Add(float64(s.Records))
	m.Journals.WithLabelValues(mode).Add(float64(s.Journals))
	m.Articles.WithLabelValues(mode).Add(float64(s.Articles))
	m.Identifiers.WithLabelValues(mode).Add(float64(s.Identifiers))
	m.Citations.WithLabelValues(mode).Add(float64(s.Citations))
	m.DanglingReferences.WithLabelValues(mode).Add(float64(s.DanglingReferences))
}

func (m *Metrics) flushed() {
	if m != nil {
		m.Flushes.Inc()
	}
}

func (m *Metrics) sourceFailed() {
	if m != nil {
		m.FailedSources.Inc()
	}
}
