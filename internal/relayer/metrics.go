package relayer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davicafu/eventrelay/shared/domain"
)

// Metrics agrupa los contadores del outbox. Un *Metrics nil no cuenta nada.
type Metrics struct {
	published  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	unresolved *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventrelay",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Integration events published and marked as Published.",
		}, []string{"event_name"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventrelay",
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Integration events whose publish failed and were marked as PublishedFailed.",
		}, []string{"event_name"}),
		unresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventrelay",
			Subsystem: "outbox",
			Name:      "unresolved_types_total",
			Help:      "Outbox entries skipped on read because their event type is not registered.",
		}, []string{"event_type_name"}),
	}
	reg.MustRegister(m.published, m.failed, m.unresolved)
	return m
}

func (m *Metrics) incPublished(name string) {
	if m != nil {
		m.published.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) incFailed(name string) {
	if m != nil {
		m.failed.WithLabelValues(name).Inc()
	}
}

// ReportUnresolved cumple domain.UnresolvedReporter.
func (m *Metrics) ReportUnresolved(entry domain.EventLogEntry) {
	if m != nil {
		m.unresolved.WithLabelValues(entry.EventTypeName).Inc()
	}
}

var _ domain.UnresolvedReporter = (*Metrics)(nil).ReportUnresolved
