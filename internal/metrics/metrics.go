package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dionysus_outbox_published_total",
			Help: "Outbox entries by publish outcome and topic",
		},
		[]string{"topic", "outcome"}, // published|failed
	)

	OutboxPendingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dionysus_outbox_pending",
			Help: "Publishable outbox entries remaining per topic",
		},
		[]string{"topic"},
	)

	ConsumerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dionysus_consumer_events_total",
			Help: "Consumed events by topic and result",
		},
		[]string{"topic", "result"}, // persisted|destroyed|skipped|stale
	)

	InstrumentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dionysus_span_duration_seconds",
			Help:    "Duration of instrumented spans by label",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"label"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxPublishedTotal,
		OutboxPendingGauge,
		ConsumerEventsTotal,
		InstrumentDuration,
	)
}
