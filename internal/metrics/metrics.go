// Package metrics содержит метрики Prometheus конвейера платежных событий.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics набор счетчиков конвейера. Регистрируется в переданном
// реестре, синглтонов нет.
type Metrics struct {
	WebhookEvents            *prometheus.CounterVec
	SweepExpired             prometheus.Counter
	SweepWarned              prometheus.Counter
	StaleClaims              prometheus.Gauge
	EntitlementInconsistency prometheus.Gauge
}

// New регистрирует метрики в реестре и возвращает набор.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events by type and processing outcome.",
		}, []string{"type", "outcome"}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "sweep_expired_total",
			Help: "Subscriptions expired by the sweeper.",
		}),
		SweepWarned: factory.NewCounter(prometheus.CounterOpts{
			Name: "sweep_warned_total",
			Help: "Expiry warnings emitted by the sweeper.",
		}),
		StaleClaims: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_stale_claims",
			Help: "Claimed but not completed dedup records seen by the last sweep.",
		}),
		EntitlementInconsistency: factory.NewGauge(prometheus.GaugeOpts{
			Name: "entitlement_inconsistencies",
			Help: "Users whose premium flag disagrees with subscription state.",
		}),
	}
}
