package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(func() prometheus.Registerer { return prometheus.DefaultRegisterer }),
	fx.Provide(New),
)

type Metrics struct {
	EventsTotal   *prometheus.CounterVec
	TopupAttempts *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		TopupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "topup_attempts_total",
			Help:      "Auto-top-up charge attempts by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.EventsTotal, m.TopupAttempts)
	return m
}
