package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	deliveries *prometheus.CounterVec
	attempts   prometheus.Counter
}

// NewMetrics registers notifier collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostwatch",
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Outbound messages by final result (sent, failed, dropped).",
		}, []string{"result"}),
		attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hostwatch",
			Subsystem: "notifier",
			Name:      "send_attempts_total",
			Help:      "Transport send calls including retries.",
		}),
	}
}

func (m *Metrics) delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}
