package reminder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	sweeps         *prometheus.CounterVec
	sends          *prometheus.CounterVec
	resets         prometheus.Counter
	sweepDuration  prometheus.Histogram
	digestSegments *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostwatch",
			Subsystem: "reminder",
			Name:      "sweeps_total",
			Help:      "Reminder sweeps by result (ok, skipped, store_error).",
		}, []string{"result"}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostwatch",
			Subsystem: "reminder",
			Name:      "sends_total",
			Help:      "Reminder send attempts by stage and result.",
		}, []string{"stage", "result"}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hostwatch",
			Subsystem: "reminder",
			Name:      "resets_total",
			Help:      "Counter resets after a detected renewal.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hostwatch",
			Subsystem: "reminder",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a full sweep.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		digestSegments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostwatch",
			Subsystem: "digest",
			Name:      "segments_total",
			Help:      "Digest segments by delivery result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) sweep(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	if result == "ok" {
		m.sweepDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) send(st Stage, result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(string(st), result).Inc()
}

func (m *Metrics) reset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

func (m *Metrics) digestSegment(result string) {
	if m == nil {
		return
	}
	m.digestSegments.WithLabelValues(result).Inc()
}
