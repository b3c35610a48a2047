package ledger

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records operation outcomes and latency.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates ledger collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncboard",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by operation name and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syncboard",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency including the store transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration)
	}
	return m
}

func (m *Metrics) observe(op Operation, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(CodeOf(err)))
	}
	m.operations.WithLabelValues(string(op), result).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}
