package toolserver

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records tool request outcomes.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// MustNewMetrics registers the tool server collectors on reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snipbridge",
				Subsystem: "tool",
				Name:      "requests_total",
				Help:      "Tool invocations by tool name and HTTP status.",
			},
			[]string{"tool", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "snipbridge",
				Subsystem: "tool",
				Name:      "request_duration_seconds",
				Help:      "Time spent executing a tool invocation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(tool string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(tool, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
