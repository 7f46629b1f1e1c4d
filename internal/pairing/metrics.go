package pairing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess          = "success"
	outcomeInvalidURI       = "invalid_uri"
	outcomeAlreadyPairing   = "already_pairing"
	outcomeTransportFailure = "transport_failure"
)

// Metrics 记录配对尝试与握手耗时。
type Metrics struct {
	attempts  *prometheus.CounterVec
	handshake prometheus.Histogram
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wcsigner",
			Subsystem: "pairing",
			Name:      "attempts_total",
			Help:      "Pairing attempts by outcome",
		}, []string{"outcome"}),
		handshake: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wcsigner",
			Subsystem: "pairing",
			Name:      "handshake_latency_ms",
			Help:      "Time to establish the relay subscription in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}
	reg.MustRegister(m.attempts, m.handshake)
	return m
}

func (m *Metrics) incAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeHandshake(d time.Duration) {
	if m == nil {
		return
	}
	m.handshake.Observe(float64(d.Milliseconds()))
}
