package keystore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	kindPersonal  = "personal"
	kindTypedData = "typed_data"
)

// Metrics 记录签名次数与耗时。
type Metrics struct {
	signs   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		signs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wcsigner",
			Name:      "keystore_sign_total",
			Help:      "Key store signing calls by kind and outcome",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wcsigner",
			Name:      "keystore_sign_latency_ms",
			Help:      "Key store signing latency in milliseconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"kind"}),
	}
	reg.MustRegister(m.signs, m.latency)
	return m
}

func (m *Metrics) observe(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.signs.WithLabelValues(kind, outcome).Inc()
	m.latency.WithLabelValues(kind).Observe(float64(d.Microseconds()) / 1000)
}
