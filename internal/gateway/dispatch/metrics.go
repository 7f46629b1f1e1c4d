package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录请求分发的关键指标。
type Metrics struct {
	queueDepth  prometheus.Gauge
	lanes       prometheus.Gauge
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	dropped     *prometheus.CounterVec
	publishFail prometheus.Counter
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Number of lane tasks waiting to run",
		}),
		lanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_lanes",
			Help: "Number of open per-topic lanes",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Signing requests dispatched by method and outcome",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_latency_ms",
			Help:    "Latency of request handling in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"method"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_dropped_total",
			Help: "Requests refused before dispatch",
		}, []string{"reason"}),
		publishFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_publish_fail_total",
			Help: "Responses that could not be published",
		}),
	}
	reg.MustRegister(m.queueDepth, m.lanes, m.requests, m.latency, m.dropped, m.publishFail)
	return m
}

func (m *Metrics) incQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Metrics) decQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}

func (m *Metrics) setLanes(n int) {
	if m == nil {
		return
	}
	m.lanes.Set(float64(n))
}

func (m *Metrics) observeRequest(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	method = labelOrUnknown(method)
	m.requests.WithLabelValues(method, labelOrUnknown(outcome)).Inc()
	m.latency.WithLabelValues(method).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func (m *Metrics) incPublishFail() {
	if m == nil {
		return
	}
	m.publishFail.Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
