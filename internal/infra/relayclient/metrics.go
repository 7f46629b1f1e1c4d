package relayclient

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录 relay 连接状态与收发情况。
type Metrics struct {
	connected  prometheus.Gauge
	reconnects prometheus.Counter
	frames     *prometheus.CounterVec
	publishes  *prometheus.CounterVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connected",
			Help: "1 when the relay websocket is connected",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_reconnects_total",
			Help: "Successful relay reconnects",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Relay JSON-RPC frames by direction and method",
		}, []string{"direction", "method"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publish_total",
			Help: "Relay publishes by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.connected, m.reconnects, m.frames, m.publishes)
	return m
}

func (m *Metrics) setConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) incReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) incFrame(direction, method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "response"
	}
	m.frames.WithLabelValues(direction, method).Inc()
}

func (m *Metrics) incPublish(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.publishes.WithLabelValues(outcome).Inc()
}
