package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录会话数量与状态迁移。
type Metrics struct {
	sessions    *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	persistFail prometheus.Counter
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wcsigner",
			Name:      "sessions",
			Help:      "Number of sessions by status",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wcsigner",
			Name:      "session_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		persistFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wcsigner",
			Name:      "session_persist_fail_total",
			Help:      "Session writes rejected by the persister",
		}),
	}
	reg.MustRegister(m.sessions, m.transitions, m.persistFail)
	return m
}

func (m *Metrics) transition(from, to Status) {
	if m == nil {
		return
	}
	fromLabel := "NONE"
	if from != "" {
		fromLabel = from.String()
		m.sessions.WithLabelValues(fromLabel).Dec()
	}
	m.sessions.WithLabelValues(to.String()).Inc()
	m.transitions.WithLabelValues(fromLabel, to.String()).Inc()
}

func (m *Metrics) incPersistFail() {
	if m == nil {
		return
	}
	m.persistFail.Inc()
}
