package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeApproved  = "approved"
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
)

// Metrics 记录事件循环收到的事件与提议结果。
type Metrics struct {
	events    *prometheus.CounterVec
	proposals *prometheus.CounterVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wcsigner",
			Subsystem: "wallet",
			Name:      "events_total",
			Help:      "Inbound relay events by type.",
		}, []string{"type"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wcsigner",
			Subsystem: "wallet",
			Name:      "proposals_total",
			Help:      "Session proposals by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.proposals)
	return m
}

func (m *Metrics) incEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) incProposal(outcome string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(outcome).Inc()
}
