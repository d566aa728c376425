package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for settlement and dispatch outcomes.
type Metrics struct {
	settlements    *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	adminCommands  *prometheus.CounterVec
	voucherRetries prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygig_settlements_total",
			Help: "Settlement operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygig_settlement_conflicts_total",
			Help: "Conditional writes that lost their race",
		}, []string{"operation"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygig_notifications_total",
			Help: "Admin-channel notifications by kind and outcome",
		}, []string{"kind", "outcome"}),
		adminCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygig_admin_commands_total",
			Help: "Admin commands and callbacks handled, by intent",
		}, []string{"intent"}),
		voucherRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paygig_voucher_collisions_total",
			Help: "Generated voucher codes rejected as duplicates",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.settlements, m.conflicts, m.dispatches, m.adminCommands, m.voucherRetries)
	}
	return m
}

func (m *Metrics) settlement(op, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) dispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) adminCommand(intent string) {
	if m == nil {
		return
	}
	m.adminCommands.WithLabelValues(intent).Inc()
}

func (m *Metrics) voucherCollision() {
	if m == nil {
		return
	}
	m.voucherRetries.Inc()
}
