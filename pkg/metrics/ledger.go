package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks credit movements and auto-recharge outcomes.
type LedgerMetrics struct {
	transactions  *prometheus.CounterVec
	credits       *prometheus.CounterVec
	recharges     *prometheus.CounterVec
	rechargeAdded prometheus.Counter
	auditFailures prometheus.Counter
	triggerDrops  prometheus.Counter
}

// NewLedgerMetrics registers ledger metrics; a nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Credit transactions appended, by type.",
		}, []string{"type"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_moved_total",
			Help:      "Absolute credits moved, by direction.",
		}, []string{"direction"}),
		recharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recharge",
			Name:      "evaluations_total",
			Help:      "Auto-recharge evaluations, by outcome and source.",
		}, []string{"outcome", "source"}),
		rechargeAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recharge",
			Name:      "credits_added_total",
			Help:      "Credits added through auto-recharge.",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "audit_failures_total",
			Help:      "Tenants whose ledger failed verification.",
		}),
		triggerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recharge",
			Name:      "inline_dropped_total",
			Help:      "Post-debit evaluations skipped because the inline pool was full.",
		}),
	}
	reg.MustRegister(m.transactions, m.credits, m.recharges, m.rechargeAdded, m.auditFailures, m.triggerDrops)
	return m
}

// ObserveTransaction counts one appended row.
func (m *LedgerMetrics) ObserveTransaction(txType string, amount int64) {
	if m == nil || m.transactions == nil {
		return
	}
	m.transactions.WithLabelValues(normalizeLabel(txType)).Inc()
	if amount >= 0 {
		m.credits.WithLabelValues("credit").Add(float64(amount))
	} else {
		m.credits.WithLabelValues("debit").Add(float64(-amount))
	}
}

// ObserveRecharge counts one evaluation and the credits it added.
func (m *LedgerMetrics) ObserveRecharge(outcome, source string, added int64) {
	if m == nil || m.recharges == nil {
		return
	}
	m.recharges.WithLabelValues(normalizeLabel(outcome), normalizeLabel(source)).Inc()
	if added > 0 {
		m.rechargeAdded.Add(float64(added))
	}
}

func (m *LedgerMetrics) IncAuditFailure() {
	if m == nil || m.auditFailures == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *LedgerMetrics) IncTriggerDropped() {
	if m == nil || m.triggerDrops == nil {
		return
	}
	m.triggerDrops.Inc()
}
