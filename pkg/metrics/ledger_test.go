package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLedgerMetricsCountsTransactionsAndRecharges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.ObserveTransaction("usage_debit", -3)
	m.ObserveTransaction("usage_debit", -2)
	m.ObserveTransaction("recharge_credit", 500)
	m.ObserveRecharge("charged", "post_debit", 500)
	m.ObserveRecharge("cooling", "sweep", 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "relaycrm_ledger_transactions_total", "type", "usage_debit")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	got, err = fetchCounterValue(mfs, "relaycrm_ledger_credits_moved_total", "direction", "debit")
	require.NoError(t, err)
	require.Equal(t, float64(5), got)

	got, err = fetchCounterValue(mfs, "relaycrm_recharge_evaluations_total", "outcome", "charged")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	added := findMetricFamily(mfs, "relaycrm_recharge_credits_added_total")
	require.NotNil(t, added)
	require.Equal(t, float64(500), added.GetMetric()[0].GetCounter().GetValue())
}
