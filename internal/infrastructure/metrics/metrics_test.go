package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.Transition("checkout", "completed")
	m.Transition("checkout", "completed")
	m.LedgerEntry("purchase")
	m.InvoiceFailure()
	m.Notification("sent")
	m.ObserveSettle("checkout", "completed", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("checkout", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerEntries.WithLabelValues("purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invoiceFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationSent.WithLabelValues("sent")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Transition("checkout", "failed")
	m.LedgerEntry("usage")
	m.InvoiceFailure()
	m.Notification("failed")
	m.ObserveSettle("checkout", "failed", time.Now())
}
