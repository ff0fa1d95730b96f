package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 结算引擎的 Prometheus 指标
type Metrics struct {
	transitions      *prometheus.CounterVec
	ledgerEntries    *prometheus.CounterVec
	settleDuration   *prometheus.HistogramVec
	invoiceFailures  prometheus.Counter
	notificationSent *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default 注册到全局 registry 的单例，避免重复注册 panic
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew 使用指定 registerer 创建指标，测试中传入 prometheus.NewRegistry()
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "purchase",
			Name:      "transitions_total",
			Help:      "Purchase state transitions by payment method and target status.",
		}, []string{"method", "status"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries written by type.",
		}, []string{"type"}),
		settleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credit_engine",
			Subsystem: "purchase",
			Name:      "settle_duration_seconds",
			Help:      "Time spent in OnSettled including channel confirmation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "result"}),
		invoiceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "invoice",
			Name:      "generation_failures_total",
			Help:      "Invoices that could not be generated at settlement time.",
		}),
		notificationSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "notification",
			Name:      "dispatch_total",
			Help:      "Outbox notifications dispatched by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.transitions, m.ledgerEntries, m.settleDuration, m.invoiceFailures, m.notificationSent)
	return m
}

func (m *Metrics) Transition(method, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(method, status).Inc()
}

func (m *Metrics) LedgerEntry(entryType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(entryType).Inc()
}

func (m *Metrics) ObserveSettle(method, result string, started time.Time) {
	if m == nil {
		return
	}
	m.settleDuration.WithLabelValues(method, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) InvoiceFailure() {
	if m == nil {
		return
	}
	m.invoiceFailures.Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notificationSent.WithLabelValues(result).Inc()
}
