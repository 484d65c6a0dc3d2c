package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the node.
const Namespace = "salechain"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type runtimeMetrics struct {
	transactions *prometheus.CounterVec
	duration     prometheus.Histogram
	instructions *prometheus.CounterVec
}

type saleMetrics struct {
	purchases *prometheus.CounterVec
	unitsSold prometheus.Counter
	payments  prometheus.Counter
	admin     *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	runtimeMetricsOnce sync.Once
	runtimeRegistry    *runtimeMetrics

	saleMetricsOnce sync.Once
	saleRegistry    *saleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of RPC requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. A zero code means success;
// anything else is the JSON-RPC error code returned to the caller.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Runtime returns the metrics registry for transaction execution.
func Runtime() *runtimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &runtimeMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "runtime",
				Name:      "transactions_total",
				Help:      "Processed transactions segmented by mode and outcome.",
			}, []string{"mode", "outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "runtime",
				Name:      "transaction_duration_seconds",
				Help:      "Wall-clock time spent executing a transaction.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			}),
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "runtime",
				Name:      "instructions_total",
				Help:      "Executed instructions segmented by program and outcome, including nested invocations.",
			}, []string{"program", "outcome"}),
		}
		prometheus.MustRegister(
			runtimeRegistry.transactions,
			runtimeRegistry.duration,
			runtimeRegistry.instructions,
		)
	})
	return runtimeRegistry
}

// ObserveTransaction records a finished transaction.
func (m *runtimeMetrics) ObserveTransaction(mode string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(mode, outcomeLabel(success)).Inc()
	m.duration.Observe(duration.Seconds())
}

// ObserveInstruction records one program invocation.
func (m *runtimeMetrics) ObserveInstruction(program string, success bool) {
	if m == nil {
		return
	}
	if strings.TrimSpace(program) == "" {
		program = "unknown"
	}
	m.instructions.WithLabelValues(program, outcomeLabel(success)).Inc()
}

// Sale returns the metrics registry for the sale program.
func Sale() *saleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &saleMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sale",
				Name:      "purchases_total",
				Help:      "Settled purchases segmented by whether a receiving account was provisioned.",
			}, []string{"provisioned"}),
			unitsSold: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sale",
				Name:      "units_sold_total",
				Help:      "Base units of the sale asset delivered to buyers.",
			}),
			payments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sale",
				Name:      "payment_lamports_total",
				Help:      "Lamports paid to the payout recipient.",
			}),
			admin: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sale",
				Name:      "admin_actions_total",
				Help:      "Administrative configuration changes segmented by action.",
			}, []string{"action"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sale",
				Name:      "failures_total",
				Help:      "Rejected sale instructions segmented by error name.",
			}, []string{"error"}),
		}
		prometheus.MustRegister(
			saleRegistry.purchases,
			saleRegistry.unitsSold,
			saleRegistry.payments,
			saleRegistry.admin,
			saleRegistry.failures,
		)
	})
	return saleRegistry
}

// RecordPurchase increments purchase counters. Amounts are committed values.
func (m *saleMetrics) RecordPurchase(units, payment uint64, provisioned bool) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(fmt.Sprintf("%t", provisioned)).Inc()
	m.unitsSold.Add(float64(units))
	m.payments.Add(float64(payment))
}

// RecordAdmin increments the counter for an administrative action.
func (m *saleMetrics) RecordAdmin(action string) {
	if m == nil {
		return
	}
	m.admin.WithLabelValues(action).Inc()
}

// RecordFailure increments the failure counter for a named sale error.
func (m *saleMetrics) RecordFailure(name string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	m.failures.WithLabelValues(name).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
