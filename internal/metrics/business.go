package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// BusinessMetrics defines the money-movement metrics exported on /metrics
type BusinessMetrics struct {
	LedgerOperationsTotal    *prometheus.CounterVec
	PaymentsInitializedTotal *prometheus.CounterVec
	PaymentsSettledTotal     *prometheus.CounterVec
	PaymentAmountTotal       *prometheus.CounterVec
	WithdrawalsTotal         *prometheus.CounterVec
	WithdrawAmountTotal      *prometheus.CounterVec
	FraudDecisionsTotal      *prometheus.CounterVec
	FraudDegradedTotal       prometheus.Counter
	IdempotencyReplaysTotal  *prometheus.CounterVec
	ReconciliationTasksTotal *prometheus.CounterVec
	GatewayRequestDuration   *prometheus.HistogramVec
	ReconcileRunDuration     prometheus.Histogram
	MirrorFailuresTotal      prometheus.Counter
}

// Business is the process-wide metrics instance
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		LedgerOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Wallet ledger operations by kind and result",
		}, []string{"operation", "currency", "result"}),
		PaymentsInitializedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payments_initialized_total",
			Help: "Payment sessions started, including free purchases",
		}, []string{"gateway", "currency", "result"}),
		PaymentsSettledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payments_settled_total",
			Help: "Verified payments settled into a purchase",
		}, []string{"gateway", "currency"}),
		PaymentAmountTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payment_amount_minor_total",
			Help: "Settled payment amount in minor units",
		}, []string{"currency"}),
		WithdrawalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_withdrawals_total",
			Help: "Withdrawals by final status",
		}, []string{"currency", "status"}),
		WithdrawAmountTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_withdraw_amount_minor_total",
			Help: "Completed withdrawal amount in minor units",
		}, []string{"currency"}),
		FraudDecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_fraud_decisions_total",
			Help: "Fraud detector decisions by operation and action",
		}, []string{"operation", "action"}),
		FraudDegradedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_fraud_degraded_total",
			Help: "Fraud checks that failed open because the state store was unreachable",
		}),
		IdempotencyReplaysTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_idempotency_replays_total",
			Help: "Requests answered from an existing idempotency record",
		}, []string{"operation", "status"}),
		ReconciliationTasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_reconciliation_tasks_total",
			Help: "Reconciliation tasks recorded",
		}, []string{"kind"}),
		GatewayRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway", "operation", "result"}),
		ReconcileRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_reconcile_run_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.DefBuckets,
		}),
		MirrorFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_mirror_failures_total",
			Help: "Ledger entries that could not be posted to the ledger mirror",
		}),
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
