package utils

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Метрики запросов
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "charity_http_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Метрики движка
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "charity_engine_operation_duration_seconds",
			Help:    "Duration of lifecycle engine operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	ApplicationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_application_transitions_total",
			Help: "Application status transitions by outcome",
		},
		[]string{"from", "to", "outcome"},
	)

	QualificationVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_qualification_verdicts_total",
			Help: "Prequalification evaluations by verdict",
		},
		[]string{"qualified"},
	)

	LoansCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_loans_created_total",
			Help: "Loans created per plan",
		},
		[]string{"plan"},
	)

	PaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_payments_recorded_total",
			Help: "Recorded installment payments by outcome",
		},
		[]string{"outcome"},
	)

	OverdueSweepPayments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_overdue_sweep_payments_total",
			Help: "Installments moved by the overdue sweep",
		},
		[]string{"status"},
	)

	PlanCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charity_plan_cache_lookups_total",
			Help: "Plan catalog cache lookups by result",
		},
		[]string{"result"},
	)
)

// ObserveOperation записывает длительность операции движка
func ObserveOperation(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	OperationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}
