// Package telemetry carries the Prometheus metrics and OpenTelemetry tracer
// setup for the turn pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTurnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adpilot",
		Name:      "turns_processed_total",
		Help:      "Turns processed, by terminal outcome (completed, suspended, error).",
	}, []string{"outcome"})

	metricClarifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adpilot",
		Name:      "clarifications_total",
		Help:      "Turns downgraded to a clarification request.",
	})

	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adpilot",
		Name:      "actions_executed_total",
		Help:      "Actions dispatched through the handler protocol, by module and status.",
	}, []string{"module", "status"})

	metricCreditsDeducted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adpilot",
		Name:      "credits_deducted_total",
		Help:      "Credits deducted for completed actions.",
	})

	metricCreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adpilot",
		Name:      "credits_refunded_total",
		Help:      "Credits refunded by compensating transactions.",
	})

	metricRetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adpilot",
		Name:      "retry_attempts_total",
		Help:      "Backoff retries taken against external dependencies.",
	})

	metricTurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adpilot",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of one turn through the dispatcher.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// RecordTurn counts a finished turn by terminal outcome.
func RecordTurn(outcome string, seconds float64) {
	metricTurnsProcessed.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		metricTurnDuration.Observe(seconds)
	}
}

// RecordClarification counts a clarification downgrade.
func RecordClarification() {
	metricClarifications.Inc()
}

// RecordAction counts a dispatched action.
func RecordAction(module, status string) {
	metricActions.WithLabelValues(module, status).Inc()
}

// RecordCreditDeduction accumulates deducted credits.
func RecordCreditDeduction(amount float64) {
	if amount > 0 {
		metricCreditsDeducted.Add(amount)
	}
}

// RecordRetry counts one backoff retry against an external dependency.
func RecordRetry() {
	metricRetryAttempts.Inc()
}

// RecordCreditRefund accumulates refunded credits.
func RecordCreditRefund(amount float64) {
	if amount > 0 {
		metricCreditsRefunded.Add(amount)
	}
}
