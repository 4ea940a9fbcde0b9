package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// ROUTING METRICS
// =============================================================================

var (
	routeDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_route_decisions_total",
			Help: "Total routing decisions by outcome",
		},
		[]string{"outcome", "target"}, // outcome: rule, fallback
	)

	routeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagegate_route_duration_seconds",
			Help:    "Wall clock time spent in a routing call",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_stage_executions_total",
			Help: "Total stage executions by role and resulting stage status",
		},
		[]string{"role", "status"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagegate_stage_duration_seconds",
			Help:    "Stage processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"role"},
	)

	workflowOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_workflow_outcomes_total",
			Help: "Workflows that reached a terminal status",
		},
		[]string{"status"},
	)

	pendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagegate_pending_approvals",
			Help: "Workflows currently waiting at the approval gate",
		},
	)
)

// =============================================================================
// DOCUMENT METRICS
// =============================================================================

var (
	documentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_document_transitions_total",
			Help: "Document status changes by target status",
		},
		[]string{"status"},
	)

	followUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_follow_ups_total",
			Help: "Follow-up messages generated, by whether the actor acknowledged",
		},
		[]string{"acknowledged"}, // true, false, pending
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRoute records the outcome of one routing call.
func RecordRoute(fallback bool, target string, elapsed time.Duration) {
	outcome := "rule"
	if fallback {
		outcome = "fallback"
	}
	routeDecisionsTotal.WithLabelValues(outcome, target).Inc()
	routeDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordStage records one finished stage.
func RecordStage(role, status string, elapsed time.Duration) {
	stageExecutionsTotal.WithLabelValues(role, status).Inc()
	stageDurationSeconds.WithLabelValues(role).Observe(elapsed.Seconds())
}

// RecordWorkflowOutcome counts a workflow entering a terminal status.
func RecordWorkflowOutcome(status string) {
	workflowOutcomesTotal.WithLabelValues(status).Inc()
}

// GateEntered and GateLeft track the pending approval gauge.
func GateEntered() { pendingApprovals.Inc() }
func GateLeft()    { pendingApprovals.Dec() }

// RecordDocumentTransition counts a document status change.
func RecordDocumentTransition(status string) {
	documentTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordFollowUp counts follow-up lifecycle points.
func RecordFollowUp(acknowledged string) {
	followUpsTotal.WithLabelValues(acknowledged).Inc()
}
