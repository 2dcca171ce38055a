// Package observability exposes the service's prometheus instruments.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sinkOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backlog",
		Subsystem: "sync",
		Name:      "sink_operations_total",
		Help:      "Sink reconciliation steps by target (activity, board), sink (channel, webhook) and outcome.",
	}, []string{"target", "sink", "outcome"})
	refinements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backlog",
		Subsystem: "refinement",
		Name:      "requests_total",
		Help:      "Refinement attempts by result (refined, no_result, disabled).",
	}, []string{"result"})
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backlog",
		Subsystem: "activity",
		Name:      "transitions_total",
		Help:      "Status transitions by target status.",
	}, []string{"status"})
	boardReconciledGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backlog",
		Subsystem: "sync",
		Name:      "last_board_reconciled_timestamp_seconds",
		Help:      "Unix timestamp of the most recent board reconciliation pass.",
	})
)

func init() {
	prometheus.MustRegister(sinkOperations, refinements, transitions, boardReconciledGauge)
}

// RecordSinkOutcome counts one sink step.
func RecordSinkOutcome(target, sink, outcome string) {
	sinkOperations.WithLabelValues(target, sink, outcome).Inc()
}

func RecordRefinement(result string) {
	refinements.WithLabelValues(result).Inc()
}

func RecordTransition(status string) {
	transitions.WithLabelValues(status).Inc()
}

// RecordBoardReconciled updates the board reconciliation watermark.
func RecordBoardReconciled(ts time.Time) {
	if ts.IsZero() {
		return
	}
	boardReconciledGauge.Set(float64(ts.Unix()))
}
