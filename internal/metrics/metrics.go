package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResearchRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_runs_started_total",
			Help: "Total number of research fan-outs started",
		},
	)

	ResearchRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_completed_total",
			Help: "Total number of research runs that reached a terminal outcome",
		},
		[]string{"outcome"}, // complete, research_failed, synthesis_failed, cancelled
	)

	SubResearchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_subquestion_results_total",
			Help: "Sub-question research results by outcome",
		},
		[]string{"outcome"},
	)

	PortCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_port_call_duration_seconds",
			Help:    "Duration of language model and search calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"port", "operation", "status"},
	)

	PipelineStageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_total",
			Help: "Single-pass pipeline stage executions",
		},
		[]string{"pipeline", "stage", "outcome"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_lookups_total",
			Help: "Response cache lookups by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_active_sessions",
			Help: "Number of live sessions",
		},
	)
)

// ObservePortCall records the duration of one external call.
func ObservePortCall(port, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	PortCallDuration.WithLabelValues(port, operation, status).Observe(time.Since(start).Seconds())
}
