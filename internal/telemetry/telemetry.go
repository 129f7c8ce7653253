package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the comment pipeline. One
// instance is created at startup and threaded through the orchestrator and
// server.
type Metrics struct {
	PipelineRuns      *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageOutcomes     *prometheus.CounterVec
	CacheRequests     *prometheus.CounterVec
	EvaluationScores  prometheus.Histogram
	ResearchFallbacks *prometheus.CounterVec
}

// New registers all pipeline collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pressagent_pipeline_runs_total",
			Help: "Pipeline runs by terminal status.",
		}, []string{"status"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pressagent_stage_duration_seconds",
			Help:    "Wall-clock duration per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		StageOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pressagent_stage_outcomes_total",
			Help: "Stage completions by outcome tag.",
		}, []string{"stage", "outcome"}),
		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pressagent_cache_requests_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
		EvaluationScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pressagent_evaluation_mean_score",
			Help:    "Mean evaluation score per run.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ResearchFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pressagent_research_fallbacks_total",
			Help: "Research tasks that degraded to their fallback.",
		}, []string{"task", "code"}),
	}
}

// ObserveStage records one stage completion.
func (m *Metrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}
