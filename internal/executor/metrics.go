package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the executor's prometheus instruments.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	StageQA       *prometheus.GaugeVec
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
}

// NewMetrics registers the executor instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "radiopipe",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of completed stages.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"task"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiopipe",
			Name:      "stage_failures_total",
			Help:      "Stages that aborted the run.",
		}, []string{"task"}),
		StageQA: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radiopipe",
			Name:      "stage_qa_score",
			Help:      "Representative QA score of the last completed stage per task.",
		}, []string{"task"}),
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "radiopipe",
			Name:      "runs_started_total",
			Help:      "Pipeline runs started.",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "radiopipe",
			Name:      "runs_completed_total",
			Help:      "Pipeline runs that reached their exit stage.",
		}),
	}
}
