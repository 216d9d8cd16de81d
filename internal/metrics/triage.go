package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Classification, rule, indexing and search metrics.
var (
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "classifications_total",
			Help:      "Classifications by class source and route",
		},
		[]string{"source", "route"},
	)

	ClassificationsDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "classifications_degraded_total",
			Help:      "Classifications produced without the AI classifier after it failed",
		},
	)

	ClassifierCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "classifier_calls_total",
			Help:      "AI classifier calls by result",
		},
		[]string{"result"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by outcome",
		},
		[]string{"outcome"}, // matched / unmatched / error
	)

	IndexJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "index_jobs_total",
			Help:      "Index jobs by final status",
		},
		[]string{"status"},
	)

	IndexQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "index_queue_depth",
			Help:      "Index jobs waiting for a worker",
		},
	)

	IndexJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "index_job_duration_seconds",
			Help:      "Time from dequeue to final status",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "search_cache_total",
			Help:      "Vector search cache lookups by result",
		},
		[]string{"result"}, // hit / miss / error
	)
)

var registerOnce sync.Once

// Register registers every service metric with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestDuration,
			HTTPRequestsTotal,
			HTTPRequestsInFlight,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingRetriesTotal,
			EmbeddingCacheTotal,
			ClassificationsTotal,
			ClassificationsDegradedTotal,
			ClassifierCallsTotal,
			RuleEvaluationsTotal,
			IndexJobsTotal,
			IndexQueueDepth,
			IndexJobDuration,
			SearchCacheTotal,
		)
	})
}
