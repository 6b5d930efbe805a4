package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docuquery",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Requests processed, labeled by outcome.",
	}, []string{"outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docuquery",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Per-stage wall-clock duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	questionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docuquery",
		Subsystem: "pipeline",
		Name:      "questions_total",
		Help:      "Questions answered across all requests.",
	})
)
