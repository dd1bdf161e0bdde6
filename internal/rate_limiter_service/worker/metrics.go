package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rate_limiter",
			Name:      "jobs_processed_total",
			Help:      "Total jobs processed by the worker.",
		},
		[]string{"result"}, // success, rate_denied, rate_store_unavailable, retried, dead_lettered
	)

	sendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rate_limiter",
			Name:      "send_duration_seconds",
			Help:      "Duration of downstream platform send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sender"},
	)

	queueDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rate_limiter",
			Name:      "queue_depth",
			Help:      "Jobs currently stored in the send queue.",
		},
	)

	queueInFlightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rate_limiter",
			Name:      "queue_in_flight",
			Help:      "Jobs delivered to workers and not yet settled.",
		},
	)

	deadLetterGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rate_limiter",
			Name:      "dead_letter_count",
			Help:      "Records currently in the dead-letter store.",
		},
	)
)
