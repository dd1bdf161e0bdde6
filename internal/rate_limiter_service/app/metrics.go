package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "send_requests_total",
			Help:      "Total send requests accepted or rejected by the facade.",
		},
		[]string{"outcome"}, // accepted, invalid, queue_error
	)

	dlqRetriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "dead_letter_retries_total",
			Help:      "Operator-initiated retries of dead-lettered jobs.",
		},
		[]string{"outcome"}, // requeued, not_found, queue_error
	)
)
