package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_validations_total",
			Help: "Email validations by aggregate outcome.",
		},
		[]string{"outcome"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_upstream_requests_total",
			Help: "Upstream validator calls by resource and result.",
		},
		[]string{"resource", "result"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_upstream_request_duration_seconds",
			Help:    "Latency of upstream validator calls.",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 12, 15},
		},
		[]string{"resource"},
	)
)
