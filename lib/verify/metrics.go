package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faivr_challenges_issued",
		Help: "The total number of verification challenges issued",
	}, []string{"method"})

	challengesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faivr_challenges_validated",
		Help: "The total number of verification challenges that were satisfied",
	}, []string{"method"})

	failedValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faivr_failed_validations",
		Help: "The total number of checks where the proof was not observable",
	}, []string{"method"})

	challengesExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faivr_challenges_expired",
		Help: "The total number of challenges checked after their expiry window",
	}, []string{"method"})

	checkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faivr_check_duration_seconds",
		Help:    "Time spent looking for a proof",
		Buckets: prometheus.ExponentialBucketsRange(0.005, 10, 12),
	}, []string{"method"})
)
