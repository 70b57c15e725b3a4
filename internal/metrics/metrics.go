package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDiscarded = "discarded"
	OutcomeReused    = "reused"
)

var (
	// RefreshTotal counts refresh cycles (calls to the refresh endpoint) by outcome.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_session_refresh_total",
		Help: "Refresh cycles by outcome",
	}, []string{"outcome"})

	// RefreshWaiters records how many callers shared each refresh cycle.
	RefreshWaiters = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helpdesk_session_refresh_waiters",
		Help:    "Callers released per refresh cycle",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	// ReplayTotal counts requests replayed after a 401, by outcome.
	ReplayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_session_replay_total",
		Help: "Requests replayed after a refreshed token, by outcome",
	}, []string{"outcome"})

	// ExpiryWarnings counts crossings into the expiry warning window.
	ExpiryWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_session_expiry_warnings_total",
		Help: "Times the session entered the expiry warning window",
	})

	// StoreDurationMs is the latency of token store operations in milliseconds.
	StoreDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helpdesk_session_store_duration_ms",
		Help:    "Latency of token store operations in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	}, []string{"backend", "op"})
)
