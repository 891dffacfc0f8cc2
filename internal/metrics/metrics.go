// Package metrics holds the Prometheus collectors of the relay and an
// optional HTTP endpoint that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished jobs by mode and outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_jobs_total",
			Help: "Finished download jobs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_job_duration_seconds",
			Help:    "Wall time of a job from start to cleanup",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"mode"},
	)

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_jobs_in_flight",
		Help: "Jobs currently holding a worker slot",
	})

	// DeliveriesTotal counts uploads by transport path (video, audio, document) and result.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Uploads to chats by path and result",
		},
		[]string{"path", "result"},
	)

	CleanupErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cleanup_errors_total",
		Help: "Temp artifacts that could not be removed",
	})

	// UpdatesTotal counts inbound Telegram updates by kind.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_updates_total",
			Help: "Inbound Telegram updates by kind",
		},
		[]string{"kind"},
	)

	DeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_denied_total",
			Help: "Requests refused by the allow-list or rate limiter",
		},
		[]string{"reason"},
	)
)
