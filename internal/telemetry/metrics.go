package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	PeersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "softnet",
			Name:      "peers",
			Help:      "Known peers by liveness state.",
		},
		[]string{"state"},
	)

	Sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "softnet",
			Name:      "sessions",
			Help:      "Currently established peer sessions.",
		},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "softnet",
			Name:      "frames_total",
			Help:      "Frames processed, by direction and type.",
		},
		[]string{"dir", "type"},
	)

	SyncEntriesApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "softnet",
			Name:      "sync_entries_applied_total",
			Help:      "Remote entries that changed local state.",
		},
	)

	SyncConflictsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "softnet",
			Name:      "sync_conflicts_resolved_total",
			Help:      "Remote entries rejected by clock comparison.",
		},
	)

	DialRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "softnet",
			Name:      "dial_retries_total",
			Help:      "Outbound dial attempts after the first failure.",
		},
	)
)

func init() {
	Registry.MustRegister(
		PeersByState,
		Sessions,
		FramesTotal,
		SyncEntriesApplied,
		SyncConflictsResolved,
		DialRetries,
	)
}

// MetricsHandler exposes /metrics for the private registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
