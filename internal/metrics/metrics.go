// Package metrics exposes the appliance's Prometheus collectors,
// served from the daemon's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts processed badge scans by admission outcome.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tamtap_scans_total",
		Help: "Badge scans processed, labeled by admission outcome.",
	}, []string{"outcome"})

	// SyncPushed counts pending records confirmed by the remote store.
	SyncPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tamtap_sync_pushed_total",
		Help: "Pending attendance records acknowledged by the remote store.",
	})

	// SyncPulled counts identities pulled from the remote store.
	SyncPulled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tamtap_sync_pulled_total",
		Help: "Identity records pulled from the remote store into the cache.",
	})

	// SyncFailures counts push/pull cycles that ended with an error.
	SyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tamtap_sync_failures_total",
		Help: "Sync cycles that left records queued due to remote errors.",
	})

	// Connected reports the supervisor state: 1 connected, 0 otherwise.
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tamtap_remote_connected",
		Help: "Whether the remote canonical store is currently reachable.",
	})

	// CacheWriteFailures counts failed snapshot writes. A climbing rate
	// is the "system degraded" signal for the feedback layer.
	CacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tamtap_cache_write_failures_total",
		Help: "Local snapshot writes that failed and will be retried.",
	})
)
