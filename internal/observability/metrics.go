// Package observability defines the Prometheus instruments served on the
// status server's /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_sync_runs_total",
			Help: "Sync passes by trigger type and outcome.",
		},
		[]string{"type", "status"},
	)

	RecordsUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_records_uploaded_total",
			Help: "Records confirmed by the backend, by kind.",
		},
		[]string{"kind"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsync_webhook_deliveries_total",
			Help: "Webhook delivery attempts by result.",
		},
		[]string{"result"},
	)

	PendingRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthsync_pending_records",
			Help: "Records not yet confirmed by the backend, by kind.",
		},
		[]string{"kind"},
	)

	LastSyncTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthsync_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful sync pass.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SyncRuns,
		RecordsUploaded,
		WebhookDeliveries,
		PendingRecords,
		LastSyncTimestamp,
	)
}
