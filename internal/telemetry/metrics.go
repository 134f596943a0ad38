package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync and webhook counters. Registered on the default registry so the
// metrics handler in cmd exposes them without extra wiring.
var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpulse_sync_runs_total",
		Help: "Sync passes by terminal status.",
	}, []string{"status"})

	EntitiesSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpulse_entities_synced_total",
		Help: "Entities upserted during sync, by entity kind.",
	}, []string{"entity"})

	SyncItemErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devpulse_sync_item_errors_total",
		Help: "Per-item sync errors that were isolated and skipped.",
	})

	RateLimitPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devpulse_rate_limit_pauses_total",
		Help: "Sync passes stopped early by the rate limit guard.",
	})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpulse_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome.",
	}, []string{"outcome"})
)
