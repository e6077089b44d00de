// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store metrics
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recdeck_store_writes_total",
			Help: "Total write-behind operations applied to the store",
		},
		[]string{"operation"}, // "save", "remove", "remove_group"
	)

	StoreWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recdeck_store_write_errors_total",
			Help: "Total write-behind operations that failed and were dropped",
		},
		[]string{"operation"},
	)

	StoreQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recdeck_store_queue_dropped_total",
			Help: "Total write-behind operations dropped because the queue was full",
		},
	)

	StoreQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recdeck_store_queue_depth",
			Help: "Current number of queued write-behind operations",
		},
	)

	StoreLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recdeck_store_load_duration_seconds",
			Help:    "Duration of the bulk entity load",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Intake and delivery metrics
	IntakeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recdeck_intake_events_total",
			Help: "Total notification events received from the source",
		},
		[]string{"kind"}, // "add", "remove", "reset", "captive_add", "captive_remove"
	)

	Flushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recdeck_flushes_total",
			Help: "Total coalesced delivery flushes emitted",
		},
	)

	OpsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recdeck_operations_delivered_total",
			Help: "Total add/update/remove operations delivered to consumers",
		},
		[]string{"operation"}, // "add", "update", "remove"
	)

	CardsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recdeck_cards_rejected_total",
			Help: "Total cards rejected because their source hit the per-source cap",
		},
	)

	ClearSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recdeck_clear_signals_total",
			Help: "Total clear-all signals sent to consumers",
		},
		[]string{"reason"},
	)

	// Consumer metrics
	Consumers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recdeck_consumers",
			Help: "Currently registered push consumers",
		},
		[]string{"channel"}, // "normal", "partner"
	)

	BroadcastErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recdeck_broadcast_errors_total",
			Help: "Total per-consumer delivery failures during fan-out",
		},
	)

	// Image cache metrics
	ImageCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recdeck_image_cache_hits_total",
			Help: "Total image cache hits",
		},
	)

	ImageCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recdeck_image_cache_misses_total",
			Help: "Total image cache misses",
		},
	)

	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recdeck_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Source connection metrics
	SourceConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recdeck_source_connected",
			Help: "Whether the notification source is currently connected (1 or 0)",
		},
	)
)

// ObserveAPIRequest records one API request observation.
func ObserveAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
