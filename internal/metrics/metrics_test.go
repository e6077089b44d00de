// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package metrics

import (
	"testing"
	"time"
)

func TestCollectorsAreUsable(t *testing.T) {
	// promauto panics on duplicate registration, so touching each collector
	// once verifies the package-level wiring.
	StoreWrites.WithLabelValues("save").Inc()
	StoreWriteErrors.WithLabelValues("save").Inc()
	StoreQueueDropped.Inc()
	StoreQueueDepth.Set(3)
	StoreLoadDuration.Observe(0.01)
	IntakeEvents.WithLabelValues("add").Inc()
	Flushes.Inc()
	OpsDelivered.WithLabelValues("add").Inc()
	CardsRejected.Inc()
	ClearSignals.WithLabelValues("disabled").Inc()
	Consumers.WithLabelValues("normal").Set(1)
	BroadcastErrors.Inc()
	ImageCacheHits.Inc()
	ImageCacheMisses.Inc()
	SourceConnected.Set(1)
	ObserveAPIRequest("GET", "/api/v1/sources", "200", 5*time.Millisecond)
}
