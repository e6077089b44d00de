// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package metrics defines the Prometheus collectors for the service:
// store write-behind activity, notification intake and delivery, consumer
// registrations, and the image cache. Collectors are registered with the
// default registry via promauto and exposed on /metrics.
package metrics
