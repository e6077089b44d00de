// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package websocket implements the push side of the delivery protocol: a
// hub fanning versioned envelopes out to normal and partner channel
// consumers over websocket connections.
package websocket
