// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package api exposes the HTTP surface: the consumer stream endpoint,
// recommendation actions, blacklist management, card images and health.
package api
