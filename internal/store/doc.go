// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package store persists ranking state in an embedded SQLite database.
//
// Writes are applied behind a single background worker: SaveEntity,
// RemoveEntity and RemoveGroupData enqueue and return immediately, and the
// in-memory state owned by the ranker remains authoritative. The bulk
// entity load also runs on the worker and hands its result back through a
// one-shot callback. Only blacklist replacement is synchronous.
package store
