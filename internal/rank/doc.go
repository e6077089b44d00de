// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package rank implements the relevance model behind recommendation ordering.
//
// The model is built from small, composable pieces:
//
//   - Signals: click/impression counters for one calendar day
//   - DayBuffer: a bounded, insertion-ordered window of per-day Signals
//   - Bucket: one content group's DayBuffer plus its last-touched time
//   - Entity: all ranking state for one content source (open timestamps,
//     rank orders, a decaying bonus, and up to 100 group buckets)
//   - Normalizer: cross-entity CTR normalization for one scoring pass
//   - Ranker: entity lifecycle, event intake, score computation, and
//     one-time out-of-box seeding
//
// The Ranker is the only type other packages normally interact with. Score
// computation is deliberately cheap: aggregates are memoized per buffer,
// base scores are memoized per card, and the whole entity map lives behind
// a single mutex with no I/O inside the critical section. Persistence is
// delegated to a Persister and is write-behind; the in-memory state is
// authoritative for the lifetime of the process.
package rank
