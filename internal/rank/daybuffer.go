// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

// SignalWindowDays is the number of distinct day entries a DayBuffer
// retains. Older entries are evicted by insertion order.
const SignalWindowDays = 14

// DayBuffer is a bounded, insertion-ordered window of per-day engagement
// Signals for one content group. The aggregate score is memoized and
// invalidated on every write.
//
// DayBuffer is not safe for concurrent use; the owning Entity serializes
// access.
type DayBuffer struct {
	length  int
	order   []int
	entries map[int]Signals
	dirty   bool
	cached  float64
}

// NewDayBuffer creates a buffer holding at most length day entries.
func NewDayBuffer(length int) *DayBuffer {
	return &DayBuffer{
		length:  length,
		entries: make(map[int]Signals, length+1),
		dirty:   true,
		cached:  -1,
	}
}

// Set stores the Signals for a day key, evicting the oldest inserted
// entries while the buffer exceeds its length.
func (b *DayBuffer) Set(day int, s Signals) {
	if _, ok := b.entries[day]; !ok {
		b.order = append(b.order, day)
	}
	b.entries[day] = s
	for len(b.order) > b.length {
		evicted := b.order[0]
		b.order = b.order[1:]
		delete(b.entries, evicted)
	}
	b.dirty = true
}

// Get returns the Signals recorded for a day key.
func (b *DayBuffer) Get(day int) (Signals, bool) {
	s, ok := b.entries[day]
	return s, ok
}

// Len returns the number of distinct day entries currently held.
func (b *DayBuffer) Len() int { return len(b.order) }

// HasData reports whether any day entry is present.
func (b *DayBuffer) HasData() bool { return len(b.order) > 0 }

// Days returns the held entries in insertion order.
func (b *DayBuffer) Days() []DaySignals {
	out := make([]DaySignals, 0, len(b.order))
	for _, day := range b.order {
		out = append(out, DaySignals{Day: day, Signals: b.entries[day]})
	}
	return out
}

// AggregatedScore folds the buffer through agg and memoizes the result
// until the next write. An empty buffer scores the group starter value,
// which keeps brand-new groups from ranking at exactly zero.
func (b *DayBuffer) AggregatedScore(agg Aggregator, starter float64) float64 {
	if !b.dirty {
		return b.cached
	}
	if len(b.order) == 0 {
		b.cached = starter
	} else {
		agg.Reset()
		for _, day := range b.order {
			agg.Add(day, b.entries[day])
		}
		b.cached = agg.Score()
	}
	b.dirty = false
	return b.cached
}
