// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

// Bucket holds one content group's engagement window together with the
// time the group was last touched, which drives LRU eviction in Entity.
type Bucket struct {
	group       string
	lastUpdated int64
	buffer      *DayBuffer
}

// NewBucket creates a bucket for a group, stamped with the given time.
func NewBucket(group string, timestamp int64) *Bucket {
	return &Bucket{
		group:       group,
		lastUpdated: timestamp,
		buffer:      NewDayBuffer(SignalWindowDays),
	}
}

// Group returns the group id this bucket tracks.
func (b *Bucket) Group() string { return b.group }

// LastUpdated returns the bucket's last-touched time in Unix milliseconds.
func (b *Bucket) LastUpdated() int64 { return b.lastUpdated }

// Buffer returns the bucket's day window.
func (b *Bucket) Buffer() *DayBuffer { return b.buffer }

func (b *Bucket) touch() { b.lastUpdated = nowMillis() }
