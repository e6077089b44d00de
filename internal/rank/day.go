// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import "time"

// nowMillis returns the current wall-clock time in Unix milliseconds.
// Overridable in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// DayOf converts a time to its day key: year*1000 + day-of-year. Day keys
// are stable, comparable integers that survive persistence round-trips.
func DayOf(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}

// DayOfMillis converts a Unix-millisecond timestamp to its day key.
func DayOfMillis(ms int64) int {
	return DayOf(time.UnixMilli(ms))
}

// DateOf converts a day key back to the start of that day (local time).
// Returns the zero time for a negative key.
func DateOf(day int) time.Time {
	if day < 0 {
		return time.Time{}
	}
	year := day / 1000
	yday := day % 1000
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.Local).
		AddDate(0, 0, yday-1)
}
