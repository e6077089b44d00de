// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

// Signals holds the engagement counters for one content group on one
// calendar day.
type Signals struct {
	Clicks      uint32
	Impressions uint32
}

// DaySignals pairs a day key with its Signals, used for buffer snapshots
// and persistence.
type DaySignals struct {
	Day     int
	Signals Signals
}

// Aggregator folds a sequence of per-day Signals into one score.
type Aggregator interface {
	Reset()
	Add(day int, s Signals)
	Score() float64
}

// CTRAggregator computes the click-through rate over all added Signals:
// total clicks divided by total impressions, or 0 with no impressions.
type CTRAggregator struct {
	clicks      uint64
	impressions uint64
}

// Reset clears the accumulated totals.
func (a *CTRAggregator) Reset() {
	a.clicks = 0
	a.impressions = 0
}

// Add accumulates one day's counters.
func (a *CTRAggregator) Add(_ int, s Signals) {
	a.clicks += uint64(s.Clicks)
	a.impressions += uint64(s.Impressions)
}

// Score returns clicks/impressions, or 0 if nothing was shown.
func (a *CTRAggregator) Score() float64 {
	if a.impressions == 0 {
		return 0
	}
	return float64(a.clicks) / float64(a.impressions)
}

// SumAggregator sums clicks, ignoring impressions.
type SumAggregator struct {
	sum float64
}

// Reset clears the accumulated sum.
func (a *SumAggregator) Reset() { a.sum = 0 }

// Add accumulates one day's clicks.
func (a *SumAggregator) Add(_ int, s Signals) { a.sum += float64(s.Clicks) }

// Score returns the click sum.
func (a *SumAggregator) Score() float64 { return a.sum }
