// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import (
	"testing"
	"time"
)

func TestDayOf(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want int
	}{
		{"new year's day", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 2026001},
		{"end of january", time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC), 2026031},
		{"leap day", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), 2024060},
		{"year boundary ordering", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), 2025365},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayOf(tt.t); got != tt.want {
				t.Errorf("DayOf(%v) = %d, want %d", tt.t, got, tt.want)
			}
		})
	}
}

func TestDateOfRoundTrip(t *testing.T) {
	day := DayOf(time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC))
	if got := DayOf(DateOf(day)); got != day {
		t.Errorf("DayOf(DateOf(%d)) = %d, want %d", day, got, day)
	}
}

func TestDayBufferWindow(t *testing.T) {
	b := NewDayBuffer(SignalWindowDays)

	for day := 2026001; day <= 2026020; day++ {
		b.Set(day, Signals{Clicks: 1})
	}

	if b.Len() != SignalWindowDays {
		t.Fatalf("Len() = %d, want %d", b.Len(), SignalWindowDays)
	}

	// the first six inserted days are gone, the rest survive
	for day := 2026001; day <= 2026006; day++ {
		if _, ok := b.Get(day); ok {
			t.Errorf("day %d still present, want evicted", day)
		}
	}
	for day := 2026007; day <= 2026020; day++ {
		if _, ok := b.Get(day); !ok {
			t.Errorf("day %d missing, want retained", day)
		}
	}
}

func TestDayBufferEvictsByInsertionOrder(t *testing.T) {
	b := NewDayBuffer(2)
	b.Set(2026010, Signals{Clicks: 1})
	b.Set(2026005, Signals{Clicks: 2})
	b.Set(2026020, Signals{Clicks: 3})

	// 2026010 was inserted first, so it goes even though 2026005 is older
	if _, ok := b.Get(2026010); ok {
		t.Error("first-inserted day retained, want evicted")
	}
	if _, ok := b.Get(2026005); !ok {
		t.Error("chronologically-oldest day evicted, want retained")
	}
}

func TestDayBufferUpdateDoesNotGrow(t *testing.T) {
	b := NewDayBuffer(3)
	b.Set(2026001, Signals{Clicks: 1})
	b.Set(2026001, Signals{Clicks: 2})
	if b.Len() != 1 {
		t.Errorf("Len() = %d after updating one day twice, want 1", b.Len())
	}
	s, _ := b.Get(2026001)
	if s.Clicks != 2 {
		t.Errorf("Clicks = %d, want 2", s.Clicks)
	}
}

func TestDayBufferAggregatedScore(t *testing.T) {
	var agg CTRAggregator

	t.Run("empty buffer scores the starter value", func(t *testing.T) {
		b := NewDayBuffer(SignalWindowDays)
		if got := b.AggregatedScore(&agg, 0.001); got != 0.001 {
			t.Errorf("AggregatedScore = %f, want starter 0.001", got)
		}
	})

	t.Run("aggregates across retained days", func(t *testing.T) {
		b := NewDayBuffer(SignalWindowDays)
		b.Set(2026001, Signals{Clicks: 2, Impressions: 4})
		b.Set(2026002, Signals{Clicks: 1, Impressions: 2})
		if got := b.AggregatedScore(&agg, 0.001); got != 0.5 {
			t.Errorf("AggregatedScore = %f, want 0.5", got)
		}
	})

	t.Run("memoized until next write", func(t *testing.T) {
		b := NewDayBuffer(SignalWindowDays)
		b.Set(2026001, Signals{Clicks: 1, Impressions: 1})
		first := b.AggregatedScore(&agg, 0.001)
		if second := b.AggregatedScore(&agg, 0.001); second != first {
			t.Errorf("repeated call = %f, want memoized %f", second, first)
		}
		b.Set(2026001, Signals{Clicks: 1, Impressions: 2})
		if got := b.AggregatedScore(&agg, 0.001); got != 0.5 {
			t.Errorf("after write = %f, want recomputed 0.5", got)
		}
	})
}

func TestCTRAggregator(t *testing.T) {
	tests := []struct {
		name string
		days []Signals
		want float64
	}{
		{"no impressions", []Signals{{Clicks: 3}}, 0},
		{"perfect ctr", []Signals{{Clicks: 2, Impressions: 2}}, 1},
		{"summed across days", []Signals{{Clicks: 1, Impressions: 4}, {Clicks: 1, Impressions: 4}}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var agg CTRAggregator
			agg.Reset()
			for i, s := range tt.days {
				agg.Add(2026001+i, s)
			}
			if got := agg.Score(); got != tt.want {
				t.Errorf("Score() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSumAggregator(t *testing.T) {
	var agg SumAggregator
	agg.Reset()
	agg.Add(2026001, Signals{Clicks: 2, Impressions: 10})
	agg.Add(2026002, Signals{Clicks: 3, Impressions: 20})
	if got := agg.Score(); got != 5 {
		t.Errorf("Score() = %f, want 5 (impressions do not count)", got)
	}
}

func TestNormalizer(t *testing.T) {
	t.Run("zero sum returns zero for any value", func(t *testing.T) {
		var n Normalizer
		if got := n.GetNormalizedValue(42); got != 0 {
			t.Errorf("GetNormalizedValue(42) = %f, want 0", got)
		}
	})

	t.Run("normalized values sum to one", func(t *testing.T) {
		var n Normalizer
		values := []float64{0.2, 0.3, 0.5, 1.0}
		for _, v := range values {
			n.AddNormalizeableValue(v)
		}
		var sum float64
		for _, v := range values {
			sum += n.GetNormalizedValue(v)
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("sum of normalized values = %f, want 1.0", sum)
		}
	})

	t.Run("reset zeroes the pool", func(t *testing.T) {
		var n Normalizer
		n.AddNormalizeableValue(2)
		n.Reset()
		if got := n.GetNormalizedValue(1); got != 0 {
			t.Errorf("GetNormalizedValue after Reset = %f, want 0", got)
		}
	})
}
