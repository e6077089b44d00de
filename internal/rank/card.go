// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import "strconv"

// ScoreUnset marks a score slot whose value has not been computed yet.
const ScoreUnset = -100.0

// Card is the ranker's view of a recommendation: the fields that feed the
// combined score plus the identity needed to place it in a row.
type Card struct {
	// SourceKey identifies the posting source (its package name).
	SourceKey string

	// Component is the source-local component the card belongs to.
	Component string

	// Group is the engagement bucket group the card counts toward.
	Group string

	// Title perturbs the combined score so equal-scoring cards from the
	// same source interleave deterministically.
	Title string

	// SortKey is the source-supplied sort hint, parsed as a float in
	// [0,1]. Empty means "no opinion".
	SortKey string

	// Priority backs the sort key when SortKey fails to parse.
	Priority int

	// memoized score slots, ScoreUnset until computed
	baseScore float64
	ctr       float64
	adjusted  float64
}

// NewCard builds a card with all score slots unset.
func NewCard(sourceKey, component, group, title, sortKey string, priority int) *Card {
	return &Card{
		SourceKey: sourceKey,
		Component: component,
		Group:     group,
		Title:     title,
		SortKey:   sortKey,
		Priority:  priority,
		baseScore: ScoreUnset,
		ctr:       ScoreUnset,
		adjusted:  ScoreUnset,
	}
}

// RawScore maps the source-supplied sort hint into [0,1]. An empty sort
// key yields the neutral 0.5; an unparseable one falls back to a priority
// bucket.
func (c *Card) RawScore() float64 {
	if c.SortKey == "" {
		return 0.5
	}
	v, err := strconv.ParseFloat(c.SortKey, 64)
	if err != nil {
		return float64(c.Priority+2) / 4.0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BaseScore returns the memoized combined score, or ScoreUnset.
func (c *Card) BaseScore() float64 { return c.baseScore }

// SetBaseScore stores the combined score.
func (c *Card) SetBaseScore(s float64) { c.baseScore = s }

// CachedCTR returns the memoized normalized CTR, or ScoreUnset.
func (c *Card) CachedCTR() float64 { return c.ctr }

// SetCachedCTR stores the normalized CTR used for the combined score.
func (c *Card) SetCachedCTR(v float64) { c.ctr = v }

// AdjustedScore returns the memoized position-adjusted score, or ScoreUnset.
func (c *Card) AdjustedScore() float64 { return c.adjusted }

// SetAdjustedScore stores the position-adjusted score.
func (c *Card) SetAdjustedScore(s float64) { c.adjusted = s }

// InvalidateAdjusted clears the position-adjusted slot so the next
// placement recomputes it.
func (c *Card) InvalidateAdjusted() { c.adjusted = ScoreUnset }
