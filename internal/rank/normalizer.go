// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

// Normalizer converts raw aggregate scores into 0..1 values relative to the
// sum of all scores added for the current scoring pass.
//
// Callers must Reset and repopulate once per pass; a stale sum silently
// produces wrong normalization. The Ranker does this in PrepNormalization.
type Normalizer struct {
	sum float64
}

// AddNormalizeableValue adds a raw score to the running sum.
func (n *Normalizer) AddNormalizeableValue(v float64) { n.sum += v }

// GetNormalizedValue returns v divided by the accumulated sum, or 0 when
// nothing has been added.
func (n *Normalizer) GetNormalizedValue(v float64) float64 {
	if n.sum == 0 {
		return 0
	}
	return v / n.sum
}

// Reset zeroes the running sum.
func (n *Normalizer) Reset() { n.sum = 0 }
