// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import "sync"

// usageWindowsDays are the lookback windows blended into the usage score.
// Opens inside a shorter window count toward every longer one, so recent
// activity dominates.
var usageWindowsDays = []int64{1, 7, 30}

const usageCacheTTLMillis = 30 * 60 * 1000

// usageStats derives per-source usage scores from the sources' own open
// history. Results are cached for a short period since open timestamps
// change far less often than scoring passes run.
type usageStats struct {
	mu         sync.Mutex
	scores     map[string]float64
	computedAt int64
	excluded   map[string]struct{}
}

func newUsageStats(excludedKeys []string) *usageStats {
	excluded := make(map[string]struct{}, len(excludedKeys))
	for _, k := range excludedKeys {
		excluded[k] = struct{}{}
	}
	return &usageStats{excluded: excluded}
}

// Score returns the normalized usage score for a source, recomputing the
// histogram from the given entities when the cache has expired.
func (u *usageStats) Score(key string, entities map[string]*Entity) float64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := nowMillis()
	if u.scores == nil || now-u.computedAt > usageCacheTTLMillis {
		u.scores = u.compute(now, entities)
		u.computedAt = now
	}
	return u.scores[key]
}

// Invalidate drops the cached histogram so the next Score recomputes.
func (u *usageStats) Invalidate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.scores = nil
}

func (u *usageStats) compute(now int64, entities map[string]*Entity) map[string]float64 {
	counts := make(map[string]float64, len(entities))
	var sum float64
	for key, e := range entities {
		if _, skip := u.excluded[key]; skip {
			continue
		}
		var weight float64
		for _, component := range e.Components() {
			opened := e.LastOpened(component)
			if opened == 0 {
				continue
			}
			age := now - opened
			for _, days := range usageWindowsDays {
				if age <= days*int64(millisPerDay) {
					weight += 1.0 / float64(days)
				}
			}
		}
		if weight > 0 {
			counts[key] = weight
			sum += weight
		}
	}

	scores := make(map[string]float64, len(counts))
	if sum == 0 {
		return scores
	}
	for key, w := range counts {
		scores[key] = w / sum
	}
	return scores
}
