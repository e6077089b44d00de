// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import (
	"math"
	"testing"
)

func TestCardRawScore(t *testing.T) {
	tests := []struct {
		name     string
		sortKey  string
		priority int
		want     float64
	}{
		{"empty sort key is neutral", "", 2, 0.5},
		{"parsed in range", "0.75", 0, 0.75},
		{"parsed above range clamps", "3.5", 0, 1},
		{"parsed below range clamps", "-1", 0, 0},
		{"unparseable falls back to priority", "urgent", 2, 1},
		{"unparseable low priority", "urgent", -2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCard("app.a", "", "g", "Title", tt.sortKey, tt.priority)
			if got := c.RawScore(); got != tt.want {
				t.Errorf("RawScore() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestTitlePerturbation(t *testing.T) {
	if got := titlePerturbation(""); got != 0 {
		t.Errorf("empty title perturbation = %f, want 0", got)
	}
	a := titlePerturbation("The Expanse")
	b := titlePerturbation("The Expanse")
	if a != b {
		t.Error("perturbation is not deterministic for equal titles")
	}
	if a < 0 || a >= 1 {
		t.Errorf("perturbation = %f, want within [0, 1)", a)
	}
	if titlePerturbation("A") == titlePerturbation("B") {
		t.Error("distinct titles should perturb differently")
	}
}

// loadedRanker builds a ranker and completes its bulk load synchronously.
func loadedRanker(t *testing.T, store *fakeStore, entities map[string]*Entity, blacklist []string) *Ranker {
	t.Helper()
	store.initApplied = true
	r := NewRanker(store, DefaultParams(), nil, nil, nil)
	if store.loadCb == nil {
		t.Fatal("ranker did not request the bulk load")
	}
	if entities == nil {
		entities = make(map[string]*Entity)
	}
	store.loadCb(entities, blacklist)
	return r
}

func TestRankerQueuesActionsUntilLoaded(t *testing.T) {
	defer stubNow(1_700_000_000_000)()
	store := newFakeStore()
	store.initApplied = true
	r := NewRanker(store, DefaultParams(), nil, nil, nil)

	r.OnOpenRecommendation("app.a", "g")
	r.OnSourceAdded("app.b")
	if store.savedCount() != 0 {
		t.Fatalf("saves before load completed = %d, want 0", store.savedCount())
	}
	if r.Ready() {
		t.Fatal("Ready() = true before load completed")
	}

	store.loadCb(make(map[string]*Entity), nil)

	if !r.Ready() {
		t.Error("Ready() = false after load completed")
	}
	if store.savedCount() != 2 {
		t.Errorf("saves after replay = %d, want 2", store.savedCount())
	}
	day := DayOfMillis(nowMillis())
	if _, ok := r.entities["app.a"].Buffer("g").Get(day); !ok {
		t.Error("queued click was not replayed into the entity")
	}
}

func TestRankerReadyListeners(t *testing.T) {
	store := newFakeStore()
	store.initApplied = true
	r := NewRanker(store, DefaultParams(), nil, nil, nil)

	fired := 0
	r.AddListener(func() { fired++ })
	store.loadCb(make(map[string]*Entity), nil)
	if fired != 1 {
		t.Errorf("listener fired %d times, want 1", fired)
	}
}

func TestRankerRemoveSemantics(t *testing.T) {
	defer stubNow(1_000_000)()

	t.Run("unknown source removes fully", func(t *testing.T) {
		store := newFakeStore()
		r := loadedRanker(t, store, nil, nil)
		r.OnSourceRemoved("app.gone")
		if !store.removedFull["app.gone"] {
			t.Error("unknown source removal was not a full removal")
		}
	})

	t.Run("ranked source removes partially", func(t *testing.T) {
		store := newFakeStore()
		seeded := NewSeededEntity(store, DefaultParams(), "app.a", 4, true)
		r := loadedRanker(t, store, map[string]*Entity{"app.a": seeded}, nil)
		r.OnSourceRemoved("app.a")
		if full, ok := store.removedFull["app.a"]; !ok || full {
			t.Errorf("removal (present=%v full=%v), want partial removal", ok, full)
		}
		if _, ok := r.entities["app.a"]; !ok {
			t.Error("partially removed entity dropped from memory, want kept")
		}
	})

	t.Run("unranked source is untouched", func(t *testing.T) {
		store := newFakeStore()
		plain := NewEntity(store, DefaultParams(), "app.b")
		r := loadedRanker(t, store, map[string]*Entity{"app.b": plain}, nil)
		r.OnSourceRemoved("app.b")
		if len(store.removed) != 0 {
			t.Errorf("removals = %v, want none for zero-order entity", store.removed)
		}
	})
}

func TestRankerBaseScore(t *testing.T) {
	defer stubNow(1_700_000_000_000)()

	t.Run("unknown source scores the unset sentinel", func(t *testing.T) {
		r := loadedRanker(t, newFakeStore(), nil, nil)
		c := NewCard("app.unknown", "", "g", "Title", "", 0)
		if got := r.BaseScore(c); got != ScoreUnset {
			t.Errorf("BaseScore = %f, want %f", got, ScoreUnset)
		}
	})

	t.Run("known source scores inside the open unit interval", func(t *testing.T) {
		store := newFakeStore()
		e := NewEntity(store, DefaultParams(), "app.a")
		r := loadedRanker(t, store, map[string]*Entity{"app.a": e}, nil)
		r.OnOpenRecommendation("app.a", "g")
		r.OnRecommendationImpression("app.a", "g")
		r.PrepNormalization()

		c := NewCard("app.a", "", "g", "Title", "0.8", 0)
		got := r.BaseScore(c)
		if got <= -1 || got >= 1 {
			t.Errorf("BaseScore = %f, want within (-1, 1)", got)
		}
		if c.BaseScore() != got {
			t.Error("base score was not memoized on the card")
		}
	})

	t.Run("memoized score is returned verbatim", func(t *testing.T) {
		r := loadedRanker(t, newFakeStore(), nil, nil)
		c := NewCard("app.unknown", "", "g", "Title", "", 0)
		c.SetBaseScore(0.33)
		if got := r.BaseScore(c); got != 0.33 {
			t.Errorf("BaseScore = %f, want memoized 0.33", got)
		}
	})
}

func TestRankerAdjustedScore(t *testing.T) {
	r := loadedRanker(t, newFakeStore(), nil, nil)

	tests := []struct {
		name       string
		base       float64
		position   int
		forceFirst bool
		want       float64
	}{
		{"force first pins above everything", 0.5, 0, true, 1.5},
		{"position zero is undecayed", 0.5, 0, false, 0.5},
		{"position decays by spread factor", 0.5, 1, false, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCard("app.a", "", "g", "Title", "", 0)
			c.SetBaseScore(tt.base)
			got := r.AdjustedScore(c, tt.position, tt.forceFirst)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AdjustedScore = %f, want %f", got, tt.want)
			}
			if c.AdjustedScore() != got {
				t.Error("adjusted score was not memoized on the card")
			}
		})
	}
}

func TestRankerRescoreShiftsFollowingPositions(t *testing.T) {
	r := loadedRanker(t, newFakeStore(), nil, nil)
	c := NewCard("app.a", "", "g", "Title", "", 0)
	c.SetBaseScore(0.5)

	atTwo := r.AdjustedScore(c, 2, false)
	c.InvalidateAdjusted()
	atThree := r.AdjustedScore(c, 3, false)
	if atThree >= atTwo {
		t.Errorf("score at position 3 (%f) not below position 2 (%f)", atThree, atTwo)
	}
}

func TestRankerBlacklist(t *testing.T) {
	store := newFakeStore()
	r := loadedRanker(t, store, nil, []string{"app.spam"})

	if !r.IsBlacklisted("app.spam") {
		t.Error("loaded blacklist entry not reported")
	}
	if r.IsBlacklisted("app.ok") {
		t.Error("unlisted key reported as blacklisted")
	}

	if err := r.SetBlacklist([]string{"app.other"}); err != nil {
		t.Fatalf("SetBlacklist: %v", err)
	}
	if r.IsBlacklisted("app.spam") || !r.IsBlacklisted("app.other") {
		t.Error("SetBlacklist did not replace the list")
	}
	if len(store.blacklist) != 1 || store.blacklist[0] != "app.other" {
		t.Errorf("persisted blacklist = %v, want [app.other]", store.blacklist)
	}
}

func TestRankerMarkPostedRecommendations(t *testing.T) {
	store := newFakeStore()
	r := loadedRanker(t, store, nil, nil)

	r.MarkPostedRecommendations("app.a")
	r.MarkPostedRecommendations("app.a") // second call is a no-op
	if store.savedCount() != 1 {
		t.Errorf("saves = %d, want 1", store.savedCount())
	}

	sources := r.SourcesWithRecommendations()
	if len(sources) != 1 || sources[0] != "app.a" {
		t.Errorf("SourcesWithRecommendations = %v, want [app.a]", sources)
	}
}

func TestRankerOutOfBoxSeeding(t *testing.T) {
	defer stubNow(1_700_000_000_000)()
	partner := []string{"p0", "p1", "p2"}
	defaults := []string{"d0", "d1"}

	store := newFakeStore()
	existing := NewEntity(store, DefaultParams(), "p1")
	r := NewRanker(store, DefaultParams(), defaults, partner, nil)
	store.loadCb(map[string]*Entity{"p1": existing}, nil)

	wantOrders := map[string]int64{"p0": 5, "p2": 3, "d0": 2, "d1": 1}
	totalRanks := 15.0 // sum of ranks 1..5
	for key, want := range wantOrders {
		e, ok := r.entities[key]
		if !ok {
			t.Fatalf("seeded entity %q missing", key)
		}
		if got := e.Order(""); got != want {
			t.Errorf("order[%q] = %d, want %d", key, got, want)
		}
		wantBonus := DefaultOutOfBoxBonus * float64(want) / totalRanks
		if got := e.Bonus(); math.Abs(got-wantBonus) > 1e-12 {
			t.Errorf("bonus[%q] = %g, want %g", key, got, wantBonus)
		}
		if !e.HasPostedRecommendations() {
			t.Errorf("seeded entity %q not marked as having posted", key)
		}
	}

	if r.entities["p1"] != existing {
		t.Error("seeding replaced an existing entity")
	}
	if got := existing.Order(""); got != 0 {
		t.Errorf("existing entity order = %d, want untouched 0", got)
	}
	if !store.initApplied {
		t.Error("seeding did not set the applied flag")
	}

	t.Run("never reapplied once flagged", func(t *testing.T) {
		r.Reload()
		store.loadCb(make(map[string]*Entity), nil)
		if _, ok := r.entities["p0"]; ok {
			t.Error("seeding reapplied after reload with flag set")
		}
	})
}
