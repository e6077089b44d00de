// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import (
	"fmt"
	"sync"
	"testing"
)

// fakeStore records persistence calls and serves as both the Entity-level
// Persister and the Ranker-level Store in tests.
type fakeStore struct {
	mu            sync.Mutex
	saved         []EntitySnapshot
	removed       []string
	removedFull   map[string]bool
	removedGroups []string // "key/group"
	mostRecent    int64
	initApplied   bool
	blacklist     []string

	loadCb func(map[string]*Entity, []string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{removedFull: make(map[string]bool)}
}

func (s *fakeStore) SaveEntity(snap EntitySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
}

func (s *fakeStore) RemoveEntity(key string, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, key)
	s.removedFull[key] = full
}

func (s *fakeStore) RemoveGroupData(key, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedGroups = append(s.removedGroups, key+"/"+group)
}

func (s *fakeStore) MostRecentTimestamp() int64 { return s.mostRecent }

func (s *fakeStore) InitialRankingApplied() bool { return s.initApplied }

func (s *fakeStore) SetInitialRankingApplied(applied bool) { s.initApplied = applied }

func (s *fakeStore) LoadEntities(cb func(map[string]*Entity, []string)) {
	s.loadCb = cb
}

func (s *fakeStore) SaveBlacklist(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = append([]string(nil), keys...)
	return nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// stubNow pins the package clock and returns a restore func.
func stubNow(ms int64) func() {
	prev := nowMillis
	nowMillis = func() int64 { return ms }
	return func() { nowMillis = prev }
}

func TestEntityInstallBonus(t *testing.T) {
	defer stubNow(1_000_000)()
	store := newFakeStore()
	e := NewEntity(store, DefaultParams(), "app.a")

	e.OnAction(ActionInstall, "", "")
	if got := e.Bonus(); got != DefaultInstallBonus {
		t.Fatalf("Bonus after install = %f, want %f", got, DefaultInstallBonus)
	}
	if e.LastOpened("") == 0 {
		t.Error("install did not stamp last-opened")
	}

	// already opened: no second bonus
	e.OnAction(ActionInstall, "", "")
	if got := e.Bonus(); got != DefaultInstallBonus {
		t.Errorf("Bonus after repeat install = %f, want unchanged %f", got, DefaultInstallBonus)
	}
}

func TestEntityUninstallClearsState(t *testing.T) {
	defer stubNow(1_000_000)()
	store := newFakeStore()
	e := NewEntity(store, DefaultParams(), "app.a")

	e.OnAction(ActionInstall, "", "")
	e.OnAction(ActionClick, "", "g")
	e.OnAction(ActionUninstall, "", "")

	if e.Bonus() != 0 || e.BonusTimestamp() != 0 {
		t.Error("uninstall did not zero the bonus")
	}
	if e.LastOpened("") != 0 {
		t.Error("uninstall did not clear open timestamps")
	}
	if len(e.GroupIDs()) != 0 {
		t.Errorf("uninstall left %d groups, want 0", len(e.GroupIDs()))
	}
}

func TestEntityClockCorrection(t *testing.T) {
	defer stubNow(1_000_000)()
	store := newFakeStore()
	store.mostRecent = 5_000_000 // persisted timestamp ahead of the clock
	e := NewEntity(store, DefaultParams(), "app.a")

	e.OnAction(ActionOpen, "", "")
	if got := e.LastOpened(""); got != 5_000_001 {
		t.Errorf("LastOpened = %d, want mostRecent+1 = 5000001", got)
	}
}

func TestEntityOrderFallback(t *testing.T) {
	e := NewSeededEntity(newFakeStore(), DefaultParams(), "app.a", 7, false)

	if got := e.Order("comp"); got != 7 {
		t.Errorf("Order(comp) = %d, want whole-entity fallback 7", got)
	}
	// fallback only applies while the whole-entity order is the sole entry
	e.SetOrder("other", 3)
	if got := e.Order("third"); got != 0 {
		t.Errorf("Order(third) = %d, want 0 once multiple orders exist", got)
	}
}

func TestEntityClickImpressionSignals(t *testing.T) {
	defer stubNow(1_700_000_000_000)()
	store := newFakeStore()
	e := NewEntity(store, DefaultParams(), "app.a")

	e.OnAction(ActionClick, "", "g")
	e.OnAction(ActionImpression, "", "g")
	e.OnAction(ActionImpression, "", "g")

	day := DayOfMillis(nowMillis())
	s, ok := e.Buffer("g").Get(day)
	if !ok {
		t.Fatal("no signals recorded for today")
	}
	if s.Clicks != 1 || s.Impressions != 2 {
		t.Errorf("signals = %+v, want {Clicks:1 Impressions:2}", s)
	}
}

func TestEntityBucketCap(t *testing.T) {
	defer stubNow(1_000_000)()
	store := newFakeStore()
	e := NewEntity(store, DefaultParams(), "app.a")

	for i := 0; i < MaxBuckets+1; i++ {
		e.AddBucket(fmt.Sprintf("g%03d", i), int64(i))
	}

	groups := e.GroupIDs()
	if len(groups) != MaxBuckets {
		t.Fatalf("group count = %d, want %d", len(groups), MaxBuckets)
	}
	if groups[0] != "g001" {
		t.Errorf("least-recently-touched group = %q, want g001 after g000 evicted", groups[0])
	}
	if len(store.removedGroups) != 1 || store.removedGroups[0] != "app.a/g000" {
		t.Errorf("removed groups = %v, want exactly [app.a/g000]", store.removedGroups)
	}
}

func TestEntityBucketTouchReorders(t *testing.T) {
	defer stubNow(1_000_000)()
	e := NewEntity(newFakeStore(), DefaultParams(), "app.a")

	e.AddBucket("g1", 1)
	e.AddBucket("g2", 2)
	e.OnAction(ActionClick, "", "g1") // g1 becomes most recently touched

	groups := e.GroupIDs()
	if len(groups) != 2 || groups[1] != "g1" {
		t.Errorf("GroupIDs = %v, want g1 last", groups)
	}
}

func TestEntityAmortizedBonus(t *testing.T) {
	store := newFakeStore()
	params := DefaultParams()
	fadeMs := int64(params.BonusFadePeriodDays() * millisPerDay)

	t.Run("fades linearly and hits zero at the fade period", func(t *testing.T) {
		restore := stubNow(1_000_000)
		e := NewEntity(store, params, "app.a")
		e.SetBonus(0.4, 1_000_000)
		restore()

		defer stubNow(1_000_000 + fadeMs/2)()
		mid := e.AmortizedBonus()
		if mid < 0.199 || mid > 0.201 {
			t.Errorf("bonus at half fade = %f, want ~0.2", mid)
		}

		nowMillis = func() int64 { return 1_000_000 + fadeMs }
		if got := e.AmortizedBonus(); got != 0 {
			t.Errorf("bonus at full fade = %f, want 0", got)
		}
	})

	t.Run("never set means zero", func(t *testing.T) {
		defer stubNow(1_000_000)()
		e := NewEntity(store, params, "app.b")
		if got := e.AmortizedBonus(); got != 0 {
			t.Errorf("AmortizedBonus = %f, want 0", got)
		}
	})

	t.Run("far-future timestamp is rejected on restore", func(t *testing.T) {
		defer stubNow(1_000_000)()
		e := NewEntity(store, params, "app.c")
		e.SetBonus(0.4, 1_000_000+fadeMs)
		if e.Bonus() != 0 || e.BonusTimestamp() != 0 {
			t.Error("corrupt future bonus timestamp accepted, want dropped")
		}
	})
}

func TestEntityCTRNormalized(t *testing.T) {
	defer stubNow(1_700_000_000_000)()
	e := NewEntity(newFakeStore(), DefaultParams(), "app.a")

	e.OnAction(ActionImpression, "", "g")
	e.OnAction(ActionClick, "", "g")

	var n Normalizer
	e.AddNormalizeableValues(&n)
	if got := e.CTR(&n, "g"); got != 1.0 {
		t.Errorf("CTR with self-populated normalizer = %f, want 1.0", got)
	}
	if got := e.CTR(&n, "unknown"); got != 0 {
		t.Errorf("CTR for unknown group = %f, want 0", got)
	}
}

func TestEntitySnapshot(t *testing.T) {
	defer stubNow(1_700_000_000_000)()
	e := NewSeededEntity(newFakeStore(), DefaultParams(), "app.a", 3, true)
	e.OnAction(ActionClick, "", "g")
	e.SetLastOpened("comp", 42)
	e.SetOrder("comp", 9)

	snap := e.Snapshot()
	if snap.Key != "app.a" || !snap.HasPosted {
		t.Errorf("snapshot identity = %q/%v, want app.a/true", snap.Key, snap.HasPosted)
	}
	if len(snap.Groups) != 1 || snap.Groups[0].ID != "g" || len(snap.Groups[0].Days) != 1 {
		t.Errorf("snapshot groups = %+v, want one group g with one day", snap.Groups)
	}

	var sawComp, sawEntity bool
	for _, sc := range snap.Scores {
		switch sc.Component {
		case "comp":
			sawComp = sc.Order == 9 && sc.LastOpened == 42
		case "":
			sawEntity = sc.Order == 3
		}
	}
	if !sawComp || !sawEntity {
		t.Errorf("snapshot scores = %+v, want component and whole-entity rows", snap.Scores)
	}
}
