// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import "sync"

// MaxBuckets is the maximum number of group buckets an Entity retains.
// Inserting beyond the cap evicts the least-recently-touched group and
// purges its persisted rows.
const MaxBuckets = 100

// Action is an engagement event applied to an Entity.
type Action int

// Entity actions. The values double as the wire/persistence encoding and
// must not be reordered.
const (
	ActionInstall Action = iota
	ActionOpen
	ActionClick
	ActionUninstall
	ActionImpression
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case ActionInstall:
		return "install"
	case ActionOpen:
		return "open"
	case ActionClick:
		return "click"
	case ActionUninstall:
		return "uninstall"
	case ActionImpression:
		return "impression"
	default:
		return "unknown"
	}
}

// Persister is the write-behind persistence boundary used by the ranking
// core. Implementations must not block: Save and Remove calls are queued
// and applied asynchronously, and failures are logged, not returned.
type Persister interface {
	// SaveEntity persists an entity snapshot.
	SaveEntity(snap EntitySnapshot)

	// RemoveEntity removes an entity's rows. A full removal deletes the
	// entity row itself; a partial removal only zeroes its bonus.
	RemoveEntity(key string, full bool)

	// RemoveGroupData purges one group's bucket and day rows.
	RemoveGroupData(key, group string)

	// MostRecentTimestamp returns the largest last-opened timestamp ever
	// persisted, used to keep event times monotonic across restarts.
	MostRecentTimestamp() int64

	// InitialRankingApplied reports whether out-of-box seeding already ran.
	InitialRankingApplied() bool

	// SetInitialRankingApplied records the one-shot seeding marker.
	SetInitialRankingApplied(applied bool)
}

// ComponentScore is one component's persisted rank order and open time.
type ComponentScore struct {
	Component  string
	Order      int64
	LastOpened int64
}

// GroupSnapshot is one group bucket's persisted form.
type GroupSnapshot struct {
	ID          string
	LastUpdated int64
	Days        []DaySignals
}

// EntitySnapshot is an immutable copy of an Entity's persistent state,
// taken under the entity lock so the write-behind worker never races the
// live object.
type EntitySnapshot struct {
	Key            string
	Bonus          float64
	BonusTimestamp int64
	HasPosted      bool
	Scores         []ComponentScore
	Groups         []GroupSnapshot
}

// Entity carries all ranking state for one content source, identified by
// an immutable key (the source's package name). At most one Entity exists
// per key while the engine is loaded; the Ranker enforces that.
//
// The empty component "" denotes the whole entity.
type Entity struct {
	key    string
	store  Persister
	params Params

	mu         sync.Mutex
	lastOpened map[string]int64
	rankOrder  map[string]int64
	bonus      float64
	bonusTime  int64
	hasPosted  bool

	// buckets is kept in touch order: index 0 is least recently touched.
	buckets   []*Bucket
	bucketIdx map[string]*Bucket

	ctrAgg CTRAggregator
}

// NewEntity creates an entity with a zero initial rank order.
func NewEntity(store Persister, params Params, key string) *Entity {
	return NewSeededEntity(store, params, key, 0, false)
}

// NewSeededEntity creates an entity with an explicit initial rank order,
// used by out-of-box seeding and by the bulk load.
func NewSeededEntity(store Persister, params Params, key string, initialOrder int64, hasPosted bool) *Entity {
	return &Entity{
		key:        key,
		store:      store,
		params:     params,
		lastOpened: make(map[string]int64),
		rankOrder:  map[string]int64{"": initialOrder},
		hasPosted:  hasPosted,
		bucketIdx:  make(map[string]*Bucket),
	}
}

// Key returns the entity's immutable source key.
func (e *Entity) Key() string { return e.key }

// LastOpened returns the open timestamp for a component, falling back to
// the whole-entity timestamp, then 0.
func (e *Entity) LastOpened(component string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOpenedLocked(component)
}

func (e *Entity) lastOpenedLocked(component string) int64 {
	if ts, ok := e.lastOpened[component]; ok {
		return ts
	}
	return e.lastOpened[""]
}

// SetLastOpened stamps a component's open timestamp. Used by the bulk load.
func (e *Entity) SetLastOpened(component string, ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastOpened[component] = ts
}

// Order returns a component's rank order. When the component has no order
// of its own and the whole-entity order is the only entry, that order is
// adopted for the component.
func (e *Entity) Order(component string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.rankOrder[component]
	if (!ok || order == 0) && len(e.rankOrder) == 1 {
		order = e.rankOrder[""]
		e.rankOrder[component] = order
	}
	return order
}

// SetOrder assigns a component's rank order.
func (e *Entity) SetOrder(component string, order int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rankOrder[component] = order
}

// Components returns every component with a rank order, including the
// whole-entity component "".
func (e *Entity) Components() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.rankOrder))
	for c := range e.rankOrder {
		out = append(out, c)
	}
	return out
}

// HasPostedRecommendations reports whether this source ever posted a card.
func (e *Entity) HasPostedRecommendations() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasPosted
}

// MarkPostedRecommendations records that this source posted a card.
func (e *Entity) MarkPostedRecommendations() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasPosted = true
}

// Bonus returns the raw, un-amortized bonus value.
func (e *Entity) Bonus() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bonus
}

// BonusTimestamp returns the time the bonus was last granted.
func (e *Entity) BonusTimestamp() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bonusTime
}

// SetBonus restores a persisted bonus. A timestamp at least one fade
// period in the future is treated as corrupt and the bonus is dropped.
func (e *Entity) SetBonus(bonus float64, timestamp int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if float64(timestamp-nowMillis()) >= bonusFadePeriodMillis(e.params) {
		e.bonus = 0
		e.bonusTime = 0
		return
	}
	e.bonus = bonus
	e.bonusTime = timestamp
}

// AmortizedBonus returns the bonus faded linearly since it was granted:
// bonus * max(0, 1 - elapsed/fadePeriod). Zero once the fade period has
// fully elapsed or when no bonus was ever set.
func (e *Entity) AmortizedBonus() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.amortizedBonusLocked()
}

func (e *Entity) amortizedBonusLocked() float64 {
	if e.bonusTime == 0 && e.bonus == 0 {
		return 0
	}
	factor := 1.0 - float64(nowMillis()-e.bonusTime)/bonusFadePeriodMillis(e.params)
	if factor < 0 {
		return 0
	}
	return e.bonus * factor
}

func (e *Entity) addBonusValueLocked(bonus float64) {
	e.bonus = e.amortizedBonusLocked() + bonus
	e.bonusTime = nowMillis()
}

// OnAction applies one engagement event to the entity. Event time is
// corrected to stay monotonic relative to previously persisted timestamps:
// if the store has seen a timestamp at or past "now", the event is stamped
// one millisecond after it.
func (e *Entity) OnAction(action Action, component, group string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := nowMillis()
	eventTime := now
	if e.store != nil {
		if recent := e.store.MostRecentTimestamp(); recent >= eventTime {
			eventTime = recent + 1
		}
	}

	switch action {
	case ActionInstall:
		if e.lastOpenedLocked(component) == 0 {
			e.addBonusValueLocked(e.params.InstallBonus())
			e.lastOpened[component] = eventTime
		}
	case ActionOpen:
		e.lastOpened[component] = eventTime
	case ActionUninstall:
		e.lastOpened = make(map[string]int64)
		e.bonus = 0
		e.bonusTime = 0
		e.buckets = nil
		e.bucketIdx = make(map[string]*Bucket)
	case ActionClick, ActionImpression:
		bucket := e.getOrAddBucketLocked(group)
		day := DayOfMillis(now)
		s, _ := bucket.buffer.Get(day)
		if action == ActionClick {
			s.Clicks++
		} else {
			s.Impressions++
		}
		bucket.buffer.Set(day, s)
		e.touchBucketLocked(group)
	}
}

// AddBucket returns the bucket for a group, creating it if needed. An
// existing bucket is re-stamped and moved to the most-recently-touched
// position. Creating beyond MaxBuckets evicts the least-recently-touched
// group and asks the store to purge its rows.
func (e *Entity) AddBucket(group string, timestamp int64) *Bucket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addBucketLocked(group, timestamp)
}

func (e *Entity) addBucketLocked(group string, timestamp int64) *Bucket {
	if b, ok := e.bucketIdx[group]; ok {
		b.lastUpdated = timestamp
		e.moveToBackLocked(group, b)
		return b
	}

	if len(e.buckets) >= MaxBuckets {
		evicted := e.buckets[0]
		e.buckets = e.buckets[1:]
		delete(e.bucketIdx, evicted.group)
		if e.store != nil {
			e.store.RemoveGroupData(e.key, evicted.group)
		}
	}

	b := NewBucket(group, timestamp)
	e.buckets = append(e.buckets, b)
	e.bucketIdx[group] = b
	return b
}

func (e *Entity) getOrAddBucketLocked(group string) *Bucket {
	if b, ok := e.bucketIdx[group]; ok {
		return b
	}
	return e.addBucketLocked(group, nowMillis())
}

func (e *Entity) touchBucketLocked(group string) {
	b, ok := e.bucketIdx[group]
	if !ok {
		return
	}
	b.touch()
	e.moveToBackLocked(group, b)
}

func (e *Entity) moveToBackLocked(group string, b *Bucket) {
	for i, existing := range e.buckets {
		if existing.group == group {
			e.buckets = append(e.buckets[:i], e.buckets[i+1:]...)
			break
		}
	}
	e.buckets = append(e.buckets, b)
}

// GroupIDs returns the held group ids in touch order, least recent first.
func (e *Entity) GroupIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.buckets))
	for _, b := range e.buckets {
		out = append(out, b.group)
	}
	return out
}

// GroupTimestamp returns a group's last-touched time, or 0 if unknown.
func (e *Entity) GroupTimestamp(group string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.bucketIdx[group]; ok {
		return b.lastUpdated
	}
	return 0
}

// Buffer returns a group's day window, or nil if the group has no bucket.
func (e *Entity) Buffer(group string) *DayBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.bucketIdx[group]; ok {
		return b.buffer
	}
	return nil
}

// CTR returns the normalized click-through rate for a group, or 0 when the
// group has no bucket.
func (e *Entity) CTR(n *Normalizer, group string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bucketIdx[group]
	if !ok {
		return 0
	}
	raw := b.buffer.AggregatedScore(&e.ctrAgg, e.params.GroupStarterScore())
	if raw == -1 {
		return 0
	}
	return n.GetNormalizedValue(raw)
}

// AddNormalizeableValues feeds every non-empty group's aggregate CTR into
// the normalizer. Called once per scoring pass for every live entity.
func (e *Entity) AddNormalizeableValues(n *Normalizer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.buckets {
		if b.buffer.HasData() {
			n.AddNormalizeableValue(b.buffer.AggregatedScore(&e.ctrAgg, e.params.GroupStarterScore()))
		}
	}
}

// Snapshot copies the entity's persistent state under the entity lock.
func (e *Entity) Snapshot() EntitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := EntitySnapshot{
		Key:            e.key,
		Bonus:          e.bonus,
		BonusTimestamp: e.bonusTime,
		HasPosted:      e.hasPosted,
	}
	for component, order := range e.rankOrder {
		snap.Scores = append(snap.Scores, ComponentScore{
			Component:  component,
			Order:      order,
			LastOpened: e.lastOpenedLocked(component),
		})
	}
	for _, b := range e.buckets {
		snap.Groups = append(snap.Groups, GroupSnapshot{
			ID:          b.group,
			LastUpdated: b.lastUpdated,
			Days:        b.buffer.Days(),
		})
	}
	return snap
}
