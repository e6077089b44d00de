// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

import (
	"math"
	"sync"

	"github.com/recdeck/recdeck/internal/logging"
)

// Store is the full persistence surface the Ranker depends on. It extends
// the Entity-level Persister with the bulk load and blacklist operations.
type Store interface {
	Persister

	// LoadEntities reads every persisted entity and the blacklist on a
	// background worker and delivers them through cb exactly once.
	LoadEntities(cb func(entities map[string]*Entity, blacklist []string))

	// SaveBlacklist replaces the persisted blacklist synchronously.
	SaveBlacklist(keys []string) error
}

// Ranker owns the in-memory entity map and turns engagement events into
// entity mutations and per-card scores. Construction kicks off an
// asynchronous bulk load; until it completes, actions are queued and
// replayed in arrival order once the load lands.
type Ranker struct {
	store  Store
	params Params
	usage  *usageStats

	seedDefault []string
	seedPartner []string

	actionMu    sync.Mutex
	loading     bool
	queued      []queuedAction
	listeners   []func()
	listenersMu sync.Mutex

	entitiesMu sync.Mutex
	entities   map[string]*Entity
	blacklist  []string
	normalizer *Normalizer
}

type queuedAction struct {
	key       string
	component string
	group     string
	action    Action
}

// NewRanker builds a ranker and starts the bulk load. The seed lists feed
// one-time out-of-box ordering; usageExcluded keys never contribute to
// usage scores.
func NewRanker(store Store, params Params, seedDefault, seedPartner, usageExcluded []string) *Ranker {
	r := &Ranker{
		store:       store,
		params:      params,
		usage:       newUsageStats(usageExcluded),
		seedDefault: seedDefault,
		seedPartner: seedPartner,
		loading:     true,
		entities:    make(map[string]*Entity),
		normalizer:  &Normalizer{},
	}
	store.LoadEntities(r.onEntitiesLoaded)
	return r
}

// AddListener registers a callback fired once the ranker becomes ready.
// Listeners added after readiness fire on the next Reload only.
func (r *Ranker) AddListener(fn func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-runs the bulk load, queueing actions until it completes.
func (r *Ranker) Reload() {
	r.actionMu.Lock()
	r.loading = true
	r.actionMu.Unlock()
	r.store.LoadEntities(r.onEntitiesLoaded)
}

// Ready reports whether the bulk load has completed.
func (r *Ranker) Ready() bool {
	r.actionMu.Lock()
	defer r.actionMu.Unlock()
	return !r.loading
}

// IsBlacklisted reports whether a source key is blacklisted.
func (r *Ranker) IsBlacklisted(key string) bool {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()
	for _, k := range r.blacklist {
		if k == key {
			return true
		}
	}
	return false
}

// HasBlacklistedKeys reports whether the blacklist is non-empty.
func (r *Ranker) HasBlacklistedKeys() bool {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()
	return len(r.blacklist) > 0
}

// Blacklist returns a copy of the current blacklist.
func (r *Ranker) Blacklist() []string {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()
	out := make([]string, len(r.blacklist))
	copy(out, r.blacklist)
	return out
}

// SetBlacklist replaces the blacklist and persists it synchronously.
func (r *Ranker) SetBlacklist(keys []string) error {
	if err := r.store.SaveBlacklist(keys); err != nil {
		return err
	}
	r.entitiesMu.Lock()
	r.blacklist = append([]string(nil), keys...)
	r.entitiesMu.Unlock()
	return nil
}

// OnOpenLaunchPoint records a launch-point open for a source.
func (r *Ranker) OnOpenLaunchPoint(key, group string) {
	r.onAction(key, "", group, ActionOpen)
}

// OnOpenRecommendation records a recommendation open. Opening a
// recommendation is also a click on its group.
func (r *Ranker) OnOpenRecommendation(key, group string) {
	r.onAction(key, "", group, ActionClick)
}

// OnRecommendationImpression records an impression against a group.
func (r *Ranker) OnRecommendationImpression(key, group string) {
	r.onAction(key, "", group, ActionImpression)
}

// OnSourceAdded records a source installation.
func (r *Ranker) OnSourceAdded(key string) {
	r.onAction(key, "", "", ActionInstall)
}

// OnSourceRemoved records a source removal.
func (r *Ranker) OnSourceRemoved(key string) {
	r.onAction(key, "", "", ActionUninstall)
}

func (r *Ranker) onAction(key, component, group string, action Action) {
	if key == "" {
		return
	}

	r.actionMu.Lock()
	if r.loading {
		r.queued = append(r.queued, queuedAction{key, component, group, action})
		r.actionMu.Unlock()
		return
	}
	r.actionMu.Unlock()

	r.applyAction(key, component, group, action)
}

func (r *Ranker) applyAction(key, component, group string, action Action) {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()

	entity := r.entities[key]

	if action == ActionUninstall {
		if entity != nil {
			// A seeded or previously ranked entity keeps its order and
			// buckets; only the removable state is cleared.
			if entity.Order(component) != 0 {
				entity.OnAction(action, component, "")
				r.store.RemoveEntity(key, false)
			}
		} else {
			r.store.RemoveEntity(key, true)
		}
		r.usage.Invalidate()
		return
	}

	if entity == nil {
		entity = NewEntity(r.store, r.params, key)
		r.entities[key] = entity
	}
	entity.OnAction(action, component, group)
	r.store.SaveEntity(entity.Snapshot())

	if action == ActionOpen || action == ActionInstall {
		r.usage.Invalidate()
	}
}

// MarkPostedRecommendations records that a source posted at least one
// card, creating its entity if needed.
func (r *Ranker) MarkPostedRecommendations(key string) {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()

	entity := r.entities[key]
	if entity == nil {
		entity = NewEntity(r.store, r.params, key)
		r.entities[key] = entity
	}
	if !entity.HasPostedRecommendations() {
		entity.MarkPostedRecommendations()
		r.store.SaveEntity(entity.Snapshot())
	}
}

// SourcesWithRecommendations returns the keys of sources that have ever
// posted a card.
func (r *Ranker) SourcesWithRecommendations() []string {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()
	var out []string
	for key, e := range r.entities {
		if e.HasPostedRecommendations() {
			out = append(out, key)
		}
	}
	return out
}

// PrepNormalization rebuilds the CTR normalizer from every live entity.
// Call before a scoring pass.
func (r *Ranker) PrepNormalization() {
	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()
	n := &Normalizer{}
	for _, e := range r.entities {
		e.AddNormalizeableValues(n)
	}
	r.normalizer = n
}

// BaseScore combines a card's normalized CTR, amortized bonus, raw sort
// score and usage score with equal weights, perturbs by the title hash,
// and squashes the sum into (-1, 1). Returns ScoreUnset when the card's
// source has no entity. The result is memoized on the card.
func (r *Ranker) BaseScore(c *Card) float64 {
	if s := c.BaseScore(); s != ScoreUnset {
		return s
	}

	value := ScoreUnset
	if c.SourceKey != "" {
		r.entitiesMu.Lock()
		entity := r.entities[c.SourceKey]
		if entity != nil {
			ctr := c.CachedCTR()
			if ctr == ScoreUnset {
				ctr = entity.CTR(r.normalizer, c.Group)
				c.SetCachedCTR(ctr)
			}

			combined := 0.25*ctr +
				0.25*entity.AmortizedBonus() +
				0.25*c.RawScore() +
				0.25*r.usage.Score(c.SourceKey, r.entities) +
				0.01*titlePerturbation(c.Title)
			value = (1.0/(1.0+math.Exp(-combined)) - 0.5) * 2.0
		}
		r.entitiesMu.Unlock()
	}

	c.SetBaseScore(value)
	return value
}

// AdjustedScore decays the base score by the card's position within its
// source row, with an additive pin for force-first cards. The result is
// memoized on the card.
func (r *Ranker) AdjustedScore(c *Card, position int, forceFirst bool) float64 {
	base := r.BaseScore(c)
	adjusted := base * math.Pow(float64(position+1), -r.params.SpreadFactor())
	if forceFirst {
		adjusted += 1.0
	}
	c.SetAdjustedScore(adjusted)
	return adjusted
}

// titlePerturbation derives a deterministic value in [0, 1) from a title
// using a 31-multiplier int32 hash. Empty titles yield 0.
func titlePerturbation(title string) float64 {
	if title == "" {
		return 0
	}
	var h int32
	for _, r := range title {
		h = 31*h + r
	}
	return float64(h)/math.MaxInt32/2.0 + 0.5
}

func (r *Ranker) onEntitiesLoaded(entities map[string]*Entity, blacklist []string) {
	r.entitiesMu.Lock()
	r.entities = entities
	r.blacklist = append([]string(nil), blacklist...)
	r.entitiesMu.Unlock()
	r.usage.Invalidate()

	r.actionMu.Lock()
	r.loading = false
	queued := r.queued
	r.queued = nil
	r.actionMu.Unlock()

	for _, a := range queued {
		r.applyAction(a.key, a.component, a.group, a.action)
	}

	if !r.store.InitialRankingApplied() {
		r.applyInitialRanking()
		r.store.SetInitialRankingApplied(true)
	}

	logging.Info().Int("entities", len(entities)).Int("blacklisted", len(blacklist)).Msg("ranker ready")

	r.listenersMu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// applyInitialRanking seeds synthetic rank orders and a shared bonus pool
// for sources named in the out-of-box lists. Partner entries occupy the
// top of the combined ordering; keys that already have an entity are left
// untouched.
func (r *Ranker) applyInitialRanking() {
	total := len(r.seedDefault) + len(r.seedPartner)
	if total == 0 {
		return
	}
	r.seedList(r.seedPartner, 0, total)
	r.seedList(r.seedDefault, len(r.seedPartner), total)
}

func (r *Ranker) seedList(order []string, offset, total int) {
	if len(order) == 0 || offset < 0 || total < len(order)+offset {
		return
	}

	entitiesBelow := total - offset - len(order)
	bonusSum := 0.5 * float64(total) * float64(total+1)

	r.entitiesMu.Lock()
	defer r.entitiesMu.Unlock()

	for i := 0; i < len(order); i++ {
		key := order[len(order)-1-i]
		if _, exists := r.entities[key]; exists {
			continue
		}
		rankPos := entitiesBelow + i + 1
		e := NewSeededEntity(r.store, r.params, key, int64(rankPos), true)
		e.SetBonus(r.params.OutOfBoxBonus()*float64(rankPos)/bonusSum, nowMillis())
		r.entities[key] = e
		r.store.SaveEntity(e.Snapshot())
	}
}
