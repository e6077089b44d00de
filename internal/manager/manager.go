// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package manager batches, classifies, scores and delivers recommendation
// notifications. Events from the source are coalesced for 100ms, scored
// through the ranker, kept in per-source descending order, and broadcast
// as ordered add/update/remove operations to registered consumers.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/recdeck/recdeck/internal/images"
	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/metrics"
	"github.com/recdeck/recdeck/internal/notify"
	"github.com/recdeck/recdeck/internal/protocol"
	"github.com/recdeck/recdeck/internal/rank"
)

// Hub is the consumer-facing delivery surface, implemented by the API
// layer's websocket hub. All calls happen on the dispatch goroutine.
type Hub interface {
	// NormalConsumerCount returns the number of registered normal-channel
	// consumers.
	NormalConsumerCount() int

	// ServiceStatusChanged pushes ready/not-ready to every consumer.
	ServiceStatusChanged(ready bool)

	// ClearRecommendations pushes a clear-all to every consumer.
	ClearRecommendations(reason protocol.ClearReason)

	// PostBatch pushes one flush's operations, in order, to every normal
	// consumer.
	PostBatch(ops []protocol.Operation)

	// PostPartner pushes one partner-row operation to every partner
	// consumer.
	PostPartner(op protocol.Operation)
}

// Config tunes the recommendation manager.
type Config struct {
	// MaxRecsPerSource caps how many cards one source may have at once.
	// Inserting beyond the cap rejects the new card. Zero disables.
	MaxRecsPerSource int

	// CoalesceWindow is how long event bursts are merged before a flush.
	CoalesceWindow time.Duration

	// Card image dimension caps applied before delivery.
	CardMaxWidth  int
	CardMaxHeight int
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		MaxRecsPerSource: 5,
		CoalesceWindow:   100 * time.Millisecond,
		CardMaxWidth:     600,
		CardMaxHeight:    400,
	}
}

type pendingOp struct {
	remove bool
	n      *notify.Notification
}

// entry pairs a live notification with its scoring card so memoized
// scores survive re-ranking.
type entry struct {
	n    *notify.Notification
	card *rank.Card
}

// Manager owns delivery state. It implements notify.Intake; the source
// adapter feeds it, the hub fans its output out.
type Manager struct {
	cfg    Config
	ranker *rank.Ranker
	hub    Hub
	imgs   *images.Cache
	source notify.Source

	disp *dispatcher

	// dispatcher-owned state; touched only on the dispatch goroutine
	started      bool
	rankerReady  bool
	connected    bool
	resetPending bool
	recSets      map[string][]*entry
	partnerList  []*entry

	// pending accumulators, guarded by the dispatcher's serialization for
	// reads and appended to by intake callers via Submit
	recBatch       []pendingOp
	captivePosted  []*notify.Notification
	captiveShowing []*notify.Notification
	captiveRemoved []*notify.Notification
}

// New creates a manager bound to the given ranker, hub and image cache.
// The source is attached later with SetSource since the adapter needs the
// manager as its intake first.
func New(cfg Config, ranker *rank.Ranker, hub Hub, imgs *images.Cache) *Manager {
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = 100 * time.Millisecond
	}
	m := &Manager{
		cfg:     cfg,
		ranker:  ranker,
		hub:     hub,
		imgs:    imgs,
		disp:    newDispatcher(),
		recSets: make(map[string][]*entry),
	}
	ranker.AddListener(func() {
		m.disp.Submit(func() {
			m.rankerReady = true
			m.startIfReady()
		})
	})
	// the load may already have landed before the listener registered
	if ranker.Ready() {
		m.disp.Submit(func() {
			m.rankerReady = true
			m.startIfReady()
		})
	}
	return m
}

// SetSource attaches the notification source.
func (m *Manager) SetSource(src notify.Source) {
	m.disp.Submit(func() { m.source = src })
}

// Serve runs the dispatch goroutine. Implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	return m.disp.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (m *Manager) String() string { return "recommendation-manager" }

// ConsumerCountChanged is called by the hub whenever a normal consumer
// registers or unregisters.
func (m *Manager) ConsumerCountChanged() {
	m.disp.Submit(func() {
		if m.hub.NormalConsumerCount() == 0 {
			if m.started {
				m.clearAll(protocol.ClearReasonNoRecommendations)
				m.hub.ServiceStatusChanged(false)
				m.started = false
			}
			return
		}
		m.startIfReady()
	})
}

// SendConnectionStatus implements notify.Intake.
func (m *Manager) SendConnectionStatus(connected bool) {
	m.disp.Submit(func() { m.setConnected(connected) })
}

// AddNotification implements notify.Intake.
func (m *Manager) AddNotification(n *notify.Notification) {
	m.disp.Submit(func() { m.queuePending(pendingOp{n: n}) })
}

// RemoveNotification implements notify.Intake.
func (m *Manager) RemoveNotification(n *notify.Notification) {
	m.disp.Submit(func() { m.queuePending(pendingOp{remove: true, n: n}) })
}

// queuePending accumulates one event. During a pending reset the event
// joins the reset baseline instead of arming the batch timer, so the
// clear always precedes the baseline's delivery.
func (m *Manager) queuePending(op pendingOp) {
	m.recBatch = append(m.recBatch, op)
	if m.resetPending {
		return
	}
	m.disp.Schedule(timerBatch, m.cfg.CoalesceWindow, m.flushBatch)
}

// ResetNotifications implements notify.Intake. Everything pending is
// discarded; events arriving before the reset timer fires become the new
// baseline.
func (m *Manager) ResetNotifications() {
	m.disp.Submit(func() {
		m.disp.CancelTimer(timerBatch)
		m.disp.CancelTimer(timerCaptivePosted)
		m.disp.CancelTimer(timerCaptiveRemoved)
		m.recBatch = nil
		m.captivePosted = nil
		m.captiveShowing = nil
		m.captiveRemoved = nil
		m.resetPending = true
		m.disp.Schedule(timerReset, m.cfg.CoalesceWindow, m.flushReset)
	})
}

// AddCaptivePortalNotification implements notify.Intake. A newly posted
// captive-portal notice replaces any currently showing one.
func (m *Manager) AddCaptivePortalNotification(n *notify.Notification) {
	m.disp.Submit(func() {
		for _, p := range m.captivePosted {
			if notify.Equal(p, n) {
				return
			}
		}
		for _, s := range m.captiveShowing {
			if notify.Equal(s, n) {
				return
			}
		}
		if len(m.captiveShowing) > 0 {
			m.queueCaptiveRemovedLocked()
		}
		m.captivePosted = []*notify.Notification{n}
		m.disp.Schedule(timerCaptivePosted, m.cfg.CoalesceWindow, m.flushCaptivePosted)
	})
}

// RemoveAllCaptivePortalNotifications implements notify.Intake.
func (m *Manager) RemoveAllCaptivePortalNotifications() {
	m.disp.Submit(func() {
		if len(m.captiveShowing) > 0 {
			m.queueCaptiveRemovedLocked()
		}
	})
}

func (m *Manager) queueCaptiveRemovedLocked() {
	m.captiveRemoved = append(m.captiveRemoved, m.captiveShowing...)
	m.disp.Schedule(timerCaptiveRemoved, m.cfg.CoalesceWindow, m.flushCaptiveRemoved)
}

// OnOpenLaunchPoint records a launch-point open.
func (m *Manager) OnOpenLaunchPoint(key, group string) {
	m.ranker.OnOpenLaunchPoint(key, group)
}

// OnOpenRecommendation records a recommendation open.
func (m *Manager) OnOpenRecommendation(key, group string) {
	m.ranker.OnOpenRecommendation(key, group)
}

// OnRecommendationImpression records an impression.
func (m *Manager) OnRecommendationImpression(key, group string) {
	m.ranker.OnRecommendationImpression(key, group)
}

// Dismiss asks the source to withdraw a card.
func (m *Manager) Dismiss(key string) {
	m.disp.Submit(func() {
		if m.source != nil {
			m.source.CancelRecommendation(key)
		}
	})
}

// Blacklist returns the current source blacklist.
func (m *Manager) Blacklist() []string { return m.ranker.Blacklist() }

// SetBlacklist replaces the blacklist and reloads the ranker so scores
// reflect it.
func (m *Manager) SetBlacklist(keys []string) error {
	if err := m.ranker.SetBlacklist(keys); err != nil {
		return err
	}
	m.ranker.Reload()
	return nil
}

// SourcesWithRecommendations lists sources that have ever posted a card.
func (m *Manager) SourcesWithRecommendations() []string {
	return m.ranker.SourcesWithRecommendations()
}

// Image returns the card image for a key, fetching and caching on a miss.
func (m *Manager) Image(ctx context.Context, key string) ([]byte, error) {
	if m.imgs == nil {
		return nil, fmt.Errorf("image cache disabled")
	}

	type lookup struct {
		uri string
		ok  bool
	}
	found := make(chan lookup, 1)
	m.disp.Submit(func() {
		if n, ok := m.findNotification(key); ok {
			found <- lookup{uri: n.ImageURI, ok: true}
			return
		}
		found <- lookup{}
	})

	var uri string
	select {
	case l := <-found:
		uri = l.uri
		if !l.ok && m.source != nil {
			if n, ok := m.source.Notification(key); ok {
				uri = n.ImageURI
			}
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return m.imgs.Fetch(ctx, key, uri)
}

func (m *Manager) findNotification(key string) (*notify.Notification, bool) {
	for _, set := range m.recSets {
		for _, e := range set {
			if e.n.Key() == key {
				return e.n, true
			}
		}
	}
	for _, e := range m.partnerList {
		if e.n.Key() == key {
			return e.n, true
		}
	}
	return nil, false
}

func (m *Manager) startIfReady() {
	if m.started || !m.rankerReady || !m.connected || m.hub.NormalConsumerCount() == 0 {
		return
	}
	m.started = true
	m.recSets = make(map[string][]*entry)
	m.partnerList = nil
	m.hub.ServiceStatusChanged(true)
	logging.Info().Msg("recommendation delivery started")
	if m.source != nil {
		m.source.FetchExistingNotifications()
	}
}

func (m *Manager) setConnected(connected bool) {
	m.connected = connected
	if connected {
		m.startIfReady()
		return
	}
	if m.started {
		m.clearAll(protocol.ClearReasonNoRecommendations)
		m.hub.ServiceStatusChanged(false)
		m.started = false
		logging.Info().Msg("recommendation delivery stopped: source disconnected")
	}
}

func (m *Manager) clearAll(reason protocol.ClearReason) {
	metrics.ClearSignals.WithLabelValues(reason.String()).Inc()
	m.hub.ClearRecommendations(reason)
}

func (m *Manager) flushBatch() {
	batch := m.recBatch
	m.recBatch = nil
	m.processBatch(batch)
}

// flushReset clears consumers with a reason derived from the accumulated
// baseline, rebuilds local state, then processes the baseline as adds.
func (m *Manager) flushReset() {
	batch := m.recBatch
	m.recBatch = nil
	m.resetPending = false
	if !m.started {
		return
	}

	m.clearAll(m.resetReason(batch))
	m.recSets = make(map[string][]*entry)
	m.partnerList = nil
	m.processBatch(batch)
}

func (m *Manager) resetReason(batch []pendingOp) protocol.ClearReason {
	totalRecs, blacklisted := 0, 0
	for _, op := range batch {
		if op.n.IsPartnerRow() {
			continue
		}
		delta := 1
		if op.remove {
			delta = -1
		}
		totalRecs += delta
		if m.ranker.IsBlacklisted(op.n.SourceKey) {
			blacklisted += delta
		}
	}
	switch {
	case totalRecs == 0 && m.ranker.HasBlacklistedKeys():
		return protocol.ClearReasonBlacklistAndEmpty
	case totalRecs == 0:
		return protocol.ClearReasonNoRecommendations
	case totalRecs == blacklisted:
		return protocol.ClearReasonAllBlacklisted
	default:
		return protocol.ClearReasonNoRecommendations
	}
}

func (m *Manager) flushCaptivePosted() {
	posted := m.captivePosted
	m.captivePosted = nil
	ops := make([]pendingOp, 0, len(posted))
	for _, n := range posted {
		ops = append(ops, pendingOp{n: n})
	}
	m.processBatch(ops)
	m.captiveShowing = append(m.captiveShowing, posted...)
}

func (m *Manager) flushCaptiveRemoved() {
	removed := m.captiveRemoved
	m.captiveRemoved = nil
	ops := make([]pendingOp, 0, len(removed))
	for _, n := range removed {
		ops = append(ops, pendingOp{remove: true, n: n})
	}
	m.processBatch(ops)

	remaining := m.captiveShowing[:0]
	for _, s := range m.captiveShowing {
		kept := true
		for _, r := range removed {
			if notify.Equal(s, r) {
				kept = false
				break
			}
		}
		if kept {
			remaining = append(remaining, s)
		}
	}
	m.captiveShowing = remaining
}

func (m *Manager) processBatch(batch []pendingOp) {
	if !m.started || len(batch) == 0 {
		return
	}

	var changes []protocol.Operation
	for _, op := range batch {
		switch {
		case op.n.IsPartnerRow() && op.remove:
			m.partnerRemoved(op.n)
		case op.n.IsPartnerRow():
			m.partnerAdded(op.n)
		case op.remove:
			changes = m.removeRec(op.n, changes)
		default:
			changes = m.scoreAndInsert(op.n, changes)
		}
	}
	m.postChanges(changes)
}

// scoreAndInsert places one card in its source's descending-score row,
// re-scoring every card at or after the insertion point since positional
// decay shifts them all.
func (m *Manager) scoreAndInsert(n *notify.Notification, changes []protocol.Operation) []protocol.Operation {
	m.ranker.PrepNormalization()
	key := n.SourceKey
	m.ranker.MarkPostedRecommendations(key)

	if m.ranker.IsBlacklisted(key) {
		return changes
	}

	newEntry := &entry{n: n, card: n.Card()}
	recSet := m.recSets[key]

	if len(recSet) == 0 {
		m.tidy(n)
		m.recSets[key] = []*entry{newEntry}
		score := m.ranker.AdjustedScore(newEntry.card, 0, n.IsCaptivePortal())
		return append(changes, protocol.Operation{Kind: protocol.OpAdd, Rec: n.Record(score)})
	}

	existingIdx := -1
	for i, e := range recSet {
		if notify.Equal(e.n, n) {
			existingIdx = i
			break
		}
	}
	found := existingIdx >= 0

	switch {
	case found:
		recSet = append(recSet[:existingIdx], recSet[existingIdx+1:]...)
	case m.cfg.MaxRecsPerSource > 0 && len(recSet) >= m.cfg.MaxRecsPerSource:
		metrics.CardsRejected.Inc()
		logging.Debug().Str("source", key).Str("id", n.ID).Msg("per-source cap hit, rejecting card")
		if m.source != nil {
			m.source.CancelRecommendation(n.Key())
		}
		return changes
	default:
		m.tidy(n)
	}

	insertPos := len(recSet)
	for i, e := range recSet {
		if m.outranks(newEntry, e) {
			insertPos = i
			break
		}
	}
	recSet = append(recSet, nil)
	copy(recSet[insertPos+1:], recSet[insertPos:])
	recSet[insertPos] = newEntry
	m.recSets[key] = recSet

	for i := insertPos; i < len(recSet); i++ {
		e := recSet[i]
		e.card.InvalidateAdjusted()
		score := m.ranker.AdjustedScore(e.card, i, e.n.IsCaptivePortal())
		kind := protocol.OpUpdate
		if e == newEntry && !found {
			kind = protocol.OpAdd
		}
		changes = append(changes, protocol.Operation{Kind: kind, Rec: e.n.Record(score)})
	}
	return changes
}

// outranks reports whether a sorts strictly before b: captive-portal
// cards first, then higher base score.
func (m *Manager) outranks(a, b *entry) bool {
	ac, bc := a.n.IsCaptivePortal(), b.n.IsCaptivePortal()
	if ac != bc {
		return ac
	}
	return m.ranker.BaseScore(a.card) > m.ranker.BaseScore(b.card)
}

func (m *Manager) removeRec(n *notify.Notification, changes []protocol.Operation) []protocol.Operation {
	recSet := m.recSets[n.SourceKey]
	score := rank.ScoreUnset
	kept := recSet[:0]
	for _, e := range recSet {
		if notify.Equal(e.n, n) {
			if s := e.card.AdjustedScore(); s != rank.ScoreUnset {
				score = s
			}
			continue
		}
		kept = append(kept, e)
	}
	m.recSets[n.SourceKey] = kept
	return append(changes, protocol.Operation{Kind: protocol.OpRemove, Rec: n.Record(score)})
}

func (m *Manager) partnerAdded(n *notify.Notification) {
	existing := -1
	for i, e := range m.partnerList {
		if notify.Equal(e.n, n) {
			existing = i
			break
		}
	}
	m.tidy(n)
	newEntry := &entry{n: n, card: n.Card()}

	kind := protocol.OpAdd
	if existing >= 0 {
		m.partnerList[existing] = newEntry
		kind = protocol.OpUpdate
	} else {
		m.partnerList = append(m.partnerList, newEntry)
	}
	metrics.OpsDelivered.WithLabelValues(string(kind)).Inc()
	m.hub.PostPartner(protocol.Operation{Kind: kind, Rec: n.Record(rank.ScoreUnset)})
}

func (m *Manager) partnerRemoved(n *notify.Notification) {
	kept := m.partnerList[:0]
	for _, e := range m.partnerList {
		if !notify.Equal(e.n, n) {
			kept = append(kept, e)
		}
	}
	m.partnerList = kept
	metrics.OpsDelivered.WithLabelValues(string(protocol.OpRemove)).Inc()
	m.hub.PostPartner(protocol.Operation{Kind: protocol.OpRemove, Rec: n.Record(rank.ScoreUnset)})
}

func (m *Manager) postChanges(changes []protocol.Operation) {
	if len(changes) == 0 {
		return
	}
	metrics.Flushes.Inc()
	for _, op := range changes {
		metrics.OpsDelivered.WithLabelValues(string(op.Kind)).Inc()
	}
	m.hub.PostBatch(changes)
}

// tidy caps the card's reported image dimensions before delivery. Partner
// banners keep their own sizing and are left untouched.
func (m *Manager) tidy(n *notify.Notification) {
	if !n.IsRecommendation() || n.IsPartnerRow() {
		return
	}
	n.Width, n.Height = cappedCardDimensions(n.Width, n.Height, m.cfg.CardMaxWidth, m.cfg.CardMaxHeight)
}

// cappedCardDimensions scales (w, h) down to fit within (maxW, maxH),
// preserving aspect ratio. Unknown or in-bounds dimensions pass through.
func cappedCardDimensions(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || (w <= maxW && h <= maxH) {
		return w, h
	}
	scale := 1.0
	if h > maxH {
		scale = float64(maxH) / float64(h)
	}
	outW := int(float64(w) * scale)
	if outW > maxW {
		outW = maxW
	}
	return outW, int(float64(h) * scale)
}
