// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/metrics"
	"github.com/recdeck/recdeck/internal/protocol"
)

// Channel selects which stream a consumer subscribes to.
type Channel string

const (
	// ChannelNormal carries scored recommendation cards.
	ChannelNormal Channel = "normal"

	// ChannelPartner carries unscored partner-row entries.
	ChannelPartner Channel = "partner"
)

// Hub maintains the set of active consumers and fans push messages out to
// them. It is the delivery surface the recommendation manager drives.
type Hub struct {
	Register   chan *Consumer
	Unregister chan *Consumer
	broadcast  chan outbound

	mu        sync.RWMutex
	consumers map[*Consumer]bool

	// onCountChanged fires after every normal-channel register or
	// unregister. Set once before Serve.
	onCountChanged func()
}

type outbound struct {
	channel Channel
	env     protocol.Envelope
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Consumer),
		Unregister: make(chan *Consumer),
		broadcast:  make(chan outbound, 256),
		consumers:  make(map[*Consumer]bool),
	}
}

// OnConsumerCountChanged registers the callback invoked after normal
// consumers come or go. Must be called before Serve.
func (h *Hub) OnConsumerCountChanged(fn func()) {
	h.onCountChanged = fn
}

// Serve runs the hub loop until the context is canceled, then closes all
// consumers. Implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// lifecycle events take priority over pending broadcasts so the
		// consumer set is settled before a message fans out
		select {
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(c)
		case out := <-h.broadcast:
			h.fanOut(out)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string { return "consumer-hub" }

// NormalConsumerCount returns the number of registered normal-channel
// consumers.
func (h *Hub) NormalConsumerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.consumers {
		if c.channel == ChannelNormal {
			n++
		}
	}
	return n
}

// ServiceStatusChanged pushes ready/not-ready to every consumer.
func (h *Hub) ServiceStatusChanged(ready bool) {
	h.send(ChannelNormal, protocol.ServiceStatus(ready))
	h.send(ChannelPartner, protocol.ServiceStatus(ready))
}

// ClearRecommendations pushes a clear-all to every consumer; partner
// consumers hold rows too and must drop them when delivery stops.
func (h *Hub) ClearRecommendations(reason protocol.ClearReason) {
	h.send(ChannelNormal, protocol.Clear(reason))
	h.send(ChannelPartner, protocol.Clear(reason))
}

// PostBatch pushes one flush's operations, in order, to every normal
// consumer.
func (h *Hub) PostBatch(ops []protocol.Operation) {
	h.send(ChannelNormal, protocol.Batch(ops))
}

// PostPartner pushes one partner-row operation to every partner consumer.
func (h *Hub) PostPartner(op protocol.Operation) {
	h.send(ChannelPartner, protocol.Batch([]protocol.Operation{op}))
}

func (h *Hub) send(channel Channel, env protocol.Envelope) {
	select {
	case h.broadcast <- outbound{channel: channel, env: env}:
	default:
		metrics.BroadcastErrors.Inc()
		logging.Warn().Str("type", env.Type).Msg("broadcast queue full, dropping push")
	}
}

func (h *Hub) add(c *Consumer) {
	h.mu.Lock()
	h.consumers[c] = true
	total := len(h.consumers)
	h.mu.Unlock()

	metrics.Consumers.WithLabelValues(string(c.channel)).Inc()
	logging.Info().
		Str("consumer", c.id).
		Str("channel", string(c.channel)).
		Int("total", total).
		Msg("consumer connected")
	h.countChanged(c.channel)
}

func (h *Hub) remove(c *Consumer) {
	h.mu.Lock()
	_, ok := h.consumers[c]
	if ok {
		delete(h.consumers, c)
		close(c.send)
	}
	total := len(h.consumers)
	h.mu.Unlock()
	if !ok {
		return
	}

	metrics.Consumers.WithLabelValues(string(c.channel)).Dec()
	logging.Info().
		Str("consumer", c.id).
		Str("channel", string(c.channel)).
		Int("total", total).
		Msg("consumer disconnected")
	h.countChanged(c.channel)
}

func (h *Hub) countChanged(channel Channel) {
	if channel == ChannelNormal && h.onCountChanged != nil {
		h.onCountChanged()
	}
}

// fanOut delivers one envelope to the channel's consumers in registration
// order. A consumer whose queue is full is pruned; it can reconnect.
func (h *Hub) fanOut(out outbound) {
	h.mu.Lock()

	targets := make([]*Consumer, 0, len(h.consumers))
	for c := range h.consumers {
		if c.channel == out.channel {
			targets = append(targets, c)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].seq < targets[j].seq })

	var pruned []*Consumer
	for _, c := range targets {
		select {
		case c.send <- out.env:
		default:
			pruned = append(pruned, c)
		}
	}
	for _, c := range pruned {
		close(c.send)
		delete(h.consumers, c)
	}
	h.mu.Unlock()

	for _, c := range pruned {
		metrics.BroadcastErrors.Inc()
		metrics.Consumers.WithLabelValues(string(c.channel)).Dec()
		logging.Warn().Str("consumer", c.id).Msg("consumer queue stalled, pruned")
		h.countChanged(c.channel)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	n := len(h.consumers)
	for c := range h.consumers {
		close(c.send)
		delete(h.consumers, c)
		metrics.Consumers.WithLabelValues(string(c.channel)).Dec()
	}
	h.mu.Unlock()
	logging.Info().Int("consumers_closed", n).Msg("consumer hub stopped")
}
