// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/recdeck/recdeck/internal/protocol"
	"github.com/recdeck/recdeck/internal/rank"
)

func newTestConsumer(hub *Hub, channel Channel) *Consumer {
	return &Consumer{
		id:      "test-" + string(channel),
		seq:     seqCounter.Add(1),
		channel: channel,
		hub:     hub,
		send:    make(chan protocol.Envelope, 64),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func register(t *testing.T, hub *Hub, c *Consumer) {
	t.Helper()
	select {
	case hub.Register <- c:
	case <-time.After(2 * time.Second):
		t.Fatal("register stalled")
	}
}

func recv(t *testing.T, c *Consumer) protocol.Envelope {
	t.Helper()
	select {
	case env := <-c.send:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope delivered")
		return protocol.Envelope{}
	}
}

func TestHubChannelIsolation(t *testing.T) {
	hub := startHub(t)
	normal := newTestConsumer(hub, ChannelNormal)
	partner := newTestConsumer(hub, ChannelPartner)
	register(t, hub, normal)
	register(t, hub, partner)

	rec := protocol.Recommendation{SourceKey: "srcA", ID: "1", Score: 0.4}
	hub.PostBatch([]protocol.Operation{{Kind: protocol.OpAdd, Rec: rec}})

	env := recv(t, normal)
	if env.Type != protocol.TypeBatch || len(env.Ops) != 1 {
		t.Fatalf("normal envelope = %+v", env)
	}
	if env.Version != protocol.Version {
		t.Fatalf("version = %d, want %d", env.Version, protocol.Version)
	}
	select {
	case env := <-partner.send:
		t.Fatalf("partner received normal traffic: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}

	hub.PostPartner(protocol.Operation{Kind: protocol.OpAdd, Rec: protocol.Recommendation{SourceKey: "p", ID: "9", Score: rank.ScoreUnset}})
	env = recv(t, partner)
	if env.Type != protocol.TypeBatch || len(env.Ops) != 1 {
		t.Fatalf("partner envelope = %+v", env)
	}
}

func TestHubServiceStatusReachesBothChannels(t *testing.T) {
	hub := startHub(t)
	normal := newTestConsumer(hub, ChannelNormal)
	partner := newTestConsumer(hub, ChannelPartner)
	register(t, hub, normal)
	register(t, hub, partner)

	hub.ServiceStatusChanged(true)
	for _, c := range []*Consumer{normal, partner} {
		env := recv(t, c)
		if env.Type != protocol.TypeServiceStatus || env.Ready == nil || !*env.Ready {
			t.Fatalf("envelope = %+v, want ready status", env)
		}
	}
}

func TestHubClearReachesBothChannels(t *testing.T) {
	hub := startHub(t)
	normal := newTestConsumer(hub, ChannelNormal)
	partner := newTestConsumer(hub, ChannelPartner)
	register(t, hub, normal)
	register(t, hub, partner)

	hub.ClearRecommendations(protocol.ClearReasonAllBlacklisted)
	for _, c := range []*Consumer{normal, partner} {
		env := recv(t, c)
		if env.Type != protocol.TypeClear || env.Reason == nil || *env.Reason != protocol.ClearReasonAllBlacklisted {
			t.Fatalf("%s envelope = %+v, want clear reason 2", c.channel, env)
		}
	}
}

func TestHubConsumerCountCallback(t *testing.T) {
	hub := NewHub()
	var mu sync.Mutex
	var fired int
	hub.OnConsumerCountChanged(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Serve(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	normal := newTestConsumer(hub, ChannelNormal)
	partner := newTestConsumer(hub, ChannelPartner)
	register(t, hub, normal)
	register(t, hub, partner)
	hub.Unregister <- normal

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := fired
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("callback fired %d times, want 2 (partner events excluded)", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.NormalConsumerCount(); got != 0 {
		t.Fatalf("NormalConsumerCount = %d, want 0", got)
	}
}

func TestHubPrunesStalledConsumer(t *testing.T) {
	hub := startHub(t)
	stalled := newTestConsumer(hub, ChannelNormal)
	stalled.send = make(chan protocol.Envelope) // unbuffered, never drained
	healthy := newTestConsumer(hub, ChannelNormal)
	register(t, hub, stalled)
	register(t, hub, healthy)

	hub.PostBatch([]protocol.Operation{{Kind: protocol.OpAdd, Rec: protocol.Recommendation{ID: "1"}}})
	recv(t, healthy)

	deadline := time.Now().Add(2 * time.Second)
	for hub.NormalConsumerCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stalled consumer not pruned, count = %d", hub.NormalConsumerCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
