// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// seqCounter orders consumers so broadcasts fan out deterministically.
var seqCounter atomic.Uint64

// Consumer is a middleman between one websocket connection and the hub.
// Delivery is one-way; the read side only services control frames.
type Consumer struct {
	id      string
	seq     uint64
	channel Channel
	hub     *Hub
	conn    *websocket.Conn
	send    chan protocol.Envelope
}

// NewConsumer wraps an upgraded connection for the given channel.
func NewConsumer(hub *Hub, conn *websocket.Conn, channel Channel) *Consumer {
	return &Consumer{
		id:      uuid.NewString(),
		seq:     seqCounter.Add(1),
		channel: channel,
		hub:     hub,
		conn:    conn,
		send:    make(chan protocol.Envelope, 64),
	}
}

// ID returns the consumer's identifier, used in logs.
func (c *Consumer) ID() string { return c.id }

// Start registers the consumer and begins its pumps.
func (c *Consumer) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Consumer) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// consumers never send application messages; drain control traffic
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("consumer", c.id).Msg("unexpected websocket close")
			}
			return
		}
	}
}

func (c *Consumer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logging.Error().Err(err).Str("consumer", c.id).Msg("failed to push envelope")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
