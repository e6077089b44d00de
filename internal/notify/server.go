// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded NATS server used when no external
// bus is available.
type ServerConfig struct {
	Host string
	Port int
}

// EmbeddedServer runs an in-process NATS server so single-binary
// deployments need no external broker.
type EmbeddedServer struct {
	srv       *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded NATS server, waiting
// up to 30 seconds for it to accept connections.
func NewEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "recdeck-bus",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded bus: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus not ready within timeout")
	}
	return &EmbeddedServer{srv: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the URL adapters should connect to.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// Serve blocks until ctx is cancelled, then shuts the server down.
// Implements suture.Service.
func (s *EmbeddedServer) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *EmbeddedServer) String() string { return "notify-bus" }
