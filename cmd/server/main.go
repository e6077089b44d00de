// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Recdeck ranks recommendation notifications from on-device sources and
// pushes the ordered card set to TV launcher consumers.
//
// The process wires four supervised layers:
//
//   - data: the write-behind engagement store and the card image cache
//   - messaging: the notification bus, the source adapter, the delivery
//     manager and the consumer hub
//   - api: the HTTP server carrying the consumer stream and control
//     endpoints
//
// Configuration is layered: defaults, an optional config.yaml, then
// environment variables (HTTP_PORT, DATA_PATH, NATS_URL, ...).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/recdeck/recdeck/internal/api"
	"github.com/recdeck/recdeck/internal/config"
	"github.com/recdeck/recdeck/internal/images"
	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/manager"
	"github.com/recdeck/recdeck/internal/notify"
	"github.com/recdeck/recdeck/internal/rank"
	"github.com/recdeck/recdeck/internal/store"
	"github.com/recdeck/recdeck/internal/supervisor"
	ws "github.com/recdeck/recdeck/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("data_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Bool("embedded_bus", cfg.NATS.EmbeddedServer).
		Msg("Starting recdeck")

	params := rank.StaticParams{
		Spread:       cfg.Ranker.SpreadFactor,
		StarterScore: cfg.Ranker.GroupStarterScore,
		Install:      cfg.Ranker.InstallBonus,
		OutOfBox:     cfg.Ranker.OutOfBoxBonus,
		FadeDays:     cfg.Ranker.BonusFadePeriodDays,
	}

	st, err := store.Open(cfg.Database.Path, params)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open engagement store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing engagement store")
		}
	}()

	var imgCache *images.Cache
	if cfg.Images.Enabled {
		imgCache, err = images.Open(images.Config{
			Dir:          cfg.Images.Dir,
			TTL:          cfg.Images.TTL,
			FetchTimeout: cfg.Images.FetchTimeout,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open image cache")
		}
		defer func() {
			if err := imgCache.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing image cache")
			}
		}()
	}

	ranker := rank.NewRanker(st, params,
		cfg.Ranker.SeedDefault, cfg.Ranker.SeedPartner, cfg.Ranker.UsageExcluded)

	hub := ws.NewHub()
	mgr := manager.New(manager.Config{
		MaxRecsPerSource: cfg.Manager.MaxRecsPerSource,
		CoalesceWindow:   cfg.Manager.CoalesceWindow,
		CardMaxWidth:     cfg.Manager.CardMaxWidth,
		CardMaxHeight:    cfg.Manager.CardMaxHeight,
	}, ranker, hub, imgCache)
	hub.OnConsumerCountChanged(mgr.ConsumerCountChanged)

	busURL := cfg.NATS.URL
	var bus *notify.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		bus, err = notify.NewEmbeddedServer(notify.ServerConfig{
			Host: cfg.NATS.EmbeddedHost,
			Port: cfg.NATS.EmbeddedPort,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded notification bus")
		}
		busURL = bus.ClientURL()
	}

	adapterCfg := notify.DefaultAdapterConfig(busURL)
	if cfg.NATS.IntakeRate > 0 {
		adapterCfg.IntakeRate = float64(cfg.NATS.IntakeRate)
	}
	if cfg.NATS.IntakeBurst > 0 {
		adapterCfg.IntakeBurst = cfg.NATS.IntakeBurst
	}
	if cfg.NATS.RequestTimeout > 0 {
		adapterCfg.RequestTimeout = cfg.NATS.RequestTimeout
	}
	adapter := notify.NewAdapter(adapterCfg, mgr)
	mgr.SetSource(adapter)

	handler := api.NewHandler(mgr, hub, ranker.Ready)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler).Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddDataService(st)
	if imgCache != nil {
		tree.AddDataService(imgCache)
	}
	if bus != nil {
		tree.AddMessagingService(bus)
	}
	tree.AddMessagingService(mgr)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(adapter)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("recdeck running")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree exited")
	}
	logging.Info().Msg("recdeck stopped")
}
