// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package notify

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/metrics"
)

// Subjects of the notification source protocol. The source publishes
// events on the notifications.* subjects; the engine talks back on the
// source.* subjects.
const (
	SubjectPosted         = "recdeck.notifications.posted"
	SubjectRemoved        = "recdeck.notifications.removed"
	SubjectReset          = "recdeck.notifications.reset"
	SubjectCaptivePosted  = "recdeck.notifications.captive.posted"
	SubjectCaptiveRemoved = "recdeck.notifications.captive.removed"
	SubjectStatus         = "recdeck.source.status"
	SubjectCancel         = "recdeck.source.cancel"
	SubjectFetch          = "recdeck.source.fetch"
	SubjectGet            = "recdeck.source.get"
)

// AdapterConfig tunes the NATS source adapter.
type AdapterConfig struct {
	// URL is the NATS server to connect to. With an embedded server this
	// is its client URL.
	URL string

	// IntakeRate and IntakeBurst bound how many source events per second
	// are accepted; excess events are dropped with a warning.
	IntakeRate  float64
	IntakeBurst int

	// RequestTimeout bounds the get-notification request-reply call.
	RequestTimeout time.Duration
}

// DefaultAdapterConfig returns the adapter defaults.
func DefaultAdapterConfig(url string) AdapterConfig {
	return AdapterConfig{
		URL:            url,
		IntakeRate:     200,
		IntakeBurst:    500,
		RequestTimeout: 2 * time.Second,
	}
}

type statusPayload struct {
	Connected bool `json:"connected"`
}

// Adapter bridges a NATS-connected notification source to the engine's
// intake. It implements Source for the engine-to-source direction and
// suture.Service for lifecycle.
type Adapter struct {
	cfg     AdapterConfig
	intake  Intake
	limiter *rate.Limiter

	nc *nats.Conn
}

// NewAdapter creates an adapter delivering into the given intake.
func NewAdapter(cfg AdapterConfig, intake Intake) *Adapter {
	if cfg.IntakeRate <= 0 {
		cfg.IntakeRate = 200
	}
	if cfg.IntakeBurst <= 0 {
		cfg.IntakeBurst = 500
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		intake:  intake,
		limiter: rate.NewLimiter(rate.Limit(cfg.IntakeRate), cfg.IntakeBurst),
	}
}

// Serve connects, subscribes to the source subjects, and blocks until ctx
// is cancelled. Implements suture.Service; a connection failure returns an
// error so the supervisor restarts the adapter with backoff.
func (a *Adapter) Serve(ctx context.Context) error {
	nc, err := nats.Connect(a.cfg.URL,
		nats.Name("recdeck-source"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("source connection lost")
			metrics.SourceConnected.Set(0)
			a.intake.SendConnectionStatus(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logging.Info().Msg("source connection restored")
			metrics.SourceConnected.Set(1)
			a.intake.SendConnectionStatus(true)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to source bus %s: %w", a.cfg.URL, err)
	}
	a.nc = nc
	defer func() {
		a.nc = nil
		nc.Close()
	}()

	subs := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectPosted, a.onNotification("add", a.intake.AddNotification)},
		{SubjectRemoved, a.onNotification("remove", a.intake.RemoveNotification)},
		{SubjectCaptivePosted, a.onNotification("captive_add", a.intake.AddCaptivePortalNotification)},
		{SubjectReset, func(_ *nats.Msg) {
			metrics.IntakeEvents.WithLabelValues("reset").Inc()
			a.intake.ResetNotifications()
		}},
		{SubjectCaptiveRemoved, func(_ *nats.Msg) {
			metrics.IntakeEvents.WithLabelValues("captive_remove").Inc()
			a.intake.RemoveAllCaptivePortalNotifications()
		}},
		{SubjectStatus, a.onStatus},
	}
	for _, sub := range subs {
		if _, err := nc.Subscribe(sub.subject, sub.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.subject, err)
		}
	}

	logging.Info().Str("url", a.cfg.URL).Msg("source adapter connected")
	metrics.SourceConnected.Set(1)
	a.intake.SendConnectionStatus(true)

	<-ctx.Done()

	a.intake.SendConnectionStatus(false)
	metrics.SourceConnected.Set(0)
	if err := nc.Drain(); err != nil {
		logging.Warn().Err(err).Msg("source drain failed")
	}
	return ctx.Err()
}

func (a *Adapter) onNotification(kind string, deliver func(*Notification)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if !a.limiter.Allow() {
			logging.Warn().Str("subject", msg.Subject).Msg("intake rate exceeded, dropping event")
			return
		}
		var n Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed notification event")
			return
		}
		if n.SourceKey == "" {
			logging.Warn().Str("subject", msg.Subject).Msg("notification event without source key")
			return
		}
		metrics.IntakeEvents.WithLabelValues(kind).Inc()
		deliver(&n)
	}
}

func (a *Adapter) onStatus(msg *nats.Msg) {
	var p statusPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		logging.Warn().Err(err).Msg("malformed source status event")
		return
	}
	if p.Connected {
		metrics.SourceConnected.Set(1)
	} else {
		metrics.SourceConnected.Set(0)
	}
	a.intake.SendConnectionStatus(p.Connected)
}

// FetchExistingNotifications implements Source.
func (a *Adapter) FetchExistingNotifications() {
	nc := a.nc
	if nc == nil {
		return
	}
	if err := nc.Publish(SubjectFetch, nil); err != nil {
		logging.Warn().Err(err).Msg("fetch-existing publish failed")
	}
}

// CancelRecommendation implements Source.
func (a *Adapter) CancelRecommendation(key string) {
	nc := a.nc
	if nc == nil {
		return
	}
	if err := nc.Publish(SubjectCancel, []byte(key)); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("cancel publish failed")
	}
}

// Notification implements Source via request-reply.
func (a *Adapter) Notification(key string) (*Notification, bool) {
	nc := a.nc
	if nc == nil {
		return nil, false
	}
	msg, err := nc.Request(SubjectGet, []byte(key), a.cfg.RequestTimeout)
	if err != nil || len(msg.Data) == 0 {
		return nil, false
	}
	var n Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("malformed get-notification reply")
		return nil, false
	}
	return &n, true
}

// String implements fmt.Stringer for supervisor logs.
func (a *Adapter) String() string { return "notify-adapter" }
