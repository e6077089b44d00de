// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/protocol"
	"github.com/recdeck/recdeck/internal/websocket"
)

// Engine is the recommendation surface the handlers drive. Implemented by
// the manager.
type Engine interface {
	Dismiss(key string)
	Image(ctx context.Context, key string) ([]byte, error)
	Blacklist() []string
	SetBlacklist(keys []string) error
	SourcesWithRecommendations() []string
	OnOpenLaunchPoint(key, group string)
	OnOpenRecommendation(key, group string)
	OnRecommendationImpression(key, group string)
}

// Handler holds the HTTP endpoint implementations.
type Handler struct {
	engine   Engine
	hub      *websocket.Hub
	ready    func() bool
	upgrader gorilla.Upgrader
}

// NewHandler builds the endpoint set. The ready func reports whether the
// scoring state has finished loading, for the health endpoint.
func NewHandler(engine Engine, hub *websocket.Hub, ready func() bool) *Handler {
	return &Handler{
		engine: engine,
		hub:    hub,
		ready:  ready,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// consumers are on-device launchers, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Health reports liveness and whether scoring state has loaded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"ready":  h.ready(),
	})
}

// Stream upgrades the connection and registers a push consumer. The
// client names its protocol version; older clients are accepted and a
// version newer than ours is rejected before the upgrade so the client
// can renegotiate.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")
	if version != "" {
		v, err := strconv.Atoi(version)
		if err != nil || v > protocol.Version {
			writeError(w, http.StatusUpgradeRequired, "version_mismatch",
				"unsupported protocol version, server speaks "+strconv.Itoa(protocol.Version))
			return
		}
	}

	channel := websocket.ChannelNormal
	switch r.URL.Query().Get("channel") {
	case "", string(websocket.ChannelNormal):
	case string(websocket.ChannelPartner):
		channel = websocket.ChannelPartner
	default:
		writeError(w, http.StatusBadRequest, "bad_channel", "channel must be normal or partner")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	websocket.NewConsumer(h.hub, conn, channel).Start()
}

type actionRequest struct {
	Key   string `json:"key"`
	Group string `json:"group,omitempty"`
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return req, false
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return req, false
	}
	return req, true
}

// OpenLaunchPoint records that the user opened a source's launch point.
func (h *Handler) OpenLaunchPoint(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	h.engine.OnOpenLaunchPoint(req.Key, req.Group)
	writeJSON(w, http.StatusAccepted, nil)
}

// OpenRecommendation records that the user opened a recommendation card.
func (h *Handler) OpenRecommendation(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	h.engine.OnOpenRecommendation(req.Key, req.Group)
	writeJSON(w, http.StatusAccepted, nil)
}

// Impression records that a recommendation card was shown on screen.
func (h *Handler) Impression(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	h.engine.OnRecommendationImpression(req.Key, req.Group)
	writeJSON(w, http.StatusAccepted, nil)
}

// Dismiss asks the source to withdraw a card.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	h.engine.Dismiss(key)
	writeJSON(w, http.StatusAccepted, nil)
}

// Image serves a card's image, fetching and caching on first request.
func (h *Handler) Image(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	data, err := h.engine.Image(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "image_unavailable", err.Error())
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "max-age=3600")
	if _, err := w.Write(data); err != nil {
		logging.Warn().Err(err).Msg("failed to write image response")
	}
}

// BlacklistGet returns the current source blacklist.
func (h *Handler) BlacklistGet(w http.ResponseWriter, r *http.Request) {
	keys := h.engine.Blacklist()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

type blacklistRequest struct {
	Keys []string `json:"keys"`
}

// BlacklistPut replaces the source blacklist. Existing cards from newly
// blacklisted sources are withdrawn on the next state reload.
func (h *Handler) BlacklistPut(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := h.engine.SetBlacklist(req.Keys); err != nil {
		writeError(w, http.StatusInternalServerError, "blacklist_save_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": req.Keys})
}

// Sources lists every source key that has ever posted a recommendation.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	keys := h.engine.SourcesWithRecommendations()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sources": keys})
}
