// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package notify

import (
	"strings"

	"github.com/recdeck/recdeck/internal/protocol"
	"github.com/recdeck/recdeck/internal/rank"
)

const (
	// CategoryRecommendation marks a notification as a launcher card.
	CategoryRecommendation = "recommendation"

	// PartnerRowGroup routes a notification to the unscored partner row.
	PartnerRowGroup = "partner_row_entry"

	captivePortalTag      = "CaptivePortal.Notification"
	connectivityTag       = "Connectivity.Notification"
	connectivityTagPrefix = "ConnectivityNotification:"
)

// Notification is the engine's view of one raw notification event as
// posted by the external source. Identity is (SourceKey, ID, Tag).
type Notification struct {
	SourceKey string `json:"source_key"`
	ID        string `json:"id"`
	Tag       string `json:"tag,omitempty"`
	PostTime  int64  `json:"post_time"`

	Category string `json:"category,omitempty"`
	Group    string `json:"group,omitempty"`
	SortKey  string `json:"sort_key,omitempty"`
	Priority int    `json:"priority"`

	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	SourceName string `json:"source_name,omitempty"`

	ClickAction    string `json:"click_action,omitempty"`
	Color          string `json:"color,omitempty"`
	BadgeIcon      string `json:"badge_icon,omitempty"`
	ImageURI       string `json:"image_uri,omitempty"`
	BackgroundURI  string `json:"background_uri,omitempty"`
	ReplacesSource string `json:"replaces_source,omitempty"`

	Progress              int  `json:"progress"`
	ProgressMax           int  `json:"progress_max"`
	ProgressIndeterminate bool `json:"progress_indeterminate"`
	AutoDismiss           bool `json:"auto_dismiss"`

	// Width and Height are filled in by the delivery pipeline once the
	// card image dimensions have been capped.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Key returns the notification's stable identity string.
func (n *Notification) Key() string {
	return n.SourceKey + "|" + n.ID + "|" + n.Tag
}

// Equal reports whether two notifications have the same identity.
func Equal(a, b *Notification) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SourceKey == b.SourceKey && a.ID == b.ID && a.Tag == b.Tag
}

// IsRecommendation reports whether the notification is a launcher card.
func (n *Notification) IsRecommendation() bool {
	return n.Category == CategoryRecommendation
}

// IsPartnerRow reports whether the notification belongs to the unscored
// partner row.
func (n *Notification) IsPartnerRow() bool {
	return n.Group == PartnerRowGroup
}

// IsCaptivePortal reports whether the notification is a captive-portal
// notice, which is force-pinned to the front of its source's row.
func (n *Notification) IsCaptivePortal() bool {
	if n.Tag == captivePortalTag {
		return true
	}
	return n.Tag == connectivityTag || strings.HasPrefix(n.Tag, connectivityTagPrefix)
}

// Card builds the scoring view of this notification with all score slots
// unset.
func (n *Notification) Card() *rank.Card {
	return rank.NewCard(n.SourceKey, "", n.Group, n.Title, n.SortKey, n.Priority)
}

// Record maps the notification to its immutable transfer record, stamping
// the given combined score. The progress fields are only carried when the
// source reported determinate progress.
func (n *Notification) Record(score float64) protocol.Recommendation {
	rec := protocol.Recommendation{
		SourceKey:      n.SourceKey,
		ID:             n.ID,
		Tag:            n.Tag,
		PostTime:       n.PostTime,
		Group:          n.Group,
		SortKey:        n.SortKey,
		ClickAction:    n.ClickAction,
		AutoDismiss:    n.AutoDismiss,
		Width:          n.Width,
		Height:         n.Height,
		Color:          n.Color,
		ImageURI:       n.ImageURI,
		BackgroundURI:  n.BackgroundURI,
		Title:          n.Title,
		Text:           n.Text,
		SourceName:     n.SourceName,
		BadgeIcon:      n.BadgeIcon,
		ReplacesSource: n.ReplacesSource,
		Score:          score,
	}
	if !n.ProgressIndeterminate {
		rec.Progress = n.Progress
		rec.ProgressMax = n.ProgressMax
	}
	return rec
}
