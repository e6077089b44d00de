// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package protocol defines the versioned wire surface between the engine
// and its registered consumers: the recommendation transfer record, the
// add/update/remove operations, and the push envelopes broadcast after
// each flush.
package protocol

// Version is the current protocol version. Registration carries the
// client's version; older clients are tolerated, and no fields are gated
// by version yet.
const Version = 1

// ClearReason explains a clear-all signal to consumers. The values are
// part of the wire contract and must not be renumbered.
type ClearReason int

const (
	// ClearReasonAllBlacklisted means every active recommendation came
	// from a blacklisted source.
	ClearReasonAllBlacklisted ClearReason = 2

	// ClearReasonNoRecommendations is the default clear reason: nothing
	// to show, or the engine is restarting its delivery state.
	ClearReasonNoRecommendations ClearReason = 3

	// ClearReasonBlacklistAndEmpty means nothing is active and at least
	// one source is blacklisted.
	ClearReasonBlacklistAndEmpty ClearReason = 4
)

// String returns a short label for logging and metrics.
func (r ClearReason) String() string {
	switch r {
	case ClearReasonAllBlacklisted:
		return "all_blacklisted"
	case ClearReasonNoRecommendations:
		return "no_recommendations"
	case ClearReasonBlacklistAndEmpty:
		return "blacklist_and_empty"
	default:
		return "unknown"
	}
}

// OpKind is the type of one delivery operation.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpRemove OpKind = "remove"
)

// Recommendation is the immutable transfer record for one card. It is
// produced by a pure mapping from the engine's internal notification and
// never mutated; re-scoring produces a new record with the same identity.
type Recommendation struct {
	SourceKey      string  `json:"source_key"`
	ID             string  `json:"id"`
	Tag            string  `json:"tag,omitempty"`
	PostTime       int64   `json:"post_time"`
	Group          string  `json:"group,omitempty"`
	SortKey        string  `json:"sort_key,omitempty"`
	ClickAction    string  `json:"click_action,omitempty"`
	AutoDismiss    bool    `json:"auto_dismiss"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Color          string  `json:"color,omitempty"`
	ImageURI       string  `json:"image_uri,omitempty"`
	BackgroundURI  string  `json:"background_uri,omitempty"`
	Title          string  `json:"title,omitempty"`
	Text           string  `json:"text,omitempty"`
	SourceName     string  `json:"source_name,omitempty"`
	BadgeIcon      string  `json:"badge_icon,omitempty"`
	Progress       int     `json:"progress"`
	ProgressMax    int     `json:"progress_max"`
	Score          float64 `json:"score"`
	ReplacesSource string  `json:"replaces_source,omitempty"`
}

// Key returns the record's stable identity: source key, id and tag.
func (r Recommendation) Key() string {
	return r.SourceKey + "|" + r.ID + "|" + r.Tag
}

// Operation pairs one delivery action with its record.
type Operation struct {
	Kind OpKind         `json:"kind"`
	Rec  Recommendation `json:"recommendation"`
}

// Envelope message types.
const (
	TypeServiceStatus = "service_status"
	TypeClear         = "clear_recommendations"
	TypeBatch         = "recommendation_batch"
)

// Envelope is one push message to a consumer. Exactly one of the payload
// fields is populated, selected by Type.
type Envelope struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Ready   *bool        `json:"ready,omitempty"`
	Reason  *ClearReason `json:"reason,omitempty"`
	Ops     []Operation  `json:"ops,omitempty"`
}

// ServiceStatus builds a service-ready/not-ready envelope.
func ServiceStatus(ready bool) Envelope {
	return Envelope{Type: TypeServiceStatus, Version: Version, Ready: &ready}
}

// Clear builds a clear-all envelope.
func Clear(reason ClearReason) Envelope {
	return Envelope{Type: TypeClear, Version: Version, Reason: &reason}
}

// Batch builds one flush's worth of operations as a single logical
// transaction.
func Batch(ops []Operation) Envelope {
	return Envelope{Type: TypeBatch, Version: Version, Ops: ops}
}
