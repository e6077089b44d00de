// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package notify

// Source is the engine's handle on the external notification source.
type Source interface {
	// FetchExistingNotifications asks the source to replay every
	// currently-active notification through the intake.
	FetchExistingNotifications()

	// CancelRecommendation tells the source to withdraw a card, typically
	// because its source hit the per-source cap or the user dismissed it.
	CancelRecommendation(key string)

	// Notification returns the source's current notification for a key,
	// if it still exists.
	Notification(key string) (*Notification, bool)
}

// Intake is the engine-side surface the source delivers events into.
// Implemented by the recommendation manager.
type Intake interface {
	SendConnectionStatus(connected bool)
	AddNotification(n *Notification)
	RemoveNotification(n *Notification)
	ResetNotifications()
	AddCaptivePortalNotification(n *Notification)
	RemoveAllCaptivePortalNotifications()
}
