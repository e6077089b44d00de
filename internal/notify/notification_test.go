// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package notify

import "testing"

func TestNotificationClassification(t *testing.T) {
	tests := []struct {
		name          string
		n             Notification
		recommendation bool
		partner       bool
		captive       bool
	}{
		{
			name:          "plain recommendation",
			n:             Notification{Category: CategoryRecommendation, Group: "movies"},
			recommendation: true,
		},
		{
			name:    "partner row entry",
			n:       Notification{Category: CategoryRecommendation, Group: PartnerRowGroup},
			recommendation: true,
			partner: true,
		},
		{
			name:    "captive portal tag",
			n:       Notification{Tag: "CaptivePortal.Notification"},
			captive: true,
		},
		{
			name:    "connectivity tag prefix",
			n:       Notification{Tag: "ConnectivityNotification:wlan0"},
			captive: true,
		},
		{
			name: "unrelated tag",
			n:    Notification{Tag: "Sync.Notification"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.n.IsRecommendation(); got != tt.recommendation {
				t.Errorf("IsRecommendation() = %v, want %v", got, tt.recommendation)
			}
			if got := tt.n.IsPartnerRow(); got != tt.partner {
				t.Errorf("IsPartnerRow() = %v, want %v", got, tt.partner)
			}
			if got := tt.n.IsCaptivePortal(); got != tt.captive {
				t.Errorf("IsCaptivePortal() = %v, want %v", got, tt.captive)
			}
		})
	}
}

func TestNotificationIdentity(t *testing.T) {
	a := &Notification{SourceKey: "app.a", ID: "1", Tag: "t"}
	b := &Notification{SourceKey: "app.a", ID: "1", Tag: "t", Title: "different payload"}
	c := &Notification{SourceKey: "app.a", ID: "2", Tag: "t"}

	if !Equal(a, b) {
		t.Error("same identity with different payload should be equal")
	}
	if Equal(a, c) {
		t.Error("different ids should not be equal")
	}
	if a.Key() != "app.a|1|t" {
		t.Errorf("Key() = %q, want app.a|1|t", a.Key())
	}
}

func TestNotificationRecord(t *testing.T) {
	n := &Notification{
		SourceKey:   "app.a",
		ID:          "7",
		Tag:         "t",
		Group:       "movies",
		Title:       "Title",
		Progress:    40,
		ProgressMax: 100,
	}

	rec := n.Record(0.42)
	if rec.Score != 0.42 {
		t.Errorf("Score = %f, want 0.42", rec.Score)
	}
	if rec.Key() != n.Key() {
		t.Errorf("record key %q != notification key %q", rec.Key(), n.Key())
	}
	if rec.Progress != 40 || rec.ProgressMax != 100 {
		t.Errorf("progress = %d/%d, want 40/100", rec.Progress, rec.ProgressMax)
	}

	t.Run("indeterminate progress is dropped", func(t *testing.T) {
		n2 := *n
		n2.ProgressIndeterminate = true
		rec := n2.Record(0)
		if rec.Progress != 0 || rec.ProgressMax != 0 {
			t.Errorf("progress = %d/%d, want zeroed for indeterminate", rec.Progress, rec.ProgressMax)
		}
	})
}
