package models

import (
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

func TestCollection(t *testing.T) {
	t.Run("NewCollection is pending", func(t *testing.T) {
		c := NewCollection("PL1", "Mix")
		if c.Status != StatusPending {
			t.Errorf("expected pending, got %s", c.Status)
		}
		if c.CreatedAt().IsZero() || !c.CreatedAt().Equal(c.UpdatedAt()) {
			t.Error("expected created and updated timestamps to be set together")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(c *Collection)
			valid  bool
		}{
			{"valid", func(c *Collection) {}, true},
			{"blank remote id", func(c *Collection) { c.RemoteID = "  " }, false},
			{"negative item count", func(c *Collection) { c.ItemCount = -1 }, false},
			{"unknown status", func(c *Collection) { c.Status = "paused" }, false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := NewCollection("PL1", "Mix")
				tt.mutate(c)
				err := c.Validate()
				if tt.valid && err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				if !tt.valid && !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			})
		}
	})

	t.Run("ApplyRemote", func(t *testing.T) {
		c := NewCollection("PL1", "Old")
		c.ItemCount = 4
		c.ApplyRemote(&RemoteCollection{RemoteID: "PL1", Title: "New", Description: "d", ChannelTitle: "ch", ItemCount: 9})
		if c.Title != "New" || c.Description != "d" || c.ChannelTitle != "ch" {
			t.Errorf("expected remote metadata to be copied, got %+v", c)
		}
		if c.ItemCount != 4 {
			t.Error("item count is owned by sync and must not be copied from metadata")
		}
	})
}

func TestVideo(t *testing.T) {
	v := NewVideo("dQw4w9WgXcQ", "Song")
	if err := v.Validate(); err != nil {
		t.Fatalf("expected valid video, got %v", err)
	}
	if v.URL() != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("unexpected URL %s", v.URL())
	}

	v.Duration = -time.Second
	if !errors.Is(v.Validate(), shared.ErrInvalidInput) {
		t.Error("expected negative duration to be rejected")
	}
}

func TestSyncStatus(t *testing.T) {
	for _, s := range []SyncStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if SyncStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestQuotaUsageRemaining(t *testing.T) {
	if got := (QuotaUsage{Used: 30, Limit: 100}).Remaining(); got != 70 {
		t.Errorf("expected 70, got %d", got)
	}
	if got := (QuotaUsage{Used: 120, Limit: 100}).Remaining(); got != 0 {
		t.Errorf("expected remaining to floor at 0, got %d", got)
	}
}

func TestSyncAuditDuration(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a := SyncAudit{StartedAt: start}
	if a.Duration() != 0 {
		t.Error("expected open audit to have zero duration")
	}
	end := start.Add(90 * time.Second)
	a.CompletedAt = &end
	if a.Duration() != 90*time.Second {
		t.Errorf("expected 90s, got %v", a.Duration())
	}
}

func TestMember(t *testing.T) {
	m := Member{RemoteVideoID: "abc"}
	if !m.Active() {
		t.Error("expected member without tombstone to be active")
	}
	now := time.Now()
	m.RemovedAt = &now
	if m.Active() {
		t.Error("expected tombstoned member to be inactive")
	}
	if (MemberView{Member: m}).URL() != "https://www.youtube.com/watch?v=abc" {
		t.Error("unexpected member URL")
	}
}
