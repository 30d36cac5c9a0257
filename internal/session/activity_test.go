package session

import (
	"testing"
	"time"
)

func TestActivityTrackerIdleDuration(t *testing.T) {
	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	tracker := NewActivityTracker(func() time.Time { return now })

	if idle := tracker.IdleDuration(); idle != 0 {
		t.Fatalf("expected zero idle at creation, got %v", idle)
	}

	now = now.Add(42 * time.Second)
	if idle := tracker.IdleDuration(); idle != 42*time.Second {
		t.Fatalf("expected 42s idle, got %v", idle)
	}

	tracker.MarkActivity()
	now = now.Add(3 * time.Second)
	if idle := tracker.IdleDuration(); idle != 3*time.Second {
		t.Fatalf("expected 3s idle after mark, got %v", idle)
	}
}
