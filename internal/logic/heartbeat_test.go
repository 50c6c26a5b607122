package logic

import (
	"testing"
	"time"
)

func TestHeartbeatNotDueBeforeInterval(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHeartbeat(time.Minute, start)

	if hb := h.Check(start.Add(59 * time.Second)); hb != nil {
		t.Fatalf("expected no heartbeat, got %+v", hb)
	}
}

func TestHeartbeatDueAtInterval(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHeartbeat(time.Minute, start)

	hb := h.Check(start.Add(time.Minute))
	if hb == nil {
		t.Fatal("expected heartbeat")
	}
	if hb.Uptime != time.Minute {
		t.Errorf("uptime: got %v, want 1m", hb.Uptime)
	}
	if !hb.Timestamp.Equal(start.Add(time.Minute)) {
		t.Errorf("timestamp: got %v", hb.Timestamp)
	}
}

func TestHeartbeatResetsAfterFiring(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHeartbeat(time.Minute, start)

	h.Check(start.Add(70 * time.Second))
	if hb := h.Check(start.Add(2 * time.Minute)); hb != nil {
		t.Fatal("interval restarts from the last heartbeat, not startup")
	}
	hb := h.Check(start.Add(130 * time.Second))
	if hb == nil {
		t.Fatal("expected second heartbeat")
	}
	if hb.Uptime != 130*time.Second {
		t.Errorf("uptime is measured from startup: got %v", hb.Uptime)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, interval := range []time.Duration{0, -time.Second} {
		h := NewHeartbeat(interval, start)
		if hb := h.Check(start.Add(24 * time.Hour)); hb != nil {
			t.Errorf("interval %v: expected disabled, got %+v", interval, hb)
		}
	}
}
