package logic

import "time"

// DefaultHeartbeat is the interval between status heartbeats.
const DefaultHeartbeat = 15 * time.Minute

// HeartbeatData is returned when a heartbeat is due.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
}

// Heartbeat schedules periodic status reports from injected time.
type Heartbeat struct {
	interval  time.Duration
	startTime time.Time
	last      time.Time
}

// NewHeartbeat creates a schedule whose first beat is one interval after start.
// An interval <= 0 disables it.
func NewHeartbeat(interval time.Duration, start time.Time) *Heartbeat {
	return &Heartbeat{interval: interval, startTime: start, last: start}
}

// Check returns heartbeat data if the interval has elapsed since the last
// heartbeat (or startup), or nil otherwise.
func (h *Heartbeat) Check(now time.Time) *HeartbeatData {
	if h.interval <= 0 {
		return nil
	}
	if now.Sub(h.last) < h.interval {
		return nil
	}

	h.last = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(h.startTime),
	}
}
