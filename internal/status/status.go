// Package status provides a thread-safe status tracker for the payload-power
// daemon. The main loop writes it; heartbeats and lifecycle events read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/payload-power/internal/battery"
	"github.com/sweeney/payload-power/internal/controller"
	"github.com/sweeney/payload-power/internal/logic"
	"github.com/sweeney/payload-power/internal/peer"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs           int64
	SampleIntervalMs int64
	WindowMs         int64
	HeartbeatMs      int64
	Broker           string
	RelayActiveHigh  bool
	CutoffEnabled    bool
	CutoffVolts      float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Mode            logic.Mode
	Power           logic.PowerState
	PendingShutdown bool
	Suspended       bool
	ActiveSince     time.Time
	Battery         battery.Reading
	Counts          logic.EventCounts
	Peer            peer.Stats
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	Network         *NetworkInfo
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update copies the controller state. Called from runLoop on every tick.
func (t *Tracker) Update(st controller.State) {
	t.mu.Lock()
	t.snap.Mode = st.Mode
	t.snap.Power = st.Power
	t.snap.PendingShutdown = st.PendingShutdown
	t.snap.Suspended = st.Suspended
	t.snap.ActiveSince = st.ActiveSince
	t.snap.Battery = st.Battery
	t.snap.Counts = st.Counts
	t.mu.Unlock()
}

// SetPeerStats records the peer handler counters.
func (t *Tracker) SetPeerStats(s peer.Stats) {
	t.mu.Lock()
	t.snap.Peer = s
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
