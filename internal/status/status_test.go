package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/payload-power/internal/battery"
	"github.com/sweeney/payload-power/internal/controller"
	"github.com/sweeney/payload-power/internal/logic"
	"github.com/sweeney/payload-power/internal/peer"
)

var start = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

var testConfig = Config{
	TickMs:           50,
	SampleIntervalMs: 10000,
	WindowMs:         60000,
	HeartbeatMs:      900000,
	Broker:           "tcp://broker:1883",
	RelayActiveHigh:  true,
	CutoffVolts:      5.4,
}

func fixedTracker(now time.Time) *Tracker {
	tr := NewTracker(start, testConfig)
	tr.now = func() time.Time { return now }
	return tr
}

func poweredState() controller.State {
	return controller.State{
		Mode:        logic.ModeMotion,
		Power:       logic.Powered,
		ActiveSince: start.Add(time.Minute),
		Battery: battery.Reading{
			Time:    start.Add(30 * time.Second),
			Raw:     327,
			Voltage: 7.9912,
			Percent: 75,
		},
		Counts: logic.EventCounts{RelayOn: 2, RelayOff: 1, Retrigger: 3, Mode: 1},
	}
}

func TestNewTracker(t *testing.T) {
	tr := NewTracker(start, testConfig)
	snap := tr.Snapshot()

	require.Equal(t, start, snap.StartTime)
	require.Equal(t, testConfig, snap.Config)
	require.Empty(t, snap.Mode)
	require.False(t, snap.MQTTConnected)
	require.Nil(t, snap.Network)
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := fixedTracker(start.Add(2 * time.Minute))
	tr.Update(poweredState())
	tr.SetPeerStats(peer.Stats{Accepted: 4, Requests: 9})

	snap := tr.Snapshot()
	require.Equal(t, logic.ModeMotion, snap.Mode)
	require.Equal(t, logic.Powered, snap.Power)
	require.Equal(t, uint8(75), snap.Battery.Percent)
	require.Equal(t, 3, snap.Counts.Retrigger)
	require.Equal(t, uint64(9), snap.Peer.Requests)
	require.Equal(t, 2*time.Minute, snap.Uptime())
}

func TestSetMQTTConnectedAndNetwork(t *testing.T) {
	tr := NewTracker(start, testConfig)
	tr.SetMQTTConnected(true)
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "10.0.0.7"})

	snap := tr.Snapshot()
	require.True(t, snap.MQTTConnected)
	require.Equal(t, "10.0.0.7", snap.Network.IP)
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, testConfig)
	tr.Update(poweredState())
	snap := tr.Snapshot()

	tr.Update(controller.State{Mode: logic.ModeAlwaysOn})
	require.Equal(t, logic.ModeMotion, snap.Mode, "earlier snapshot unaffected")
}

func TestFormatStatusEvent(t *testing.T) {
	tr := fixedTracker(start.Add(90 * time.Second))
	tr.Update(poweredState())
	tr.SetMQTTConnected(true)

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "HEARTBEAT", ""), &parsed))

	s := parsed.Status
	require.Equal(t, "HEARTBEAT", s.Event)
	require.Empty(t, s.Reason)
	require.Equal(t, "MOTION_TRIGGERED", s.Mode)
	require.Equal(t, "POWERED", s.Power)
	require.Equal(t, "2026-03-01T06:01:00Z", s.ActiveSince)
	require.Equal(t, uint8(75), s.Battery.Percent)
	require.Equal(t, 7.99, s.Battery.Volts)
	require.Equal(t, uint16(327), s.Battery.Raw)
	require.Equal(t, int64(90), s.UptimeSeconds)
	require.Equal(t, "2026-03-01T06:00:00Z", s.StartTime)
	require.Equal(t, "2026-03-01T06:01:30Z", s.Timestamp)
	require.True(t, s.MQTT.Connected)
	require.Equal(t, "tcp://broker:1883", s.MQTT.Broker)
	require.Equal(t, CountsJSON{RelayOn: 2, RelayOff: 1, Retrigger: 3, Mode: 1}, s.Counts)
	require.Equal(t, int64(60000), s.Config.WindowMs)
	require.Nil(t, s.Network)
}

func TestFormatStatusEventShutdown(t *testing.T) {
	tr := fixedTracker(start)
	data := string(FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM"))

	require.Contains(t, data, `"event":"SHUTDOWN"`)
	require.Contains(t, data, `"reason":"SIGTERM"`)
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	tr := fixedTracker(start)
	data := string(FormatStatusEvent(tr.Snapshot(), "STARTUP", ""))
	require.NotContains(t, data, `"reason"`)
}

func TestFormatJSONUnknownState(t *testing.T) {
	tr := fixedTracker(start)
	data := FormatJSON(tr.Snapshot())

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Equal(t, "UNKNOWN", parsed.Status.Mode)
	require.Equal(t, "UNKNOWN", parsed.Status.Power)
	require.Empty(t, parsed.Status.Event)
	require.Empty(t, parsed.Status.ActiveSince)
	require.Empty(t, parsed.Status.Battery.SampledAt)
	require.True(t, strings.Contains(string(data), "\n  "), "indented")
}

func TestFormatJSONWithNetwork(t *testing.T) {
	tr := fixedTracker(start)
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "10.0.0.7", Status: "up", SSID: "garden"})

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed))
	require.NotNil(t, parsed.Status.Network)
	require.Equal(t, "garden", parsed.Status.Network.SSID)
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(start, testConfig)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(poweredState())
				tr.SetMQTTConnected(j%2 == 0)
				tr.SetPeerStats(peer.Stats{Requests: uint64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatStatusEvent(tr.Snapshot(), "HEARTBEAT", "")
			}
		}()
	}
	wg.Wait()
}
