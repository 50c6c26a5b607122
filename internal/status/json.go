package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string       `json:"event,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Mode            string       `json:"mode"`
	Power           string       `json:"power"`
	PendingShutdown bool         `json:"pending_shutdown"`
	Suspended       bool         `json:"suspended"`
	ActiveSince     string       `json:"active_since,omitempty"`
	Battery         BatteryJSON  `json:"battery"`
	UptimeSeconds   int64        `json:"uptime_seconds"`
	StartTime       string       `json:"start_time"`
	Timestamp       string       `json:"timestamp"`
	MQTT            MQTTStatus   `json:"mqtt"`
	Counts          CountsJSON   `json:"event_counts"`
	Peer            PeerJSON     `json:"peer"`
	Network         *NetworkJSON `json:"network,omitempty"`
	Config          ConfigJSON   `json:"config"`
}

// BatteryJSON is the last battery reading.
type BatteryJSON struct {
	Percent   uint8   `json:"percent"`
	Volts     float64 `json:"volts"`
	Raw       uint16  `json:"raw"`
	SampledAt string  `json:"sampled_at,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	RelayOn   int `json:"relay_on"`
	RelayOff  int `json:"relay_off"`
	Retrigger int `json:"retrigger"`
	Mode      int `json:"mode"`
	Cutoff    int `json:"cutoff"`
}

// PeerJSON is the JSON representation of peer handler counters.
type PeerJSON struct {
	Accepted uint64 `json:"accepted"`
	Ignored  uint64 `json:"ignored"`
	Dropped  uint64 `json:"dropped"`
	Requests uint64 `json:"requests"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs           int64   `json:"tick_ms"`
	SampleIntervalMs int64   `json:"sample_interval_ms"`
	WindowMs         int64   `json:"window_ms"`
	HeartbeatMs      int64   `json:"heartbeat_ms"`
	Broker           string  `json:"broker"`
	RelayActiveHigh  bool    `json:"relay_active_high"`
	CutoffEnabled    bool    `json:"cutoff_enabled"`
	CutoffVolts      float64 `json:"cutoff_volts"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Mode:            orUnknown(string(snap.Mode)),
		Power:           orUnknown(string(snap.Power)),
		PendingShutdown: snap.PendingShutdown,
		Suspended:       snap.Suspended,
		ActiveSince:     formatTime(snap.ActiveSince),
		Battery: BatteryJSON{
			Percent:   snap.Battery.Percent,
			Volts:     float64(int(snap.Battery.Voltage*100+0.5)) / 100,
			Raw:       snap.Battery.Raw,
			SampledAt: formatTime(snap.Battery.Time),
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			RelayOn:   snap.Counts.RelayOn,
			RelayOff:  snap.Counts.RelayOff,
			Retrigger: snap.Counts.Retrigger,
			Mode:      snap.Counts.Mode,
			Cutoff:    snap.Counts.Cutoff,
		},
		Peer: PeerJSON{
			Accepted: snap.Peer.Accepted,
			Ignored:  snap.Peer.Ignored,
			Dropped:  snap.Peer.Dropped,
			Requests: snap.Peer.Requests,
		},
		Config: ConfigJSON{
			TickMs:           snap.Config.TickMs,
			SampleIntervalMs: snap.Config.SampleIntervalMs,
			WindowMs:         snap.Config.WindowMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			Broker:           snap.Config.Broker,
			RelayActiveHigh:  snap.Config.RelayActiveHigh,
			CutoffEnabled:    snap.Config.CutoffEnabled,
			CutoffVolts:      snap.Config.CutoffVolts,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns indented JSON status for local inspection (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
