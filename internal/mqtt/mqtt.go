// Package mqtt publishes controller diagnostics over MQTT, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/denisbrodbeck/machineid"

	"github.com/sweeney/payload-power/internal/logic"
)

// DefaultPrefix is the topic prefix for all controller topics.
const DefaultPrefix = "garden/payload-power"

// Topic suffixes under the prefix.
const (
	TopicEvents = "/events"
	TopicSystem = "/system"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "CUTOFF"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Power PowerPayload `json:"power"`
}

// PowerPayload contains the transition details.
type PowerPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a relay transition.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Power: PowerPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Reason:    string(event.Reason),
			Mode:      string(event.Mode),
			State:     string(event.State),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// DefaultClientID derives a stable client ID from the machine ID, falling
// back to a fixed name when the machine ID is unavailable.
func DefaultClientID() string {
	id, err := machineid.ProtectedID("payload-power")
	if err != nil || len(id) < 8 {
		return "payload-power"
	}
	return "payload-power-" + id[:8]
}
