// Package logic contains the pure power policy for the payload relay.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Mode is the operating mode selected by the bus peer.
type Mode string

const (
	ModeAlwaysOn Mode = "ALWAYS_ON"
	ModeMotion   Mode = "MOTION_TRIGGERED"
)

// ModeFromByte decodes a SET_MODE payload byte: 0 = ALWAYS_ON, anything else
// is MOTION_TRIGGERED.
func ModeFromByte(b byte) Mode {
	if b == 0 {
		return ModeAlwaysOn
	}
	return ModeMotion
}

// Byte returns the SET_MODE payload byte for m.
func (m Mode) Byte() byte {
	if m == ModeAlwaysOn {
		return 0
	}
	return 1
}

// PowerState is the logical state of the payload supply.
type PowerState string

const (
	Powered   PowerState = "POWERED"
	Unpowered PowerState = "UNPOWERED"
)

// PowerStateOf maps a relay on/off flag to a PowerState.
func PowerStateOf(on bool) PowerState {
	if on {
		return Powered
	}
	return Unpowered
}

// EventType identifies a policy transition.
type EventType string

const (
	EventRelayOn   EventType = "RELAY_ON"
	EventRelayOff  EventType = "RELAY_OFF"
	EventRetrigger EventType = "RETRIGGER" // motion while already powered, window restarted
	EventMode      EventType = "MODE"
	EventCutoff    EventType = "CUTOFF"
)

// Reason records what caused a transition.
type Reason string

const (
	ReasonBoot         Reason = "BOOT"
	ReasonMode         Reason = "MODE"
	ReasonMotion       Reason = "MOTION"
	ReasonTimeout      Reason = "TIMEOUT"
	ReasonShutdown     Reason = "SHUTDOWN"
	ReasonUndervoltage Reason = "UNDERVOLTAGE"
)

// Event is a transition to be applied to the relay and published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Reason    Reason
	Mode      Mode
	State     PowerState
}

// Input is one main-loop sample.
type Input struct {
	Motion bool // true = PIR output active
	Time   time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	RelayOn   int
	RelayOff  int
	Retrigger int
	Mode      int
	Cutoff    int
}

func (c *EventCounts) add(events []Event) {
	for _, e := range events {
		switch e.Type {
		case EventRelayOn:
			c.RelayOn++
		case EventRelayOff:
			c.RelayOff++
		case EventRetrigger:
			c.Retrigger++
		case EventMode:
			c.Mode++
		case EventCutoff:
			c.Cutoff++
		}
	}
}
