package logic

import "time"

// DefaultWindow is how long the payload stays powered after a motion edge.
const DefaultWindow = 60 * time.Second

// Policy decides when the payload relay changes state.
// It is not safe for concurrent use; the controller serialises access.
type Policy struct {
	window time.Duration

	mode            Mode
	powered         bool
	onSince         time.Time
	lastMotion      bool
	pendingShutdown bool
	cutoff          bool

	counts EventCounts
}

// NewPolicy creates a policy in ALWAYS_ON with the payload powered from now.
// motion seeds the edge detector so a PIR that is already high at boot does
// not count as a rising edge.
func NewPolicy(window time.Duration, now time.Time, motion bool) *Policy {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Policy{
		window:     window,
		mode:       ModeAlwaysOn,
		powered:    true,
		onSince:    now,
		lastMotion: motion,
	}
}

// SetMode applies a mode change. A request for the current mode is ignored.
// ALWAYS_ON powers the payload and restarts the window; MOTION_TRIGGERED
// withdraws power until the next motion edge. Any pending shutdown request
// is dropped.
func (p *Policy) SetMode(m Mode, now time.Time) []Event {
	if p.cutoff || m == p.mode {
		return nil
	}

	p.mode = m
	p.pendingShutdown = false

	relay := EventRelayOff
	if m == ModeAlwaysOn {
		p.powered = true
		p.onSince = now
		relay = EventRelayOn
	} else {
		p.powered = false
	}

	events := []Event{
		p.event(now, EventMode, ReasonMode),
		p.event(now, relay, ReasonMode),
	}

	p.counts.add(events)
	return events
}

// RequestShutdown raises the one-shot shutdown flag. It is honoured by the
// next Step in MOTION_TRIGGERED mode and has no effect in ALWAYS_ON.
func (p *Policy) RequestShutdown() {
	if p.cutoff {
		return
	}
	p.pendingShutdown = true
}

// Step runs one loop tick: motion edge, activation timeout, then pending
// shutdown, in that order.
func (p *Policy) Step(in Input) []Event {
	if p.cutoff {
		return nil
	}

	var events []Event

	rising := in.Motion && !p.lastMotion
	p.lastMotion = in.Motion

	if p.mode != ModeMotion {
		return nil
	}

	if rising {
		typ := EventRelayOn
		if p.powered {
			typ = EventRetrigger
		}
		p.powered = true
		p.onSince = in.Time
		events = append(events, p.event(in.Time, typ, ReasonMotion))
	}

	if p.powered && in.Time.Sub(p.onSince) >= p.window {
		p.powered = false
		events = append(events, p.event(in.Time, EventRelayOff, ReasonTimeout))
	}

	if p.pendingShutdown {
		p.pendingShutdown = false
		if p.powered {
			p.powered = false
			events = append(events, p.event(in.Time, EventRelayOff, ReasonShutdown))
		}
	}

	p.counts.add(events)
	return events
}

// Cutoff enters the terminal undervoltage state. The relay is forced off and
// every later call on the policy is a no-op.
func (p *Policy) Cutoff(now time.Time) []Event {
	if p.cutoff {
		return nil
	}
	p.cutoff = true
	p.powered = false
	p.pendingShutdown = false

	events := []Event{
		p.event(now, EventRelayOff, ReasonUndervoltage),
		p.event(now, EventCutoff, ReasonUndervoltage),
	}
	p.counts.add(events)
	return events
}

func (p *Policy) event(now time.Time, typ EventType, reason Reason) Event {
	return Event{
		Timestamp: now,
		Type:      typ,
		Reason:    reason,
		Mode:      p.mode,
		State:     PowerStateOf(p.powered),
	}
}

// Mode returns the current operating mode.
func (p *Policy) Mode() Mode {
	return p.mode
}

// Powered reports whether the policy wants the payload powered.
func (p *Policy) Powered() bool {
	return p.powered
}

// PendingShutdown reports whether a shutdown request is waiting.
func (p *Policy) PendingShutdown() bool {
	return p.pendingShutdown
}

// CutOff reports whether the terminal undervoltage state was entered.
func (p *Policy) CutOff() bool {
	return p.cutoff
}

// ActiveSince returns the start of the current activation window.
func (p *Policy) ActiveSince() time.Time {
	return p.onSince
}

// EventCountsSnapshot returns a copy of the event counters.
func (p *Policy) EventCountsSnapshot() EventCounts {
	return p.counts
}
