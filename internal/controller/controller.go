// Package controller holds the state shared between the peer handler and the
// main loop, and applies policy decisions to the relay.
//
// Field ownership:
//   - policy, outbox, reading, lastSample, lastMotion: written under mu by
//     both ApplyMode (handler context) and Tick (main loop).
//   - percent: written by Tick under mu, read lock-free by the handler.
//   - cmds: handler sends, Tick receives.
package controller

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/payload-power/internal/battery"
	"github.com/sweeney/payload-power/internal/gpio"
	"github.com/sweeney/payload-power/internal/logic"
	"github.com/sweeney/payload-power/internal/peer"
)

// DefaultSampleInterval is how often the battery is re-sampled.
const DefaultSampleInterval = 10 * time.Second

// Relay is the payload relay driver.
type Relay interface {
	TurnOn() error
	TurnOff() error
	IsOn() (bool, error)
}

// Sampler produces battery readings.
type Sampler interface {
	Sample(now time.Time) (battery.Reading, error)
}

// Config holds loop timing and the clock.
type Config struct {
	SampleInterval time.Duration
	Window         time.Duration

	// Now is used for events raised outside Tick (mode changes). Defaults to time.Now.
	Now func() time.Time
}

// Controller is the shared controller state.
type Controller struct {
	cfg     Config
	relay   Relay
	motion  gpio.MotionReader
	sampler Sampler
	log     zerolog.Logger

	cmds chan peer.Command

	mu         sync.Mutex
	policy     *logic.Policy
	outbox     []logic.Event
	reading    battery.Reading
	lastSample time.Time
	lastMotion bool

	percent atomic.Uint32
}

// New boots the controller: ALWAYS_ON with the payload powered, motion
// history seeded from the current PIR level, and one battery sample taken.
// A low battery at boot enters the cutoff state immediately.
func New(cfg Config, relay Relay, motion gpio.MotionReader, sampler Sampler, logger zerolog.Logger) *Controller {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = logic.DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Controller{
		cfg:     cfg,
		relay:   relay,
		motion:  motion,
		sampler: sampler,
		log:     logger.With().Str("component", "controller").Logger(),
		cmds:    make(chan peer.Command, 1),
	}

	now := cfg.Now()
	m, err := motion.Read()
	if err != nil {
		c.log.Warn().Err(err).Msg("motion read at boot failed, assuming idle")
		m = false
	}
	c.lastMotion = m
	c.policy = logic.NewPolicy(cfg.Window, now, m)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply([]logic.Event{{
		Timestamp: now,
		Type:      logic.EventRelayOn,
		Reason:    logic.ReasonBoot,
		Mode:      logic.ModeAlwaysOn,
		State:     logic.Powered,
	}})
	c.sample(now)
	return c
}

// Commands returns the queue the peer handler writes deferred commands to.
func (c *Controller) Commands() chan<- peer.Command {
	return c.cmds
}

// ApplyMode changes the operating mode and updates the relay before
// returning. It is called from the peer handler, not the main loop.
func (c *Controller) ApplyMode(m logic.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.policy.SetMode(m, c.cfg.Now())
	if events == nil {
		return
	}
	c.drainCommands()
	c.apply(events)
}

// BatteryPercent returns the last computed battery percentage.
func (c *Controller) BatteryPercent() uint8 {
	return uint8(c.percent.Load())
}

// Tick runs one main-loop iteration and returns every event raised since the
// previous call, including mode changes applied by the handler.
func (c *Controller) Tick(now time.Time) []logic.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.policy.CutOff() && now.Sub(c.lastSample) >= c.cfg.SampleInterval {
		c.sample(now)
	}

	if !c.policy.CutOff() {
		m, err := c.motion.Read()
		if err != nil {
			c.log.Warn().Err(err).Msg("motion read failed")
			m = c.lastMotion
		}
		c.lastMotion = m

	drain:
		for {
			select {
			case cmd := <-c.cmds:
				if cmd.Op == peer.OpShutdown {
					c.policy.RequestShutdown()
				}
			default:
				break drain
			}
		}

		c.apply(c.policy.Step(logic.Input{Motion: m, Time: now}))
	}

	out := c.outbox
	c.outbox = nil
	return out
}

// Suspended reports whether the undervoltage cutoff has been entered.
func (c *Controller) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.CutOff()
}

// State is a point-in-time view of the controller.
type State struct {
	Mode            logic.Mode
	Power           logic.PowerState // read back from the relay line
	PendingShutdown bool
	Suspended       bool
	ActiveSince     time.Time
	Battery         battery.Reading
	Counts          logic.EventCounts
}

// State returns a snapshot. Power is read from the relay through its
// polarity mapping; if the read fails the policy's view is reported.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	on, err := c.relay.IsOn()
	if err != nil {
		c.log.Warn().Err(err).Msg("relay read failed")
		on = c.policy.Powered()
	}
	return State{
		Mode:            c.policy.Mode(),
		Power:           logic.PowerStateOf(on),
		PendingShutdown: c.policy.PendingShutdown() || len(c.cmds) > 0,
		Suspended:       c.policy.CutOff(),
		ActiveSince:     c.policy.ActiveSince(),
		Battery:         c.reading,
		Counts:          c.policy.EventCountsSnapshot(),
	}
}

// drainCommands discards queued commands superseded by a mode change.
// Caller must hold mu.
func (c *Controller) drainCommands() {
	for {
		select {
		case <-c.cmds:
		default:
			return
		}
	}
}

// sample refreshes the battery reading. Caller must hold mu.
func (c *Controller) sample(now time.Time) {
	c.lastSample = now
	r, err := c.sampler.Sample(now)
	if err != nil {
		c.log.Warn().Err(err).Msg("battery sample failed, keeping previous reading")
		return
	}
	c.reading = r
	c.percent.Store(uint32(r.Percent))
	c.log.Debug().Float64("volts", r.Voltage).Uint8("percent", r.Percent).Msg("battery")

	if r.Undervoltage {
		c.log.Error().Float64("volts", r.Voltage).Msg("battery below cutoff, relay off, suspending")
		c.apply(c.policy.Cutoff(now))
	}
}

// apply drives the relay for each event and queues it for publishing.
// Caller must hold mu.
func (c *Controller) apply(events []logic.Event) {
	for _, e := range events {
		var err error
		switch e.Type {
		case logic.EventRelayOn, logic.EventRetrigger:
			err = c.relay.TurnOn()
		case logic.EventRelayOff:
			err = c.relay.TurnOff()
		}
		if err != nil {
			c.log.Error().Err(err).Str("event", string(e.Type)).Msg("relay write failed")
		}
		c.log.Info().
			Str("event", string(e.Type)).
			Str("reason", string(e.Reason)).
			Str("mode", string(e.Mode)).
			Msg("transition")
		c.outbox = append(c.outbox, e)
	}
}
