package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/payload-power/internal/adc"
	"github.com/sweeney/payload-power/internal/battery"
	"github.com/sweeney/payload-power/internal/gpio"
	"github.com/sweeney/payload-power/internal/logic"
	"github.com/sweeney/payload-power/internal/peer"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const tick = 50 * time.Millisecond

// levelMotion is a PIR whose level the test sets directly.
type levelMotion struct {
	level bool
	err   error
}

func (m *levelMotion) Read() (bool, error) { return m.level, m.err }

// clock is a manually advanced clock shared by the test and the controller.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type rig struct {
	ctrl    *Controller
	handler *peer.Handler
	line    *gpio.FakeLine
	relay   *gpio.Relay
	motion  *levelMotion
	adc     *adc.FakeReader
	clock   *clock
}

// code8V is roughly 8V under the default calibration (75%).
const code8V = 327

func newRig(t *testing.T, activeHigh bool, batt battery.Config, code uint16) *rig {
	t.Helper()
	r := &rig{
		line:   &gpio.FakeLine{},
		motion: &levelMotion{},
		adc:    adc.NewFakeReader(code),
		clock:  &clock{t: t0},
	}
	if !activeHigh {
		r.line.Level = 1
	}
	r.relay = gpio.NewRelay(r.line, activeHigh)
	r.ctrl = New(Config{Now: r.clock.Now}, r.relay, r.motion, battery.NewSampler(r.adc, batt), zerolog.Nop())
	r.handler = peer.NewHandler(r.ctrl, r.ctrl.Commands(), zerolog.Nop())
	return r
}

func defaultRig(t *testing.T) *rig {
	return newRig(t, true, battery.DefaultConfig, code8V)
}

// step advances the clock by one tick and runs the controller.
func (r *rig) step() []logic.Event {
	r.clock.Advance(tick)
	return r.ctrl.Tick(r.clock.Now())
}

// run ticks until d has elapsed.
func (r *rig) run(d time.Duration) []logic.Event {
	var out []logic.Event
	for end := r.clock.Now().Add(d); r.clock.Now().Before(end); {
		out = append(out, r.step()...)
	}
	return out
}

func (r *rig) isOn(t *testing.T) bool {
	t.Helper()
	on, err := r.relay.IsOn()
	require.NoError(t, err)
	return on
}

func setMode(r *rig, m logic.Mode) {
	r.handler.OnReceive([]byte{byte(peer.OpSetMode), m.Byte()})
}

func TestBootPowersPayload(t *testing.T) {
	r := defaultRig(t)

	require.True(t, r.isOn(t))
	require.Equal(t, uint8(75), r.ctrl.BatteryPercent())
	require.Equal(t, battery.DefaultSamples, r.adc.Reads, "sampled once at boot")

	events := r.step()
	require.Len(t, events, 1)
	require.Equal(t, logic.EventRelayOn, events[0].Type)
	require.Equal(t, logic.ReasonBoot, events[0].Reason)

	st := r.ctrl.State()
	require.Equal(t, logic.ModeAlwaysOn, st.Mode)
	require.Equal(t, logic.Powered, st.Power)
	require.False(t, st.Suspended)
}

func TestSetModeImmediateRelayState(t *testing.T) {
	for _, activeHigh := range []bool{true, false} {
		r := newRig(t, activeHigh, battery.DefaultConfig, code8V)

		setMode(r, logic.ModeMotion)
		require.False(t, r.isOn(t), "activeHigh=%v: MOTION_TRIGGERED must cut power before OnReceive returns", activeHigh)
		require.Equal(t, logic.Unpowered, r.ctrl.State().Power)

		setMode(r, logic.ModeAlwaysOn)
		require.True(t, r.isOn(t), "activeHigh=%v: ALWAYS_ON must power before OnReceive returns", activeHigh)
		require.Equal(t, logic.Powered, r.ctrl.State().Power)
	}
}

func TestActiveLowLineLevels(t *testing.T) {
	r := newRig(t, false, battery.DefaultConfig, code8V)
	require.Equal(t, 0, r.line.Level, "active-low relay is on at level 0")

	setMode(r, logic.ModeMotion)
	require.Equal(t, 1, r.line.Level)
}

func TestModeEventsReportedOnNextTick(t *testing.T) {
	r := defaultRig(t)
	r.step() // boot event

	setMode(r, logic.ModeMotion)
	events := r.step()
	require.Len(t, events, 2)
	require.Equal(t, logic.EventMode, events[0].Type)
	require.Equal(t, logic.EventRelayOff, events[1].Type)
}

func TestMotionWindow(t *testing.T) {
	r := defaultRig(t)
	setMode(r, logic.ModeMotion)
	r.step()

	r.motion.level = true
	events := r.step()
	edge := r.clock.Now()
	require.Len(t, events, 1)
	require.Equal(t, logic.EventRelayOn, events[0].Type)
	require.True(t, r.isOn(t))

	r.motion.level = false
	r.run(60*time.Second - 2*tick)
	require.True(t, r.isOn(t), "still inside the window")

	r.run(2 * tick)
	require.False(t, r.isOn(t))
	require.True(t, r.clock.Now().Sub(edge) >= 60*time.Second)

	r.run(5 * time.Second)
	require.False(t, r.isOn(t))
}

func TestShutdownInAlwaysOnHasNoEffect(t *testing.T) {
	r := defaultRig(t)
	r.handler.OnReceive([]byte{byte(peer.OpShutdown)})

	r.run(5 * time.Minute)
	require.True(t, r.isOn(t))
	require.True(t, r.ctrl.State().PendingShutdown)
}

func TestShutdownInMotionModeWithinOneTick(t *testing.T) {
	r := defaultRig(t)
	setMode(r, logic.ModeMotion)
	r.motion.level = true
	r.step()
	r.motion.level = false
	require.True(t, r.isOn(t))

	r.handler.OnReceive([]byte{byte(peer.OpShutdown)})
	require.True(t, r.isOn(t), "no relay action from handler context")

	events := r.step()
	require.False(t, r.isOn(t))
	require.Len(t, events, 1)
	require.Equal(t, logic.ReasonShutdown, events[0].Reason)
	require.False(t, r.ctrl.State().PendingShutdown)

	writes := len(r.line.Writes)
	require.Empty(t, r.step(), "second tick performs no further action")
	require.Len(t, r.line.Writes, writes)
}

func TestModeChangeDropsQueuedShutdown(t *testing.T) {
	r := defaultRig(t)
	r.handler.OnReceive([]byte{byte(peer.OpShutdown)})
	setMode(r, logic.ModeMotion)
	require.False(t, r.ctrl.State().PendingShutdown)

	r.motion.level = true
	r.step()
	require.True(t, r.isOn(t), "dropped shutdown must not cut the new activation")
}

func TestSameModeIsNoop(t *testing.T) {
	r := defaultRig(t)
	r.step()
	writes := len(r.line.Writes)

	setMode(r, logic.ModeAlwaysOn)
	require.Len(t, r.line.Writes, writes)
	require.Empty(t, r.step())
}

func TestBatteryResampledEveryInterval(t *testing.T) {
	r := defaultRig(t)
	require.Equal(t, 8, r.adc.Reads)

	r.run(DefaultSampleInterval - tick)
	require.Equal(t, 8, r.adc.Reads)

	r.adc.Set(0)
	r.step()
	require.Equal(t, 16, r.adc.Reads)
	require.Equal(t, uint8(0), r.ctrl.BatteryPercent())
	require.Equal(t, byte(0), r.handler.OnRequest())
}

func TestBatterySampleErrorKeepsReading(t *testing.T) {
	r := defaultRig(t)
	r.adc.ReadError = errors.New("eio")

	r.run(DefaultSampleInterval)
	require.Equal(t, uint8(75), r.ctrl.BatteryPercent())
	require.True(t, r.isOn(t))
}

func TestUndervoltageCutoff(t *testing.T) {
	cfg := battery.DefaultConfig
	cfg.CutoffEnabled = true
	r := newRig(t, true, cfg, code8V)
	setMode(r, logic.ModeMotion)
	r.motion.level = true
	r.step()
	require.True(t, r.isOn(t))

	r.adc.Set(200) // ~4.9V
	events := r.run(DefaultSampleInterval)
	require.False(t, r.isOn(t))
	require.True(t, r.ctrl.Suspended())
	require.Equal(t, logic.EventCutoff, events[len(events)-1].Type)

	// Nothing can re-power it.
	setMode(r, logic.ModeAlwaysOn)
	r.motion.level = false
	r.step()
	r.motion.level = true
	r.step()
	r.handler.OnReceive([]byte{byte(peer.OpShutdown)})
	r.adc.Set(code8V)
	r.run(time.Minute)
	require.False(t, r.isOn(t))
	require.Equal(t, logic.ModeMotion, r.ctrl.State().Mode)
}

func TestUndervoltageAtBoot(t *testing.T) {
	cfg := battery.DefaultConfig
	cfg.CutoffEnabled = true
	r := newRig(t, true, cfg, 200)

	require.False(t, r.isOn(t))
	require.True(t, r.ctrl.Suspended())

	events := r.step()
	require.Len(t, events, 3) // boot RELAY_ON, RELAY_OFF, CUTOFF
	require.Equal(t, logic.EventCutoff, events[2].Type)
	require.Equal(t, 8, r.adc.Reads, "no sampling after cutoff")
}

func TestMotionReadErrorKeepsLastLevel(t *testing.T) {
	r := defaultRig(t)
	setMode(r, logic.ModeMotion)
	r.motion.level = true
	r.step()

	// Error while high must not look like a fresh edge when it clears.
	r.motion.err = errors.New("eio")
	r.step()
	r.motion.err = nil
	events := r.step()
	require.Empty(t, events)
}

func TestRelayWriteErrorDoesNotStopLoop(t *testing.T) {
	r := defaultRig(t)
	r.step()
	r.line.WriteError = errors.New("ebusy")

	setMode(r, logic.ModeMotion)
	events := r.step()
	require.Len(t, events, 2)
	require.Equal(t, logic.Powered, r.ctrl.State().Power, "state comes from the line, not the policy")
}
