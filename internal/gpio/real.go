//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Hardware owns the relay output and PIR input lines on a GPIO chip.
type Hardware struct {
	chip   *gpiocdev.Chip
	relay  *gpiocdev.Line
	motion *gpiocdev.Line

	Relay  *Relay
	Motion MotionReader
}

// Config selects chip, pins and polarities.
type Config struct {
	Chip            string
	RelayPin        int
	RelayActiveHigh bool
	MotionPin       int
	MotionActiveLow bool
}

// Open requests the relay line as an output already at the on level, so the
// payload is powered as soon as the controller starts, and the PIR line as an
// input with pull-up.
func Open(cfg Config) (*Hardware, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}

	onLevel := 0
	if cfg.RelayActiveHigh {
		onLevel = 1
	}
	relayLine, err := chip.RequestLine(cfg.RelayPin, gpiocdev.AsOutput(onLevel), gpiocdev.WithConsumer("payload-relay"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", cfg.RelayPin, err)
	}

	motionOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer("payload-pir")}
	if cfg.MotionActiveLow {
		motionOpts = append(motionOpts, gpiocdev.AsActiveLow)
	}
	motionLine, err := chip.RequestLine(cfg.MotionPin, motionOpts...)
	if err != nil {
		relayLine.Close()
		chip.Close()
		return nil, fmt.Errorf("request motion pin %d: %w", cfg.MotionPin, err)
	}

	return &Hardware{
		chip:   chip,
		relay:  relayLine,
		motion: motionLine,
		Relay:  NewRelay(relayLine, cfg.RelayActiveHigh),
		Motion: lineMotion{motionLine},
	}, nil
}

type lineMotion struct {
	line *gpiocdev.Line
}

// Read returns the logical PIR level (active-low already applied by the kernel).
func (m lineMotion) Read() (bool, error) {
	v, err := m.line.Value()
	if err != nil {
		return false, fmt.Errorf("read motion pin: %w", err)
	}
	return v == 1, nil
}

// Close releases the lines. The relay keeps its last level.
func (h *Hardware) Close() error {
	var errs []error

	if h.motion != nil {
		if err := h.motion.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close motion pin: %w", err))
		}
	}
	if h.relay != nil {
		if err := h.relay.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
