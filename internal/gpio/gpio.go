// Package gpio drives the payload relay and reads the PIR motion sensor.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "errors"

// ErrUnsupported is returned by Open on platforms without GPIO character devices.
var ErrUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Line is a single output line as seen by the relay driver.
// Values are raw electrical levels (0 or 1).
type Line interface {
	SetValue(value int) error
	Value() (int, error)
}

// MotionReader reads the PIR sensor.
type MotionReader interface {
	// Read returns true while the sensor reports motion.
	Read() (bool, error)
}

// Default pin definitions (BCM numbering).
const (
	DefaultChip      = "gpiochip0"
	DefaultRelayPin  = 16
	DefaultMotionPin = 3
)
