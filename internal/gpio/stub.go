//go:build !linux

package gpio

// Hardware is not available on non-Linux platforms.
type Hardware struct {
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

// Open returns ErrUnsupported on non-Linux platforms.
func Open(cfg Config) (*Hardware, error) {
	return nil, ErrUnsupported
}

// Close is a no-op on non-Linux platforms.
func (h *Hardware) Close() error {
	return nil
}
