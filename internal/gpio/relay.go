package gpio

import "fmt"

// Relay switches the payload supply. The electrical level that means "on"
// is fixed at construction and used by every method, so reading the state
// back always goes through the same mapping that set it.
type Relay struct {
	line    Line
	onLevel int
}

// NewRelay wraps line. activeHigh selects whether a high level closes the relay.
func NewRelay(line Line, activeHigh bool) *Relay {
	onLevel := 0
	if activeHigh {
		onLevel = 1
	}
	return &Relay{line: line, onLevel: onLevel}
}

// OnLevel returns the raw level written by TurnOn.
func (r *Relay) OnLevel() int {
	return r.onLevel
}

// TurnOn closes the relay. A single write; no retries.
func (r *Relay) TurnOn() error {
	if err := r.line.SetValue(r.onLevel); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	return nil
}

// TurnOff opens the relay.
func (r *Relay) TurnOff() error {
	if err := r.line.SetValue(1 - r.onLevel); err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	return nil
}

// IsOn reports whether the line currently sits at the on level.
func (r *Relay) IsOn() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("relay read: %w", err)
	}
	return v == r.onLevel, nil
}
