package gpio

import "errors"

// FakeLine is an in-memory output line for tests.
type FakeLine struct {
	Level  int
	Writes []int

	// WriteError, if set, is returned by SetValue and the level is left unchanged.
	WriteError error
	// ReadError, if set, is returned by Value.
	ReadError error
}

// SetValue records the write and updates the level.
func (f *FakeLine) SetValue(value int) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Level = value
	f.Writes = append(f.Writes, value)
	return nil
}

// Value returns the current level.
func (f *FakeLine) Value() (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Level, nil
}

// FakeMotion is a test double that returns scripted PIR levels.
type FakeMotion struct {
	// Samples contains scripted levels to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeMotion creates a FakeMotion with the given samples.
func NewFakeMotion(samples ...bool) *FakeMotion {
	return &FakeMotion{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeMotion) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeMotion) Reset() {
	f.index = 0
}
