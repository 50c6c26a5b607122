// Package adc reads raw codes from the battery-sense analog channel.
package adc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrNoSamples is returned by FakeReader when no codes are scripted.
var ErrNoSamples = errors.New("adc: no samples configured")

// DefaultPath is the first channel of the first IIO device.
const DefaultPath = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"

// Reader returns one raw conversion per call.
type Reader interface {
	ReadRaw() (uint16, error)
}

// IIOReader reads a Linux IIO raw channel file. Each read triggers one
// conversion in the kernel driver.
type IIOReader struct {
	Path string
}

// NewIIOReader returns a reader for path, or DefaultPath if empty.
func NewIIOReader(path string) *IIOReader {
	if path == "" {
		path = DefaultPath
	}
	return &IIOReader{Path: path}
}

// ReadRaw reads and parses one conversion.
func (r *IIOReader) ReadRaw() (uint16, error) {
	b, err := os.ReadFile(r.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r.Path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", r.Path, err)
	}
	return uint16(v), nil
}

// FakeReader is a test double that returns scripted codes.
type FakeReader struct {
	// Codes contains scripted values; each ReadRaw consumes one and the last
	// one repeats.
	Codes []uint16

	index int

	// ReadError, if set, will be returned by ReadRaw.
	ReadError error

	// Reads counts ReadRaw calls.
	Reads int
}

// NewFakeReader creates a FakeReader with the given codes.
func NewFakeReader(codes ...uint16) *FakeReader {
	return &FakeReader{Codes: codes}
}

// ReadRaw returns the next scripted code.
func (f *FakeReader) ReadRaw() (uint16, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Codes) == 0 {
		return 0, ErrNoSamples
	}
	c := f.Codes[f.index]
	if f.index < len(f.Codes)-1 {
		f.index++
	}
	return c, nil
}

// Set replaces the script with a single constant code.
func (f *FakeReader) Set(code uint16) {
	f.Codes = []uint16{code}
	f.index = 0
}
