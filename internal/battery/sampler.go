// Package battery turns averaged ADC reads into a battery reading and flags
// undervoltage.
package battery

import (
	"fmt"
	"time"

	"github.com/sweeney/payload-power/internal/adc"
	"github.com/sweeney/payload-power/internal/logic"
)

// DefaultSamples is the number of conversions averaged per reading.
const DefaultSamples = 8

// Config holds the sampler calibration and cutoff settings.
type Config struct {
	Calibration logic.Calibration
	Samples     int

	CutoffEnabled bool
	CutoffVolts   float64
}

// DefaultConfig has cutoff checking disabled.
var DefaultConfig = Config{
	Calibration: logic.DefaultCalibration,
	Samples:     DefaultSamples,
	CutoffVolts: 5.4,
}

// Reading is one averaged battery measurement.
type Reading struct {
	Time         time.Time
	Raw          uint16  // averaged ADC code
	Voltage      float64 // pack voltage
	Percent      uint8   // 0..100
	Undervoltage bool    // cutoff enabled and Voltage < CutoffVolts
}

// Sampler reads the battery-sense channel.
type Sampler struct {
	adc adc.Reader
	cfg Config
}

// NewSampler creates a sampler. A non-positive sample count uses DefaultSamples.
func NewSampler(r adc.Reader, cfg Config) *Sampler {
	if cfg.Samples <= 0 {
		cfg.Samples = DefaultSamples
	}
	return &Sampler{adc: r, cfg: cfg}
}

// Sample averages cfg.Samples consecutive conversions. Any failed conversion
// fails the whole reading.
func (s *Sampler) Sample(now time.Time) (Reading, error) {
	var sum uint32
	for i := 0; i < s.cfg.Samples; i++ {
		code, err := s.adc.ReadRaw()
		if err != nil {
			return Reading{}, fmt.Errorf("battery sample %d/%d: %w", i+1, s.cfg.Samples, err)
		}
		sum += uint32(code)
	}
	raw := uint16(sum / uint32(s.cfg.Samples))

	v := s.cfg.Calibration.Voltage(raw)
	return Reading{
		Time:         now,
		Raw:          raw,
		Voltage:      v,
		Percent:      s.cfg.Calibration.Percent(v),
		Undervoltage: s.cfg.CutoffEnabled && v < s.cfg.CutoffVolts,
	}, nil
}
